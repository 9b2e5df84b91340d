// Package stack provides the layer-composition primitive of the protocol
// stack: each layer exposes a Client capability (receives a downward
// Request, emits an upward Confirmation) and a Server capability (receives
// an upward Response, emits a downward Indication). Bind wires a
// top-to-bottom sequence of layers together, each layer aware only of its
// immediate neighbours.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bacstack/bacstack/internal/pdu"
)

// ErrNotBound indicates a call was made on a layer with no bound neighbour
// in the required direction.
var ErrNotBound = errors.New("stack: layer has no bound neighbour in that direction")

// Client is the downward-facing capability exposed to whatever sits above
// a layer (an application, or nothing, for the topmost layer in a bound
// stack). Request is the public downward entry point; by convention a
// layer implements it as a thin delegate to its own Indication method —
// the two exist as separate names only so an external, non-Layer caller
// has an entry point distinct from the one Bind wires between neighbours.
type Client interface {
	// Request delivers a PDU downward into the layer.
	Request(ctx context.Context, p *pdu.PDU) error
}

// Server is the upward-facing capability exposed to whatever sits above a
// layer. Indication is where a layer's real downward processing lives: it
// is invoked by the layer above (via that layer's Indicate helper) when a
// PDU is pushed down across a Bind-wired edge. After transforming the PDU,
// an Indication implementation that needs to continue propagating it
// further down calls its own Indicate helper in turn.
type Server interface {
	// Indication delivers a PDU downward from the layer above into this one.
	Indication(ctx context.Context, p *pdu.PDU) error
}

// Confirmer is implemented by anything that can receive an upward
// confirmation — ordinarily the layer immediately above. Confirmation is
// where a layer's real upward processing lives, symmetric to Indication:
// invoked by the layer below (via its Confirm helper), and an
// implementation that needs to continue propagating the result further up
// calls its own Confirm helper in turn.
type Confirmer interface {
	Confirmation(ctx context.Context, p *pdu.PDU) error
}

// Responder is the upward-facing public entry point, symmetric to Client:
// by convention a layer implements it as a thin delegate to its own
// Confirmation method.
type Responder interface {
	Response(ctx context.Context, p *pdu.PDU) error
}

// Layer is the full shape a stack element may implement. A layer that is
// only ever bound at the top or bottom of a stack need not meaningfully
// implement every method — a dead-end debug layer may simply log and
// return nil.
type Layer interface {
	// SetClient records the neighbour above, used for upward Confirmation.
	SetClient(Confirmer)

	// SetServer records the neighbour below, used for downward Indication.
	SetServer(Server)

	Client
	Server
	Confirmer
	Responder
}

// Base is an embeddable implementation of the neighbour-tracking half of
// Layer. Concrete layers embed Base and implement Request/Indication
// themselves, calling base.Indicate/base.Confirm to pass data to their
// bound neighbour.
//
// Binding is expressed as forward references only (client points up,
// server points down) held by Base, never a layer holding a pointer back
// to the slice that bound it, so no ownership cycle forms between layers.
type Base struct {
	client Confirmer
	server Server
	logger *slog.Logger
}

// NewBase constructs a Base with a logger for dead-end/unbound diagnostics.
func NewBase(logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{logger: logger}
}

// SetClient implements Layer.
func (b *Base) SetClient(c Confirmer) { b.client = c }

// SetServer implements Layer.
func (b *Base) SetServer(s Server) { b.server = s }

// Confirm delivers p upward to the bound client, if any. A layer at the
// top of a stack with no client logs and drops.
func (b *Base) Confirm(ctx context.Context, p *pdu.PDU) error {
	if b.client == nil {
		b.logger.DebugContext(ctx, "confirmation dropped: no bound client")
		return nil
	}
	return b.client.Confirmation(ctx, p)
}

// Indicate delivers p downward to the bound server, if any.
func (b *Base) Indicate(ctx context.Context, p *pdu.PDU) error {
	if b.server == nil {
		b.logger.DebugContext(ctx, "indication dropped: no bound server")
		return nil
	}
	return b.server.Indication(ctx, p)
}

// Response is a harmless default for a layer that never overrides it: it
// forwards p up unchanged via Confirm. Concrete layers with real upward
// processing define their own Response delegating to their own
// Confirmation instead, per the Responder/Confirmer convention.
func (b *Base) Response(ctx context.Context, p *pdu.PDU) error {
	return b.Confirm(ctx, p)
}

// BoundStack is the externally-owned record of a bound layer sequence.
// It exists purely for introspection and orderly teardown; the actual
// call routing happens through the Base.client/server references set up
// by Bind.
type BoundStack struct {
	layers []Layer
}

// Bind wires layers top-to-bottom: layers[0] is topmost. Each layer's
// SetServer is pointed at its downward neighbour and each layer's
// SetClient at its upward neighbour. Bind requires at least one layer.
func Bind(layers ...Layer) (*BoundStack, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("stack: Bind requires at least one layer")
	}
	for i, l := range layers {
		if i+1 < len(layers) {
			l.SetServer(layers[i+1])
		}
		if i > 0 {
			l.SetClient(layers[i-1])
		}
	}
	return &BoundStack{layers: append([]Layer(nil), layers...)}, nil
}

// Top returns the topmost (application-facing) layer.
func (s *BoundStack) Top() Layer { return s.layers[0] }

// Bottom returns the bottommost (transport-facing) layer.
func (s *BoundStack) Bottom() Layer { return s.layers[len(s.layers)-1] }

// Layers returns the bound sequence, topmost first.
func (s *BoundStack) Layers() []Layer {
	out := make([]Layer, len(s.layers))
	copy(out, s.layers)
	return out
}
