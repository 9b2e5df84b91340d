// Package mux implements the Multiplexer layer: the boundary between
// Address-typed PDUs (used above, in BIPSimple/BIPForeign/BIPBBMD) and
// (ip, port) tuples (used below, in vnet.PacketConn and internal/netio).
//
// The Address vocabulary (internal/bacaddr) and the raw tuple vocabulary
// (net/netip) are kept strictly separate, with Multiplexer as the single
// conversion point between them — translate exactly at the boundary,
// nowhere else.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/stack"
	"github.com/bacstack/bacstack/internal/vnet"
)

// ErrUnroutableDestination indicates a downward PDU's destination Address
// variant cannot be expressed as a lower-layer tuple: any variant other
// than LocalStation or LocalBroadcast is a fatal error for this layer.
var ErrUnroutableDestination = errors.New("mux: destination address variant has no tuple form")

// Multiplexer is the Client/Server stack.Layer translating Address PDUs
// above into tuple PDUs below, and back.
type Multiplexer struct {
	stack.Base

	conn   vnet.PacketConn
	own    bacaddr.Address
	prefix int
	logger *slog.Logger
}

// New constructs a Multiplexer bound to conn, whose own unicast address is
// own (a LocalStation) with subnet prefix length prefixLen (used to
// compute the local broadcast tuple).
func New(conn vnet.PacketConn, own bacaddr.Address, prefixLen int, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multiplexer{
		conn:   conn,
		own:    own,
		prefix: prefixLen,
		logger: logger.With(slog.String("component", "mux")),
	}
	m.Base = stack.NewBase(m.logger)
	return m
}

// Request is the public downward entry point; it delegates to Indication,
// per the stack package's Client/Server convention.
func (m *Multiplexer) Request(ctx context.Context, p *pdu.PDU) error {
	return m.Indication(ctx, p)
}

// Indication implements stack.Server: translates a downward Address-addressed
// PDU into a tuple-addressed send on the bound vnet.PacketConn. As the
// bottom of the stack, it never calls Indicate further — the vnet.PacketConn
// write is the terminal step.
func (m *Multiplexer) Indication(_ context.Context, p *pdu.PDU) error {
	dstTuple, err := m.lowerDestination(p.Destination)
	if err != nil {
		return err
	}

	// Source is always this multiplexer's own unicast tuple;
	// conn.WritePacket stamps it from conn.LocalAddr(), so validating here
	// only guards against a misconfigured own address.
	if _, err := m.own.AddrTuple(); err != nil {
		return fmt.Errorf("mux: own address has no tuple form: %w", err)
	}

	return m.conn.WritePacket(p.Data, dstTuple)
}

// lowerDestination implements the downward translation rule: LocalBroadcast
// maps to the subnet broadcast tuple, LocalStation to its own tuple, and
// anything else is unroutable at this layer.
func (m *Multiplexer) lowerDestination(dst pdu.Endpoint) (netip.AddrPort, error) {
	if !dst.IsAddr() {
		// Already tuple-addressed (e.g. re-delivery); pass through.
		ap, err := netip.ParseAddrPort(dst.Tuple())
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrUnroutableDestination, dst.Tuple())
		}
		return ap, nil
	}

	addr := dst.Addr()
	switch addr.Kind {
	case bacaddr.KindLocalBroadcast:
		return m.own.BroadcastTuple(m.prefix)
	case bacaddr.KindLocalStation:
		return addr.AddrTuple()
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrUnroutableDestination, addr.Kind)
	}
}

// Deliver is called by the transport receive loop with a packet read off
// the bound vnet.PacketConn; it translates the tuple source/destination
// upward into Address form and forwards the result as a Confirmation.
func (m *Multiplexer) Deliver(ctx context.Context, data []byte, meta vnet.PacketMeta) error {
	src, err := bacaddr.LocalStationFromAddrPort(meta.Src)
	if err != nil {
		return fmt.Errorf("mux: source tuple %s: %w", meta.Src, err)
	}

	dst, err := m.upperDestination(meta.Dst)
	if err != nil {
		return err
	}

	p := pdu.New(data, pdu.AddrEndpoint(src), pdu.AddrEndpoint(dst))
	return m.Confirm(ctx, p)
}

// Confirmation exists only to satisfy stack.Layer: Multiplexer sits at the
// bottom of the stack, so nothing below it ever calls up into it. The real
// upward entry point is Deliver, driven directly by the transport receive
// loop. A call here indicates a miswired stack.
func (m *Multiplexer) Confirmation(ctx context.Context, p *pdu.PDU) error {
	m.logger.WarnContext(ctx, "unexpected Confirmation call on bottom-of-stack Multiplexer")
	return nil
}

// upperDestination maps a destination tuple back to Address form: equal to
// this multiplexer's own broadcast tuple becomes LocalBroadcast, anything
// else becomes a LocalStation.
func (m *Multiplexer) upperDestination(dst netip.AddrPort) (bacaddr.Address, error) {
	ownBcast, err := m.own.BroadcastTuple(m.prefix)
	if err != nil {
		return bacaddr.Address{}, fmt.Errorf("mux: own broadcast tuple: %w", err)
	}
	if dst == ownBcast {
		return bacaddr.LocalBroadcast(), nil
	}
	return bacaddr.LocalStationFromAddrPort(dst)
}
