// Package pdu defines the PDU type that carries payload bytes plus
// source/destination endpoints and opaque BACnet metadata as it flows
// between layers of the stack.
package pdu

import "github.com/bacstack/bacstack/internal/bacaddr"

// Meta carries opaque BACnet control-bit/user-data metadata that a layer
// attaches to a PDU and that subsequent layers must preserve across
// Clone. The stack never interprets these fields; it only plumbs them
// through.
type Meta struct {
	// Expedited marks a PDU that should be prioritized (BACnet network
	// priority, carried opaquely).
	Expedited bool

	// NetworkPriority is the NPDU-layer priority class (0..3), carried
	// opaquely by the core.
	NetworkPriority uint8

	// UserData holds arbitrary caller-attached metadata (e.g. the
	// originating request's trace ID). The core never reads this.
	UserData any
}

// Endpoint is either an Address (upper-layer boundary) or a raw network
// tuple (lower-layer boundary). Exactly one of the two fields is
// populated; IsAddr reports which.
type Endpoint struct {
	addr     bacaddr.Address
	hasAddr  bool
	tupleStr string // netip.AddrPort.String(), kept as a string to avoid importing netip here twice
}

// AddrEndpoint wraps a bacaddr.Address as an Endpoint.
func AddrEndpoint(a bacaddr.Address) Endpoint {
	return Endpoint{addr: a, hasAddr: true}
}

// TupleEndpoint wraps a raw (ip, port) tuple, rendered as its string form,
// as an Endpoint. BBMD constructs them to address a BDT peer's forward
// tuple; the multiplexer consumes them, passing the tuple through as is.
func TupleEndpoint(tuple string) Endpoint {
	return Endpoint{tupleStr: tuple}
}

// IsAddr reports whether the endpoint carries an Address (vs. a raw tuple).
func (e Endpoint) IsAddr() bool { return e.hasAddr }

// Addr returns the carried Address. Only valid when IsAddr() is true.
func (e Endpoint) Addr() bacaddr.Address { return e.addr }

// Tuple returns the carried raw tuple string. Only valid when IsAddr() is false.
func (e Endpoint) Tuple() string { return e.tupleStr }

// String renders the endpoint for logging.
func (e Endpoint) String() string {
	if e.hasAddr {
		return e.addr.String()
	}
	return e.tupleStr
}

// PDU owns payload bytes, source/destination endpoints, and metadata.
// Source and destination endpoint kinds (Address vs. tuple) may differ by
// layer; the multiplexer is the boundary that translates between them.
type PDU struct {
	Data        []byte
	Source      Endpoint
	Destination Endpoint
	Meta        Meta
}

// New constructs a PDU with the given data and endpoints.
func New(data []byte, src, dst Endpoint) *PDU {
	return &PDU{Data: data, Source: src, Destination: dst}
}

// Clone constructs a new PDU from p, copying metadata and replacing
// data/source/destination.
func (p *PDU) Clone(data []byte, src, dst Endpoint) *PDU {
	return &PDU{
		Data:        data,
		Source:      src,
		Destination: dst,
		Meta:        p.Meta,
	}
}
