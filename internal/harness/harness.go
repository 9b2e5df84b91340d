// Package harness provides send/receive assertion helpers for driving a
// bound BACnet/IP stack over a vnet.Network in tests.
//
// Built in the same "build the thing under test, push events at it, assert
// on what came out" shape as a table-driven FSM test harness, adapted to a
// bound Multiplexer+BIP stack talking over the virtual IP substrate.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bip"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/mux"
	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/stack"
	"github.com/bacstack/bacstack/internal/timesource"
	"github.com/bacstack/bacstack/internal/vnet"
)

// DefaultTimeout bounds how long Expect-style helpers wait for a delivery
// that the virtual substrate's channel-based transport should otherwise
// deliver near-instantly; it exists only to fail fast on a genuinely
// missing delivery rather than hang a test.
const DefaultTimeout = 2 * time.Second

// recorder captures upward Confirmation calls delivered to the top of a
// bound stack, making them available to Expect via a buffered channel.
type recorder struct {
	ch chan *pdu.PDU
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan *pdu.PDU, 64)}
}

func (r *recorder) Confirmation(_ context.Context, p *pdu.PDU) error {
	select {
	case r.ch <- p:
	default:
	}
	return nil
}

func (r *recorder) next(ctx context.Context) (*pdu.PDU, error) {
	select {
	case p := <-r.ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StackNode is a fully bound Multiplexer+BIP stack attached to a vnet.Node,
// with a background pump delivering inbound packets up through the stack
// and a recorder exposing the application-layer confirmations that reach
// the top.
type StackNode struct {
	Addr bacaddr.Address

	layer  stack.Layer
	mux    *mux.Multiplexer
	conn   *vnet.Node
	top    *recorder
	bound  *stack.BoundStack
	cancel context.CancelFunc
}

func newStackNode(t *testing.T, network *vnet.Network, addr bacaddr.Address, prefixLen int, layer stack.Layer, logger *slog.Logger, opts ...vnet.NodeOption) *StackNode {
	t.Helper()

	tuple, err := addr.AddrTuple()
	if err != nil {
		t.Fatalf("harness: address %s has no tuple form: %v", addr, err)
	}
	conn, err := network.AddNode(tuple, opts...)
	if err != nil {
		t.Fatalf("harness: AddNode(%s): %v", tuple, err)
	}

	m := mux.New(conn, addr, prefixLen, logger)
	bound, err := stack.Bind(layer, m)
	if err != nil {
		t.Fatalf("harness: Bind: %v", err)
	}
	top := newRecorder()
	layer.SetClient(top)

	ctx, cancel := context.WithCancel(context.Background())
	n := &StackNode{
		Addr:   addr,
		layer:  layer,
		mux:    m,
		conn:   conn,
		top:    top,
		bound:  bound,
		cancel: cancel,
	}
	go n.pump(ctx)
	t.Cleanup(n.Close)
	return n
}

// NewSimpleStation constructs a StackNode running a non-BBMD BIPSimple
// layer at addr on network.
func NewSimpleStation(t *testing.T, network *vnet.Network, addr bacaddr.Address, prefixLen int, logger *slog.Logger, opts ...vnet.NodeOption) *StackNode {
	t.Helper()
	return newStackNode(t, network, addr, prefixLen, bip.NewSimple(addr, logger), logger, opts...)
}

// NewForeignStation constructs a StackNode running a BIPForeign layer
// registered (once Start is called) with bbmd for the given ttl.
func NewForeignStation(t *testing.T, network *vnet.Network, addr, bbmd bacaddr.Address, ttl uint16, prefixLen int, clock timesource.TimeSource, logger *slog.Logger, opts ...vnet.NodeOption) (*StackNode, *bip.Foreign) {
	t.Helper()
	f := bip.NewForeign(addr, bbmd, ttl, clock, logger)
	n := newStackNode(t, network, addr, prefixLen, f, logger, opts...)
	return n, f
}

// NewBBMDStation constructs a StackNode running a BIPBBMD layer at addr,
// with bdt/fdt as the initial table contents. Pass a nil bdt/fdt to start
// with empty tables and populate them later via the returned *bip.BBMD.
func NewBBMDStation(t *testing.T, network *vnet.Network, addr bacaddr.Address, prefixLen int, bdt []bip.BDTEntry, clock timesource.TimeSource, logger *slog.Logger, opts ...vnet.NodeOption) (*StackNode, *bip.BBMD) {
	t.Helper()
	b := bip.NewBBMD(addr, prefixLen, clock, logger)
	if len(bdt) > 0 {
		if err := b.BDT().Replace(bdt); err != nil {
			t.Fatalf("harness: seed BDT: %v", err)
		}
	}
	n := newStackNode(t, network, addr, prefixLen, b, logger, opts...)
	return n, b
}

func (n *StackNode) pump(ctx context.Context) {
	for {
		data, meta, err := n.conn.ReadPacket(ctx)
		if err != nil {
			return
		}
		_ = n.mux.Deliver(ctx, data, meta)
	}
}

// Close stops the delivery pump and closes the underlying vnet.Node.
// Safe to call more than once.
func (n *StackNode) Close() {
	n.cancel()
	_ = n.conn.Close()
}

// Send issues a downward Request carrying npdu as an Address-addressed
// PDU from this node to dst.
func (n *StackNode) Send(ctx context.Context, dst bacaddr.Address, npdu []byte) error {
	p := pdu.New(npdu, pdu.AddrEndpoint(n.Addr), pdu.AddrEndpoint(dst))
	return n.layer.Request(ctx, p)
}

// Expect blocks until the next application-layer confirmation arrives at
// the top of this node's stack, or timeout elapses.
func (n *StackNode) Expect(t *testing.T, timeout time.Duration) *pdu.PDU {
	t.Helper()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p, err := n.top.next(ctx)
	if err != nil {
		t.Fatalf("harness: Expect on %s: %v", n.Addr, err)
	}
	return p
}

// ExpectMatch blocks for the next confirmation and asserts its source
// address satisfies filter under the address model's Match semantics.
func (n *StackNode) ExpectMatch(t *testing.T, filter bacaddr.Address, timeout time.Duration) *pdu.PDU {
	t.Helper()
	p := n.Expect(t, timeout)
	ok, err := bacaddr.Match(p.Source.Addr(), filter)
	if err != nil {
		t.Fatalf("harness: Match(%s, %s): %v", p.Source, filter, err)
	}
	if !ok {
		t.Fatalf("harness: source %s does not match filter %s", p.Source, filter)
	}
	return p
}

// ExpectNone asserts that no confirmation arrives at this node within
// timeout — used to assert the no-loop / exactly-once delivery invariants.
func ExpectNone(t *testing.T, n *StackNode, timeout time.Duration) {
	t.Helper()
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if p, err := n.top.next(ctx); err == nil {
		t.Fatalf("harness: unexpected confirmation on %s: %+v", n.Addr, p)
	}
}

// Driver is a bare vnet.Node with no bound BIP stack, used to play a
// "test driver" role in end-to-end scenarios: a peer that crafts and
// reads raw BVLL frames directly, the way a BACnet conformance test tool
// would.
type Driver struct {
	Addr bacaddr.Address
	conn *vnet.Node
}

// NewDriver registers a raw vnet.Node at addr with no bound stack above it.
func NewDriver(t *testing.T, network *vnet.Network, addr bacaddr.Address, opts ...vnet.NodeOption) *Driver {
	t.Helper()
	tuple, err := addr.AddrTuple()
	if err != nil {
		t.Fatalf("harness: address %s has no tuple form: %v", addr, err)
	}
	conn, err := network.AddNode(tuple, opts...)
	if err != nil {
		t.Fatalf("harness: AddNode(%s): %v", tuple, err)
	}
	d := &Driver{Addr: addr, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return d
}

// SendFrame writes a raw BVLL frame to dst's (ip, port) tuple.
func (d *Driver) SendFrame(dst bacaddr.Address, frame []byte) error {
	tuple, err := dst.AddrTuple()
	if err != nil {
		return fmt.Errorf("harness: destination %s has no tuple form: %w", dst, err)
	}
	return d.conn.WritePacket(frame, tuple)
}

// SendFrameToTuple writes a raw BVLL frame directly to a (ip, port), for
// scenarios addressing a subnet broadcast tuple rather than a station.
func (d *Driver) SendFrameToTuple(dst netip.AddrPort, frame []byte) error {
	return d.conn.WritePacket(frame, dst)
}

// ExpectFrame blocks until the next raw BVLL frame arrives at this driver,
// or timeout elapses, and decodes it.
func (d *Driver) ExpectFrame(t *testing.T, timeout time.Duration) bvll.Frame {
	t.Helper()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, _, err := d.conn.ReadPacket(ctx)
	if err != nil {
		t.Fatalf("harness: ExpectFrame on %s: %v", d.Addr, err)
	}
	frame, err := bvll.Decode(data)
	if err != nil {
		t.Fatalf("harness: ExpectFrame decode: %v", err)
	}
	return frame
}

// ExpectNoFrame asserts that no frame arrives at this driver within
// timeout — the Driver-side counterpart to ExpectNone, used to assert
// the no-loop invariant when the driver plays a peer station rather than
// a bare test probe.
func (d *Driver) ExpectNoFrame(t *testing.T, timeout time.Duration) {
	t.Helper()
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if data, _, err := d.conn.ReadPacket(ctx); err == nil {
		frame, decErr := bvll.Decode(data)
		if decErr != nil {
			t.Fatalf("harness: unexpected undecodable frame on %s: %v", d.Addr, decErr)
		}
		t.Fatalf("harness: unexpected frame on %s: %+v", d.Addr, frame)
	}
}

// ExpectResult blocks for the next frame and asserts it is a Result frame
// carrying the given result code.
func (d *Driver) ExpectResult(t *testing.T, want bvll.ResultCode, timeout time.Duration) {
	t.Helper()
	frame := d.ExpectFrame(t, timeout)
	if frame.Function != bvll.FunctionResult {
		t.Fatalf("harness: function = %v, want Result", frame.Function)
	}
	got, err := bvll.DecodeResult(frame.Payload)
	if err != nil {
		t.Fatalf("harness: DecodeResult: %v", err)
	}
	if got != want {
		t.Fatalf("harness: result code = %v, want %v", got, want)
	}
}

// SendAndExpectResult sends frame to dst and asserts the next frame this
// driver receives is a Result carrying want.
func (d *Driver) SendAndExpectResult(t *testing.T, dst bacaddr.Address, frame []byte, want bvll.ResultCode, timeout time.Duration) {
	t.Helper()
	if err := d.SendFrame(dst, frame); err != nil {
		t.Fatalf("harness: SendFrame: %v", err)
	}
	d.ExpectResult(t, want, timeout)
}
