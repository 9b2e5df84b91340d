package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/bacstack/bacstack/internal/bvll"
)

// ErrControlTimeout indicates no matching reply frame arrived before the
// deadline passed to requestReply.
var ErrControlTimeout = errors.New("bacstackd: control request timed out")

// ErrControlBusy indicates a second control request was attempted while
// one was already outstanding; bacstackctl issues one request at a time,
// so this should only fire if something else is driving the endpoint
// concurrently.
var ErrControlBusy = errors.New("bacstackd: a control request is already outstanding")

// control lets the inspection HTTP handlers issue a raw BVLL request over
// the node's own transport and wait for the matching reply, the way
// harness.Driver drives a peer in tests — but against a live socket
// instead of the virtual substrate. Only one request may be outstanding
// at a time.
type control struct {
	conn writePacketer

	mu      sync.Mutex
	waiting bool
	want    bvll.Function
	replyCh chan bvll.Frame
}

// writePacketer is the minimal surface control needs from the node's conn.
type writePacketer interface {
	WritePacket(data []byte, dst netip.AddrPort) error
}

func newControl(conn writePacketer) *control {
	return &control{conn: conn}
}

// observe is called by the pump with every decoded inbound frame, before
// it is handed to the bound stack; if a control request is outstanding
// and fn matches, the frame is delivered to the waiter non-blocking.
func (c *control) observe(fn bvll.Function, frame bvll.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.waiting || fn != c.want {
		return
	}
	select {
	case c.replyCh <- frame:
	default:
	}
}

// requestReply sends payload to dst and waits up to timeout for a reply
// frame whose function is want.
func (c *control) requestReply(ctx context.Context, dst netip.AddrPort, payload []byte, want bvll.Function, timeout time.Duration) (bvll.Frame, error) {
	c.mu.Lock()
	if c.waiting {
		c.mu.Unlock()
		return bvll.Frame{}, ErrControlBusy
	}
	c.waiting = true
	c.want = want
	c.replyCh = make(chan bvll.Frame, 1)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.waiting = false
		c.mu.Unlock()
	}()

	if err := c.conn.WritePacket(payload, dst); err != nil {
		return bvll.Frame{}, fmt.Errorf("send request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case frame := <-c.replyCh:
		return frame, nil
	case <-ctx.Done():
		return bvll.Frame{}, ErrControlTimeout
	}
}
