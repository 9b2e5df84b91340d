// Package iocb provides the application-layer request control block: the
// opaque upward boundary the core stack hands PDUs across. The core never
// constructs or inspects an IOCB's contents; it only exists so application
// code and tests have a uniform way to pair a request with its eventual
// response or error.
package iocb

import (
	"context"
	"errors"
	"time"

	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/timesource"
)

// ErrTimeout is returned by Wait when the deadline elapses before the IOCB
// completes.
var ErrTimeout = errors.New("iocb: wait timed out")

// ErrCanceled is returned by Wait when the IOCB is canceled before
// completion.
var ErrCanceled = errors.New("iocb: canceled")

// IOCB pairs a request PDU with its response/error slots and a completion
// signal. Done is closed exactly once, by Complete or Fail. The zero value
// is not usable; construct with New.
type IOCB struct {
	Request  *pdu.PDU
	Response *pdu.PDU
	Err      error
	Done     chan struct{}
}

// New creates an IOCB for the given request PDU.
func New(request *pdu.PDU) *IOCB {
	return &IOCB{
		Request: request,
		Done:    make(chan struct{}),
	}
}

// Complete records the response and signals completion. Complete must be
// called at most once; subsequent calls are no-ops.
func (c *IOCB) Complete(response *pdu.PDU) {
	select {
	case <-c.Done:
		return
	default:
	}
	c.Response = response
	close(c.Done)
}

// Fail records err as the completion outcome and signals completion. Fail
// must be called at most once; subsequent calls are no-ops.
func (c *IOCB) Fail(err error) {
	select {
	case <-c.Done:
		return
	default:
	}
	c.Err = err
	close(c.Done)
}

// Wait blocks until the IOCB completes, ctx is canceled, or timeout expires
// (timeout <= 0 disables the timeout). This is one of only two legitimate
// suspension points in the stack; it never runs on a layer's own goroutine,
// only on an application-layer caller's.
//
// timeout is driven by clock, not time.After, so it advances correctly
// under a virtual clock in tests.
func (c *IOCB) Wait(ctx context.Context, clock timesource.TimeSource, timeout time.Duration) (*pdu.PDU, error) {
	var timeoutCh chan struct{}
	var handle timesource.Handle
	if timeout > 0 {
		timeoutCh = make(chan struct{})
		handle = clock.CallLater(timeout, func() { close(timeoutCh) })
		defer clock.Cancel(handle)
	}

	select {
	case <-c.Done:
		if c.Err != nil {
			return nil, c.Err
		}
		return c.Response, nil
	case <-ctx.Done():
		c.Fail(ErrCanceled)
		return nil, ctx.Err()
	case <-timeoutCh:
		c.Fail(ErrTimeout)
		return nil, ErrTimeout
	}
}
