package iocb_test

import (
	"context"
	"testing"
	"time"

	"github.com/bacstack/bacstack/internal/iocb"
	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/timesource"
)

func TestCompleteDeliversResponse(t *testing.T) {
	t.Parallel()

	clock := timesource.NewVirtualClock(time.Unix(0, 0))
	req := pdu.New([]byte("req"), pdu.Endpoint{}, pdu.Endpoint{})
	c := iocb.New(req)

	resp := pdu.New([]byte("resp"), pdu.Endpoint{}, pdu.Endpoint{})
	c.Complete(resp)

	got, err := c.Wait(context.Background(), clock, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "resp" {
		t.Fatalf("response = %q, want %q", got.Data, "resp")
	}
}

func TestFailDeliversError(t *testing.T) {
	t.Parallel()

	clock := timesource.NewVirtualClock(time.Unix(0, 0))
	c := iocb.New(pdu.New([]byte("req"), pdu.Endpoint{}, pdu.Endpoint{}))

	wantErr := context.Canceled
	c.Fail(wantErr)

	_, err := c.Wait(context.Background(), clock, 0)
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestSecondCompleteIsNoOp(t *testing.T) {
	t.Parallel()

	clock := timesource.NewVirtualClock(time.Unix(0, 0))
	c := iocb.New(pdu.New([]byte("req"), pdu.Endpoint{}, pdu.Endpoint{}))

	first := pdu.New([]byte("first"), pdu.Endpoint{}, pdu.Endpoint{})
	second := pdu.New([]byte("second"), pdu.Endpoint{}, pdu.Endpoint{})
	c.Complete(first)
	c.Complete(second)

	got, err := c.Wait(context.Background(), clock, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "first" {
		t.Fatalf("response = %q, want %q (second Complete must be a no-op)", got.Data, "first")
	}
}

func TestWaitTimesOutOnVirtualClockHorizon(t *testing.T) {
	t.Parallel()

	clock := timesource.NewVirtualClock(time.Unix(0, 0))
	c := iocb.New(pdu.New([]byte("req"), pdu.Endpoint{}, pdu.Endpoint{}))

	result := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background(), clock, 5*time.Second)
		result <- err
	}()

	// Give the goroutine a chance to register its CallLater before the
	// clock advances; RunTimeMachine only fires callbacks already scheduled.
	time.Sleep(10 * time.Millisecond)
	clock.RunTimeMachine(5 * time.Second)

	if err := <-result; err != iocb.ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitReturnsOnContextCancellation(t *testing.T) {
	t.Parallel()

	clock := timesource.NewVirtualClock(time.Unix(0, 0))
	c := iocb.New(pdu.New([]byte("req"), pdu.Endpoint{}, pdu.Endpoint{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Wait(ctx, clock, 0)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c.Err != iocb.ErrCanceled {
		t.Fatalf("c.Err = %v, want ErrCanceled", c.Err)
	}
}
