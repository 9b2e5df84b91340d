package timesource_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bacstack/bacstack/internal/timesource"
)

// TestMain verifies the real-clock scheduler leaves no timer goroutines
// running once every test has closed its clock.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRealClockCallLaterFires(t *testing.T) {
	t.Parallel()

	clock := timesource.NewRealClock()
	defer clock.Close()

	fired := make(chan struct{})
	clock.CallLater(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task did not fire")
	}
}

func TestRealClockCancelPreventsFiring(t *testing.T) {
	t.Parallel()

	clock := timesource.NewRealClock()
	defer clock.Close()

	fired := make(chan struct{}, 1)
	h := clock.CallLater(50*time.Millisecond, func() { fired <- struct{}{} })
	clock.Cancel(h)

	select {
	case <-fired:
		t.Fatal("canceled task fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRealClockCloseStopsPendingTimers(t *testing.T) {
	t.Parallel()

	clock := timesource.NewRealClock()

	fired := make(chan struct{}, 1)
	clock.CallLater(50*time.Millisecond, func() { fired <- struct{}{} })
	clock.Close()

	select {
	case <-fired:
		t.Fatal("task fired after Close")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRealClockCancelAfterFireIsNoOp(t *testing.T) {
	t.Parallel()

	clock := timesource.NewRealClock()
	defer clock.Close()

	fired := make(chan struct{})
	h := clock.CallLater(5*time.Millisecond, func() { close(fired) })
	<-fired

	clock.Cancel(h) // already fired; must not panic or block
}
