package netio_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/bacstack/bacstack/internal/netio"
)

func TestConnRoundTripUnicast(t *testing.T) {
	t.Parallel()

	a, err := netio.Listen(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	b, err := netio.Listen(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.WritePacket([]byte("hello"), b.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, meta, err := b.ReadPacket(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want %q", data, "hello")
	}
	if meta.Src != a.LocalAddr() {
		t.Fatalf("meta.Src = %s, want %s", meta.Src, a.LocalAddr())
	}
}

func TestConnCloseUnblocksPendingRead(t *testing.T) {
	t.Parallel()

	conn, err := netio.Listen(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, readErr := conn.ReadPacket(context.Background())
		done <- readErr
	}()

	time.Sleep(10 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error from ReadPacket after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadPacket did not unblock after Close")
	}
}

func TestConnWriteAfterCloseFails(t *testing.T) {
	t.Parallel()

	conn, err := netio.Listen(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}

	err = conn.WritePacket([]byte("x"), conn.LocalAddr())
	if !errors.Is(err, netio.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
