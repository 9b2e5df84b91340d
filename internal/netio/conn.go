// Package netio provides the real-UDP adapter satisfying vnet.PacketConn,
// for running a BACnet/IP stack against an actual socket instead of the
// virtual substrate: a single UDP socket, open to broadcast, read and
// written via net/netip addressing.
package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bacstack/bacstack/internal/vnet"
)

// ErrClosed indicates an operation on an already-closed Conn.
var ErrClosed = errors.New("netio: connection closed")

// ErrUnexpectedConnType indicates net.ListenPacket returned a connection
// type other than *net.UDPConn.
var ErrUnexpectedConnType = errors.New("netio: unexpected connection type from ListenPacket")

// maxFrameSize bounds a single read at the Annex-J BVLL frame cap of 1497
// bytes (the 2-byte length field permits more on paper; no real BACnet/IP
// deployment sends larger frames over IPv4 UDP without fragmentation, and
// Annex J does not define a multi-datagram frame).
const maxFrameSize = 1497

// Conn implements vnet.PacketConn over a real UDP socket bound to
// addr:port with SO_BROADCAST enabled, so it can both unicast and send to
// a subnet's broadcast address.
type Conn struct {
	conn *net.UDPConn
	addr netip.AddrPort

	mu     sync.Mutex
	closed bool
}

// Listen opens a UDP socket bound to addr (use the unspecified address,
// e.g. "0.0.0.0", to bind all interfaces) with SO_REUSEADDR and
// SO_BROADCAST set.
func Listen(addr netip.AddrPort) (*Conn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setConnOpts(c)
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", addr, err)
	}

	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("netio: listen %s: %w: %w", addr, ErrUnexpectedConnType, closeErr)
	}

	// Record the address the kernel actually bound, so a requested port 0
	// reports the assigned port.
	bound := addr
	if la, ok := udpConn.LocalAddr().(*net.UDPAddr); ok {
		ap := la.AddrPort()
		bound = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}

	return &Conn{conn: udpConn, addr: bound}, nil
}

func setConnOpts(c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)
		sockErr = setSockOpts(intFD)
	})
	if err != nil {
		return fmt.Errorf("netio: raw conn control: %w", err)
	}
	return sockErr
}

// setSockOpts applies socket-level options for a BACnet/IP FD.
func setSockOpts(fd int) error {
	// SO_REUSEADDR: allow address reuse.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	// SO_BROADCAST: permit sends to the subnet broadcast address.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}

	return nil
}

// ReadPacket blocks until a UDP datagram arrives. ctx is honored only
// indirectly: a concurrent Close unblocks the pending read by relying on
// net.UDPConn's Close-unblocks-Read behavior rather than a deadline per
// read.
func (c *Conn) ReadPacket(ctx context.Context) ([]byte, vnet.PacketMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, vnet.PacketMeta{}, err
	}

	buf := make([]byte, maxFrameSize)
	n, srcAddr, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, vnet.PacketMeta{}, ErrClosed
		}
		return nil, vnet.PacketMeta{}, fmt.Errorf("netio: read: %w", err)
	}

	return buf[:n], vnet.PacketMeta{Src: srcAddr, Dst: c.addr}, nil
}

// WritePacket sends data to dst, which may be a unicast station address or
// the subnet's broadcast address (the socket has SO_BROADCAST enabled).
func (c *Conn) WritePacket(data []byte, dst netip.AddrPort) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := c.conn.WriteToUDPAddrPort(data, dst); err != nil {
		return fmt.Errorf("netio: write to %s: %w", dst, err)
	}
	return nil
}

// LocalAddr returns the socket's bound (ip, port).
func (c *Conn) LocalAddr() netip.AddrPort { return c.addr }

// Close closes the underlying socket, unblocking any pending ReadPacket.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("netio: close: %w", err)
	}
	return nil
}
