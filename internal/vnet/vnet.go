// Package vnet implements a virtual IP substrate: an in-process stand-in
// for UDP sockets that makes the BACnet/IP stack deterministically
// testable without real networking. Nodes share an IPv4 broadcast domain
// per Network, and a Router bridges Networks for multi-subnet topologies.
//
// Node implements the same PacketConn surface as the real-UDP adapter in
// internal/netio, so internal/bip runs unmodified over either transport.
package vnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// Sentinel errors for the virtual substrate.
var (
	// ErrClosed indicates an operation on an already-closed node.
	ErrClosed = errors.New("vnet: node closed")

	// ErrNoRoute indicates a unicast destination matched neither a local
	// node nor any network reachable through an attached router.
	ErrNoRoute = errors.New("vnet: no route to destination")

	// ErrSpoofingDisabled indicates WritePacketFrom was called with a
	// source other than the node's own address while spoofing is off.
	ErrSpoofingDisabled = errors.New("vnet: spoofing disabled for this node")

	// ErrDuplicateNode indicates AddNode was called twice for one address.
	ErrDuplicateNode = errors.New("vnet: node already registered at address")
)

// PacketMeta carries the transport-layer metadata delivered alongside
// each received packet.
type PacketMeta struct {
	// Src is the packet's source (ip, port).
	Src netip.AddrPort

	// Dst is the packet's destination (ip, port) as placed on the wire —
	// for a promiscuous capture this may differ from the receiving
	// node's own address.
	Dst netip.AddrPort

	// Promiscuous is true when this delivery is a promiscuous-mode
	// capture rather than an addressed delivery.
	Promiscuous bool
}

// PacketConn is the transport contract shared between the virtual
// substrate and the real-UDP adapter in internal/netio.
type PacketConn interface {
	ReadPacket(ctx context.Context) ([]byte, PacketMeta, error)
	WritePacket(data []byte, dst netip.AddrPort) error
	LocalAddr() netip.AddrPort
	Close() error
}

// TrafficEntry records one PDU placed on the wire, for test introspection.
type TrafficEntry struct {
	Time time.Time
	Src  netip.AddrPort
	Dst  netip.AddrPort
	Data []byte
}

const inboundQueueSize = 64

// Network owns a set of Nodes keyed by (ip, port) sharing one IPv4
// broadcast domain.
type Network struct {
	mu     sync.Mutex
	prefix netip.Prefix
	nodes  map[netip.AddrPort]*Node
	router *Router
	log    []TrafficEntry
	nowFn  func() time.Time
}

// NewNetwork creates a Network for the given IPv4 subnet prefix.
func NewNetwork(prefix netip.Prefix) *Network {
	return &Network{
		prefix: prefix.Masked(),
		nodes:  make(map[netip.AddrPort]*Node),
		nowFn:  time.Now,
	}
}

// Prefix returns the network's subnet prefix.
func (n *Network) Prefix() netip.Prefix { return n.prefix }

// BroadcastAddrPort returns this network's subnet broadcast (ip, port)
// tuple for the given port.
func (n *Network) BroadcastAddrPort(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(broadcastOf(n.prefix), port)
}

// Contains reports whether ip falls within this network's subnet.
func (n *Network) Contains(ip netip.Addr) bool {
	return n.prefix.Contains(ip)
}

// AddNode creates and registers a new Node at addr on this network.
func (n *Network) AddNode(addr netip.AddrPort, opts ...NodeOption) (*Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.nodes[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, addr)
	}

	node := &Node{
		network: n,
		addr:    addr,
		inbound: make(chan inboundPacket, inboundQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(node)
	}
	n.nodes[addr] = node
	return node, nil
}

// RemoveNode unregisters and closes the node at addr, if present.
func (n *Network) RemoveNode(addr netip.AddrPort) {
	n.mu.Lock()
	node, ok := n.nodes[addr]
	if ok {
		delete(n.nodes, addr)
	}
	n.mu.Unlock()

	if ok {
		_ = node.Close()
	}
}

// SetRouter attaches r as this network's gateway to other networks.
func (n *Network) SetRouter(r *Router) {
	n.mu.Lock()
	n.router = r
	n.mu.Unlock()
}

// TrafficLog returns a snapshot of every PDU placed on this network's wire.
func (n *Network) TrafficLog() []TrafficEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]TrafficEntry, len(n.log))
	copy(out, n.log)
	return out
}

// deliver routes a single packet: unicast to the owning node, subnet
// broadcast to every node except the origin, falling back to the attached
// Router for a unicast destination this network doesn't own.
func (n *Network) deliver(src netip.AddrPort, data []byte, dst netip.AddrPort) error {
	return n.deliverWithRouting(src, data, dst, true)
}

// deliverRouted delivers a packet handed to this network by a Router. It
// never recurses back into routing: the Router already picked this network
// because dst belongs to it, so a miss here is a genuine no-route, not
// another hop.
func (n *Network) deliverRouted(src netip.AddrPort, data []byte, dst netip.AddrPort) error {
	return n.deliverWithRouting(src, data, dst, false)
}

func (n *Network) deliverWithRouting(src netip.AddrPort, data []byte, dst netip.AddrPort, allowRoute bool) error {
	n.mu.Lock()
	n.log = append(n.log, TrafficEntry{Time: n.nowFn(), Src: src, Dst: dst, Data: append([]byte(nil), data...)})

	isBroadcast := dst.Addr() == broadcastOf(n.prefix)
	var recipients []*Node
	var promiscuousExtra []*Node

	if isBroadcast {
		for addr, node := range n.nodes {
			if addr == src {
				continue
			}
			recipients = append(recipients, node)
		}
	} else if node, ok := n.nodes[dst]; ok {
		recipients = append(recipients, node)
		for addr, other := range n.nodes {
			if addr == dst || addr == src {
				continue
			}
			if other.isPromiscuous() {
				promiscuousExtra = append(promiscuousExtra, other)
			}
		}
	} else {
		for addr, other := range n.nodes {
			if addr == src {
				continue
			}
			if other.isPromiscuous() {
				promiscuousExtra = append(promiscuousExtra, other)
			}
		}
	}

	router := n.router
	localMatch := isBroadcast
	if !isBroadcast {
		_, localMatch = n.nodes[dst]
	}
	n.mu.Unlock()

	for _, node := range recipients {
		node.enqueue(inboundPacket{data: append([]byte(nil), data...), meta: PacketMeta{Src: src, Dst: dst}})
	}
	for _, node := range promiscuousExtra {
		node.enqueue(inboundPacket{data: append([]byte(nil), data...), meta: PacketMeta{Src: src, Dst: dst, Promiscuous: true}})
	}

	if !isBroadcast && !localMatch {
		if allowRoute && router != nil {
			return router.route(n, src, data, dst)
		}
		return fmt.Errorf("%w: %s", ErrNoRoute, dst)
	}
	return nil
}

// broadcastOf computes the all-ones-host broadcast address of an IPv4 prefix.
func broadcastOf(prefix netip.Prefix) netip.Addr {
	base := prefix.Masked().Addr().As4()
	bits := prefix.Bits()
	var mask uint32 = 0xFFFFFFFF
	if bits < 32 {
		mask <<= uint(32 - bits)
	}
	baseU := binary.BigEndian.Uint32(base[:])
	bc := baseU | ^mask
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], bc)
	return netip.AddrFrom4(out)
}

type inboundPacket struct {
	data []byte
	meta PacketMeta
}

// Node is one virtual endpoint on a Network: the substitute for a real
// UDP socket bound to (ip, port).
type Node struct {
	network     *Network
	addr        netip.AddrPort
	inbound     chan inboundPacket
	done        chan struct{}
	promiscuous bool
	spoofing    bool
	mu          sync.Mutex
	closed      bool
}

// NodeOption configures optional Node behavior at construction.
type NodeOption func(*Node)

// Promiscuous disables destination filtering at this node: it receives a
// copy of every unicast PDU on the subnet, not only ones addressed to it.
func Promiscuous() NodeOption { return func(n *Node) { n.promiscuous = true } }

// Spoofing permits this node to call WritePacketFrom with an arbitrary
// source address.
func Spoofing() NodeOption { return func(n *Node) { n.spoofing = true } }

func (n *Node) isPromiscuous() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.promiscuous
}

func (n *Node) enqueue(p inboundPacket) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return
	}
	select {
	case n.inbound <- p:
	default:
		// Inbound queue full: drop rather than block. A slow test
		// consumer must not deadlock the sender.
	}
}

// ReadPacket blocks until a packet arrives, the node is closed, or ctx is done.
func (n *Node) ReadPacket(ctx context.Context) ([]byte, PacketMeta, error) {
	select {
	case p := <-n.inbound:
		return p.data, p.meta, nil
	case <-n.done:
		return nil, PacketMeta{}, ErrClosed
	case <-ctx.Done():
		return nil, PacketMeta{}, ctx.Err()
	}
}

// WritePacket sends data to dst with this node's own address as source.
func (n *Node) WritePacket(data []byte, dst netip.AddrPort) error {
	return n.writeFrom(n.addr, data, dst)
}

// WritePacketFrom sends data to dst using an arbitrary source address.
// Requires the node to have been constructed with Spoofing().
func (n *Node) WritePacketFrom(src netip.AddrPort, data []byte, dst netip.AddrPort) error {
	if src != n.addr && !n.spoofing {
		return ErrSpoofingDisabled
	}
	return n.writeFrom(src, data, dst)
}

func (n *Node) writeFrom(src netip.AddrPort, data []byte, dst netip.AddrPort) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return n.network.deliver(src, data, dst)
}

// LocalAddr returns the node's bound (ip, port).
func (n *Node) LocalAddr() netip.AddrPort { return n.addr }

// Close marks the node closed; pending ReadPacket calls return ErrClosed.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	close(n.done)
	return nil
}
