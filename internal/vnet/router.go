package vnet

import (
	"fmt"
	"net/netip"
	"sync"
)

// Router connects multiple Networks into a routed virtual internetwork:
// it forwards a PDU across subnets when the destination ip matches another
// attached network's prefix. A sender's own subnet broadcast is never
// forwarded; a directed broadcast to another attached subnet's broadcast
// address is forwarded and reaches every node on that subnet.
// No TTL is decremented; there is no IP-layer hop-count concept to model
// here.
//
// Real UDP sockets route via the kernel, so the real transport has no
// counterpart to this type; it exists so tests can exercise a BBMD whose
// BDT peers sit on different subnets without opening real sockets.
type Router struct {
	mu       sync.Mutex
	networks []*Network
}

// NewRouter creates an empty Router. Attach networks with AddNetwork.
func NewRouter() *Router {
	return &Router{}
}

// AddNetwork attaches n to the router and sets n's router to this Router.
func (r *Router) AddNetwork(n *Network) {
	r.mu.Lock()
	r.networks = append(r.networks, n)
	r.mu.Unlock()
	n.SetRouter(r)
}

// route delivers a unicast packet from origin to dst by finding the
// attached network whose prefix contains dst and handing it to that
// network's deliver logic directly (bypassing origin, which already
// determined dst is not local to it).
func (r *Router) route(origin *Network, src netip.AddrPort, data []byte, dst netip.AddrPort) error {
	r.mu.Lock()
	networks := append([]*Network(nil), r.networks...)
	r.mu.Unlock()

	for _, n := range networks {
		if n == origin {
			continue
		}
		if n.Contains(dst.Addr()) {
			return n.deliverRouted(src, data, dst)
		}
	}
	return fmt.Errorf("%w: %s", ErrNoRoute, dst)
}
