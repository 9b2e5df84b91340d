package bacaddr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// HostSpec is a fully parsed node address: an IPv4 host address, its
// subnet prefix length, and UDP port. It is the shape used for per-node
// configuration ("192.168.7.3/24:47808") and BDT peer entries, which need
// the mask alongside the LocalStation address.
type HostSpec struct {
	Addr      Address // always KindLocalStation
	PrefixLen int
	AddrPort  netip.AddrPort
}

// ParseHostSpec parses "ip/prefix:port", "ip/prefix", "ip:port", or "ip".
// A missing prefix defaults to /32 (host route); a missing port defaults
// to DefaultPort.
func ParseHostSpec(s string) (HostSpec, error) {
	prefixLen := 32
	rest := s

	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		maskPart := rest[idx+1:]
		rest = rest[:idx]

		// The mask part may still carry ":port" after it.
		maskStr := maskPart
		if pIdx := strings.IndexByte(maskPart, ':'); pIdx >= 0 {
			maskStr = maskPart[:pIdx]
		}
		n, err := strconv.Atoi(maskStr)
		if err != nil || n < 0 || n > 32 {
			return HostSpec{}, fmt.Errorf("%w: bad prefix in %q", ErrParse, s)
		}
		prefixLen = n

		if pIdx := strings.IndexByte(maskPart, ':'); pIdx >= 0 {
			rest += maskPart[pIdx:]
		}
	}

	ip, port, err := splitIPPort(rest)
	if err != nil {
		return HostSpec{}, err
	}

	ap := netip.AddrPortFrom(ip, port)
	addr, err := LocalStationFromAddrPort(ap)
	if err != nil {
		return HostSpec{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return HostSpec{Addr: addr, PrefixLen: prefixLen, AddrPort: ap}, nil
}

// splitIPPort parses "ip:port" or bare "ip" (defaulting the port).
func splitIPPort(s string) (netip.Addr, uint16, error) {
	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		ipStr := s[:idx]
		portStr := s[idx+1:]
		ip, err := netip.ParseAddr(ipStr)
		if err != nil {
			return netip.Addr{}, 0, fmt.Errorf("%w: %w", ErrParse, err)
		}
		portNum, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return netip.Addr{}, 0, fmt.Errorf("%w: bad port in %q", ErrParse, s)
		}
		return ip, uint16(portNum), nil
	}

	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return ip, DefaultPort, nil
}

// ParseLocalStation parses "ip:port" or "ip" into a LocalStation address.
func ParseLocalStation(s string) (Address, error) {
	ip, port, err := splitIPPort(s)
	if err != nil {
		return Address{}, err
	}
	return LocalStationFromAddrPort(netip.AddrPortFrom(ip, port))
}

// ParseRemoteStation parses "net:ip:port" or "net:ip" (e.g.
// "5:192.168.1.2:47808") into a RemoteStation address.
func ParseRemoteStation(s string) (Address, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return Address{}, fmt.Errorf("%w: remote station requires net:host in %q", ErrParse, s)
	}
	netStr := s[:idx]
	hostPart := s[idx+1:]

	netNum, err := strconv.ParseUint(netStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("%w: bad network number in %q", ErrParse, s)
	}

	ip, port, err := splitIPPort(hostPart)
	if err != nil {
		return Address{}, err
	}
	mac, err := MacFromAddrPort(netip.AddrPortFrom(ip, port))
	if err != nil {
		return Address{}, err
	}
	return NewRemoteStation(uint16(netNum), mac)
}

// Parse dispatches to the appropriate parser based on the textual shape:
// "net:ip[:port]" (two colons, or a leading bare integer before the first
// colon followed by a dotted IP) parses as RemoteStation; everything else
// parses as a LocalStation via ParseHostSpec (mask, if present, is
// discarded from the returned Address — use ParseHostSpec directly when
// the mask is needed).
func Parse(s string) (Address, error) {
	if looksLikeRemoteStation(s) {
		return ParseRemoteStation(s)
	}
	hs, err := ParseHostSpec(s)
	if err != nil {
		return Address{}, err
	}
	return hs.Addr, nil
}

// looksLikeRemoteStation reports whether s has the "net:host" shape: a
// leading run of digits, a colon, then something that is not itself a
// bare port number (i.e., contains a '.' or another ':').
func looksLikeRemoteStation(s string) bool {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 {
		return false
	}
	for _, r := range s[:idx] {
		if r < '0' || r > '9' {
			return false
		}
	}
	remainder := s[idx+1:]
	return strings.ContainsAny(remainder, ".:")
}
