// Package bacaddr implements the BACnet address taxonomy (ASHRAE 135
// Clause 6) as a tagged variant, along with the Match predicate used to
// test whether a concrete address satisfies an address filter.
package bacaddr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// DefaultPort is the well-known BACnet/IP UDP port, 0xBAC0 (RFC/Annex J).
const DefaultPort uint16 = 47808

// Kind tags the variant carried by an Address.
type Kind uint8

const (
	// KindNull is the zero-value "no address" variant.
	KindNull Kind = iota

	// KindLocalBroadcast addresses every station on the local subnet.
	KindLocalBroadcast

	// KindLocalStation addresses one station on the local subnet.
	KindLocalStation

	// KindRemoteBroadcast addresses every station on a remote BACnet network.
	KindRemoteBroadcast

	// KindRemoteStation addresses one station on a remote BACnet network.
	KindRemoteStation

	// KindGlobalBroadcast addresses every station on every network.
	KindGlobalBroadcast
)

// String returns the human-readable name of the variant kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindLocalBroadcast:
		return "LocalBroadcast"
	case KindLocalStation:
		return "LocalStation"
	case KindRemoteBroadcast:
		return "RemoteBroadcast"
	case KindRemoteStation:
		return "RemoteStation"
	case KindGlobalBroadcast:
		return "GlobalBroadcast"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Sentinel errors for address construction and matching.
var (
	// ErrInvalidMacLen indicates a MAC address outside the 1..6 byte range.
	ErrInvalidMacLen = errors.New("mac address must be 1..6 bytes")

	// ErrInvalidNet indicates a network number of 0 or 0xFFFF (reserved).
	ErrInvalidNet = errors.New("network number must be in 1..65534")

	// ErrUnmatchable indicates Match was called with a filter address whose
	// variant has no defined matching semantics (only NullAddress today).
	ErrUnmatchable = errors.New("address variant is not a valid match filter")

	// ErrNotIPCast indicates an IP tuple was requested from an address
	// variant that has no (ip, port) representation.
	ErrNotIPCast = errors.New("address has no IP tuple representation")

	// ErrParse indicates a textual address could not be parsed.
	ErrParse = errors.New("invalid address syntax")
)

// Address is a tagged value with exactly one of the BACnet address
// variants. Mac is only populated for KindLocalStation/KindRemoteStation;
// Net only for KindRemoteBroadcast/KindRemoteStation.
type Address struct {
	Kind Kind
	Net  uint16
	Mac  []byte
}

// Null returns the NullAddress variant.
func Null() Address { return Address{Kind: KindNull} }

// LocalBroadcast returns the LocalBroadcast variant.
func LocalBroadcast() Address { return Address{Kind: KindLocalBroadcast} }

// GlobalBroadcast returns the GlobalBroadcast variant.
func GlobalBroadcast() Address { return Address{Kind: KindGlobalBroadcast} }

// NewLocalStation returns a LocalStation address for the given MAC bytes.
func NewLocalStation(mac []byte) (Address, error) {
	if len(mac) < 1 || len(mac) > 6 {
		return Address{}, ErrInvalidMacLen
	}
	return Address{Kind: KindLocalStation, Mac: cloneMac(mac)}, nil
}

// NewRemoteBroadcast returns a RemoteBroadcast address for network net.
func NewRemoteBroadcast(net uint16) (Address, error) {
	if net == 0 || net == 0xFFFF {
		return Address{}, ErrInvalidNet
	}
	return Address{Kind: KindRemoteBroadcast, Net: net}, nil
}

// NewRemoteStation returns a RemoteStation address for (net, mac).
func NewRemoteStation(net uint16, mac []byte) (Address, error) {
	if net == 0 || net == 0xFFFF {
		return Address{}, ErrInvalidNet
	}
	if len(mac) < 1 || len(mac) > 6 {
		return Address{}, ErrInvalidMacLen
	}
	return Address{Kind: KindRemoteStation, Net: net, Mac: cloneMac(mac)}, nil
}

// LocalStationFromAddrPort builds a LocalStation address from an IP/port
// tuple using the Annex-J B/IP MAC layout: 4 bytes of IPv4 followed by
// the big-endian port.
func LocalStationFromAddrPort(ap netip.AddrPort) (Address, error) {
	mac, err := MacFromAddrPort(ap)
	if err != nil {
		return Address{}, err
	}
	return NewLocalStation(mac)
}

// MacFromAddrPort encodes an IPv4 (ip, port) pair as a 6-byte MAC.
func MacFromAddrPort(ap netip.AddrPort) ([]byte, error) {
	ip := ap.Addr()
	if !ip.Is4() {
		return nil, fmt.Errorf("%w: address must be IPv4", ErrNotIPCast)
	}
	buf := make([]byte, 6)
	ip4 := ip.As4()
	copy(buf[0:4], ip4[:])
	binary.BigEndian.PutUint16(buf[4:6], ap.Port())
	return buf, nil
}

// AddrPortFromMac decodes a 6-byte IP MAC back into an (ip, port) tuple.
func AddrPortFromMac(mac []byte) (netip.AddrPort, error) {
	if len(mac) != 6 {
		return netip.AddrPort{}, fmt.Errorf("%w: ip mac must be 6 bytes, got %d", ErrNotIPCast, len(mac))
	}
	var ip4 [4]byte
	copy(ip4[:], mac[0:4])
	port := binary.BigEndian.Uint16(mac[4:6])
	return netip.AddrPortFrom(netip.AddrFrom4(ip4), port), nil
}

// AddrTuple returns the (ip, port) tuple carried by a LocalStation or
// RemoteStation address. Returns ErrNotIPCast for other variants.
func (a Address) AddrTuple() (netip.AddrPort, error) {
	switch a.Kind {
	case KindLocalStation, KindRemoteStation:
		return AddrPortFromMac(a.Mac)
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: kind %s", ErrNotIPCast, a.Kind)
	}
}

// BroadcastTuple computes the network-broadcast (ip, port) tuple for a
// LocalStation address given the local subnet's prefix length.
func (a Address) BroadcastTuple(prefixLen int) (netip.AddrPort, error) {
	ap, err := a.AddrTuple()
	if err != nil {
		return netip.AddrPort{}, err
	}
	prefix := netip.PrefixFrom(ap.Addr(), prefixLen)
	bcast := broadcastOf(prefix)
	return netip.AddrPortFrom(bcast, ap.Port()), nil
}

// broadcastOf computes the all-ones host broadcast address for an IPv4 prefix.
func broadcastOf(prefix netip.Prefix) netip.Addr {
	masked := prefix.Masked()
	base := masked.Addr().As4()
	bits := masked.Bits()
	var mask uint32 = 0xFFFFFFFF
	if bits < 32 {
		mask = mask << (32 - bits)
	}
	baseU := binary.BigEndian.Uint32(base[:])
	bc := baseU | ^mask
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], bc)
	return netip.AddrFrom4(out)
}

// Equal reports whether two addresses are structurally identical.
func (a Address) Equal(b Address) bool {
	if a.Kind != b.Kind || a.Net != b.Net {
		return false
	}
	return macEqual(a.Mac, b.Mac)
}

// String renders the address in a debug-friendly textual form.
func (a Address) String() string {
	switch a.Kind {
	case KindNull:
		return "Null"
	case KindLocalBroadcast:
		return "LocalBroadcast"
	case KindGlobalBroadcast:
		return "GlobalBroadcast"
	case KindLocalStation:
		return fmt.Sprintf("LocalStation(%s)", macString(a.Mac))
	case KindRemoteBroadcast:
		return fmt.Sprintf("RemoteBroadcast(net=%d)", a.Net)
	case KindRemoteStation:
		return fmt.Sprintf("RemoteStation(net=%d, mac=%s)", a.Net, macString(a.Mac))
	default:
		return a.Kind.String()
	}
}

// MarshalText implements encoding.TextMarshaler so Address round-trips
// through koanf-loaded YAML configuration and JSON inspection output.
// Station variants render in the parseable "ip:port" / "net:ip:port"
// forms; broadcast variants fall back to the String form, which only
// appears in output, never in configuration.
func (a Address) MarshalText() ([]byte, error) {
	switch a.Kind {
	case KindLocalStation:
		if ap, err := a.AddrTuple(); err == nil {
			return []byte(ap.String()), nil
		}
	case KindRemoteStation:
		if ap, err := a.AddrTuple(); err == nil {
			return []byte(fmt.Sprintf("%d:%s", a.Net, ap)), nil
		}
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting the same
// textual forms Parse does.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func macString(mac []byte) string {
	if len(mac) == 6 {
		if ap, err := AddrPortFromMac(mac); err == nil {
			return ap.String()
		}
	}
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ".")
}

func macEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneMac(mac []byte) []byte {
	out := make([]byte, len(mac))
	copy(out, mac)
	return out
}

// Match reports whether a satisfies filter b. Matching semantics are
// defined by b's variant; an error is returned when b's variant has no
// defined matching semantics, and the caller chooses whether to treat
// that as a drop or a failure.
func Match(a, b Address) (bool, error) {
	switch b.Kind {
	case KindLocalBroadcast:
		return a.Kind == KindLocalStation || a.Kind == KindLocalBroadcast, nil
	case KindLocalStation:
		return a.Kind == KindLocalStation && macEqual(a.Mac, b.Mac), nil
	case KindRemoteBroadcast:
		return (a.Kind == KindRemoteStation || a.Kind == KindRemoteBroadcast) && a.Net == b.Net, nil
	case KindRemoteStation:
		return a.Kind == KindRemoteStation && a.Net == b.Net && macEqual(a.Mac, b.Mac), nil
	case KindGlobalBroadcast:
		return a.Kind == KindGlobalBroadcast, nil
	default:
		return false, fmt.Errorf("%w: filter kind %s", ErrUnmatchable, b.Kind)
	}
}
