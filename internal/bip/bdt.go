package bip

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/bacstack/bacstack/internal/bacaddr"
)

// ErrDuplicateBDTAddress indicates two BDT entries share an address.
var ErrDuplicateBDTAddress = errors.New("bip: duplicate BDT entry address")

// ErrBDTEntryNotLocalStation indicates a BDT entry's address was not a
// LocalStation, which every BDT entry must be.
var ErrBDTEntryNotLocalStation = errors.New("bip: BDT entry address is not a LocalStation")

// BDTEntry is one Broadcast Distribution Table row: a peer BBMD's unicast
// address plus its broadcast-distribution mask.
type BDTEntry struct {
	// Address is the peer's unicast LocalStation address.
	Address bacaddr.Address

	// Mask is the peer's subnet mask, used to compute the forwarded-NPDU
	// recipient: (peer_ip & mask) | (0xFF &^ mask), the subnet's broadcast
	// address.
	Mask [4]byte
}

// BDT is the ordered Broadcast Distribution Table. Entries are unique by
// address; the containing BBMD's own entry is always present with a /32
// mask. Mutated only by the owning BBMD on the single cooperative event
// loop — no locking.
type BDT struct {
	entries []BDTEntry
}

// NewBDT constructs an empty BDT.
func NewBDT() *BDT { return &BDT{} }

// Entries returns a snapshot of the table in insertion order.
func (t *BDT) Entries() []BDTEntry {
	out := make([]BDTEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Replace validates and installs a wholesale new entry set, the
// WriteBroadcastDistributionTable handling: if any entry is invalid, the
// caller should reply NAK and leave the table unchanged. Returns
// ErrBDTEntryNotLocalStation or ErrDuplicateBDTAddress without mutating t
// if validation fails.
func (t *BDT) Replace(entries []BDTEntry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Address.Kind != bacaddr.KindLocalStation {
			return fmt.Errorf("%w: %s", ErrBDTEntryNotLocalStation, e.Address)
		}
		key := e.Address.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateBDTAddress, e.Address)
		}
		seen[key] = struct{}{}
	}
	t.entries = append([]BDTEntry(nil), entries...)
	return nil
}

// ForwardTuple computes the forwarded-NPDU recipient tuple for a BDT
// entry's subnet broadcast: (peer_ip & mask) | (0xFF &^ mask), at the
// entry's own port.
func (e BDTEntry) ForwardTuple() (netip.AddrPort, error) {
	peerAP, err := e.Address.AddrTuple()
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("bip: BDT entry %s has no tuple form: %w", e.Address, err)
	}
	ip4 := peerAP.Addr().As4()

	var bc [4]byte
	for i := range bc {
		bc[i] = (ip4[i] & e.Mask[i]) | (0xFF &^ e.Mask[i])
	}
	return netip.AddrPortFrom(netip.AddrFrom4(bc), peerAP.Port()), nil
}
