package bip

import (
	"errors"
	"fmt"

	"github.com/bacstack/bacstack/internal/bacaddr"
)

// ErrFDTEntryNotFound indicates DeleteForeignDeviceTableEntry was called
// for an address with no registration.
var ErrFDTEntryNotFound = errors.New("bip: no FDT entry for address")

// fdtGracePeriod is the grace window added to a registration's TTL before
// the entry is considered expired: remaining = ttl + 30s grace, a fixed
// constant from BACnet-2016 Clause 4, not something to invent per
// deployment.
const fdtGracePeriod = 30

// FDTEntry is one Foreign Device Table row: the registrant's address, its
// requested TTL in seconds, and the seconds remaining before expiry.
type FDTEntry struct {
	Address   bacaddr.Address
	TTL       uint16
	Remaining int32
}

// FDT is the ordered Foreign Device Table: one entry per registered
// address, insertion-ordered for deterministic redistribution fan-out.
// Mutated only by the owning BBMD on the single cooperative event loop —
// no locking.
type FDT struct {
	order   []string
	entries map[string]*FDTEntry
}

// NewFDT constructs an empty FDT.
func NewFDT() *FDT {
	return &FDT{entries: make(map[string]*FDTEntry)}
}

// Entries returns a snapshot of the table in insertion order.
func (t *FDT) Entries() []FDTEntry {
	out := make([]FDTEntry, 0, len(t.order))
	for _, key := range t.order {
		if e, ok := t.entries[key]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Register adds a new entry or refreshes an existing one for addr;
// re-registration refreshes both ttl and remaining, with remaining =
// ttl + 30s grace.
func (t *FDT) Register(addr bacaddr.Address, ttl uint16) {
	key := addr.String()
	if e, ok := t.entries[key]; ok {
		e.TTL = ttl
		e.Remaining = int32(ttl) + fdtGracePeriod
		return
	}
	t.entries[key] = &FDTEntry{Address: addr, TTL: ttl, Remaining: int32(ttl) + fdtGracePeriod}
	t.order = append(t.order, key)
}

// Delete removes the entry for addr. Returns ErrFDTEntryNotFound if none
// existed, the condition that triggers a DeleteForeignDeviceTableEntry NAK.
func (t *FDT) Delete(addr bacaddr.Address) error {
	key := addr.String()
	if _, ok := t.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrFDTEntryNotFound, addr)
	}
	delete(t.entries, key)
	t.order = removeKey(t.order, key)
	return nil
}

// Contains reports whether addr has a live registration.
func (t *FDT) Contains(addr bacaddr.Address) bool {
	_, ok := t.entries[addr.String()]
	return ok
}

// Tick decrements every entry's remaining time by seconds and removes any
// entry whose remaining time has reached zero or below; called once a
// second by the owning BBMD's periodic tick.
func (t *FDT) Tick(seconds int32) {
	var expired []string
	for _, key := range t.order {
		e := t.entries[key]
		e.Remaining -= seconds
		if e.Remaining <= 0 {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(t.entries, key)
		t.order = removeKey(t.order, key)
	}
}

func removeKey(order []string, key string) []string {
	for i, k := range order {
		if k == key {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
