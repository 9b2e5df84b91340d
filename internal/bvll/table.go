package bvll

import (
	"encoding/binary"
	"fmt"
)

// entrySize is the fixed wire size of both BDTEntry and FDTEntry: 4 bytes
// IPv4 + 2 bytes port + 4 bytes of trailing fields.
const entrySize = 10

// BDTEntry is the wire form of one Broadcast Distribution Table row:
// 4B IPv4 + 2B port + 4B broadcast-distribution mask.
type BDTEntry struct {
	IP   [4]byte
	Port uint16
	Mask [4]byte
}

// EncodeBDTEntries builds a Write-Broadcast-Distribution-Table frame
// carrying entries.
func EncodeBDTEntries(entries []BDTEntry) []byte {
	payload := make([]byte, len(entries)*entrySize)
	for i, e := range entries {
		off := i * entrySize
		copy(payload[off:off+4], e.IP[:])
		binary.BigEndian.PutUint16(payload[off+4:off+6], e.Port)
		copy(payload[off+6:off+10], e.Mask[:])
	}
	return Encode(Frame{Function: FunctionWriteBroadcastDistributionTable, Payload: payload})
}

// EncodeBDTEntriesAck builds a Read-Broadcast-Distribution-Table-Ack frame
// carrying entries.
func EncodeBDTEntriesAck(entries []BDTEntry) []byte {
	payload := make([]byte, len(entries)*entrySize)
	for i, e := range entries {
		off := i * entrySize
		copy(payload[off:off+4], e.IP[:])
		binary.BigEndian.PutUint16(payload[off+4:off+6], e.Port)
		copy(payload[off+6:off+10], e.Mask[:])
	}
	return Encode(Frame{Function: FunctionReadBroadcastDistributionTableAck, Payload: payload})
}

// DecodeBDTEntries parses a sequence of 10-byte BDTEntry records from payload.
func DecodeBDTEntries(payload []byte) ([]BDTEntry, error) {
	if len(payload)%entrySize != 0 {
		return nil, fmt.Errorf("bvll: BDT payload %d bytes not a multiple of %d: %w", len(payload), entrySize, ErrPayloadMisaligned)
	}
	n := len(payload) / entrySize
	out := make([]BDTEntry, n)
	for i := range out {
		off := i * entrySize
		copy(out[i].IP[:], payload[off:off+4])
		out[i].Port = binary.BigEndian.Uint16(payload[off+4 : off+6])
		copy(out[i].Mask[:], payload[off+6:off+10])
	}
	return out, nil
}

// FDTEntry is the wire form of one Foreign Device Table row:
// 4B IPv4 + 2B port + 2B TTL + 2B remaining-seconds.
type FDTEntry struct {
	IP        [4]byte
	Port      uint16
	TTL       uint16
	Remaining uint16
}

// EncodeFDTEntriesAck builds a Read-Foreign-Device-Table-Ack frame
// carrying entries.
func EncodeFDTEntriesAck(entries []FDTEntry) []byte {
	payload := make([]byte, len(entries)*entrySize)
	for i, e := range entries {
		off := i * entrySize
		copy(payload[off:off+4], e.IP[:])
		binary.BigEndian.PutUint16(payload[off+4:off+6], e.Port)
		binary.BigEndian.PutUint16(payload[off+6:off+8], e.TTL)
		binary.BigEndian.PutUint16(payload[off+8:off+10], e.Remaining)
	}
	return Encode(Frame{Function: FunctionReadForeignDeviceTableAck, Payload: payload})
}

// DecodeFDTEntries parses a sequence of 10-byte FDTEntry records from payload.
func DecodeFDTEntries(payload []byte) ([]FDTEntry, error) {
	if len(payload)%entrySize != 0 {
		return nil, fmt.Errorf("bvll: FDT payload %d bytes not a multiple of %d: %w", len(payload), entrySize, ErrPayloadMisaligned)
	}
	n := len(payload) / entrySize
	out := make([]FDTEntry, n)
	for i := range out {
		off := i * entrySize
		copy(out[i].IP[:], payload[off:off+4])
		out[i].Port = binary.BigEndian.Uint16(payload[off+4 : off+6])
		out[i].TTL = binary.BigEndian.Uint16(payload[off+6 : off+8])
		out[i].Remaining = binary.BigEndian.Uint16(payload[off+8 : off+10])
	}
	return out, nil
}
