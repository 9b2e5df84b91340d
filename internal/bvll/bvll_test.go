package bvll_test

import (
	"errors"
	"testing"

	"github.com/bacstack/bacstack/internal/bvll"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    bvll.Frame
	}{
		{"result success", bvll.Frame{Function: bvll.FunctionResult, Payload: []byte{0x00, 0x00}}},
		{"register FD", bvll.Frame{Function: bvll.FunctionRegisterForeignDevice, Payload: []byte{0x00, 0x3C}}},
		{"empty read BDT", bvll.Frame{Function: bvll.FunctionReadBroadcastDistributionTable}},
		{"distribute broadcast", bvll.Frame{Function: bvll.FunctionDistributeBroadcastToNetwork, Payload: []byte{0x01, 0x02, 0x03}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := bvll.Encode(tt.f)
			got, err := bvll.Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Function != tt.f.Function {
				t.Fatalf("Function = %v, want %v", got.Function, tt.f.Function)
			}
			if len(got.Payload) != len(tt.f.Payload) {
				t.Fatalf("Payload len = %d, want %d", len(got.Payload), len(tt.f.Payload))
			}
		})
	}
}

func TestDecodeRejectsBadType(t *testing.T) {
	t.Parallel()

	buf := bvll.Encode(bvll.Frame{Function: bvll.FunctionResult, Payload: []byte{0, 0}})
	buf[0] = 0x82

	_, err := bvll.Decode(buf)
	if !errors.Is(err, bvll.ErrInvalidType) {
		t.Fatalf("err = %v, want ErrInvalidType", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	t.Parallel()

	buf := bvll.Encode(bvll.Frame{Function: bvll.FunctionResult, Payload: []byte{0, 0}})
	buf = append(buf, 0xFF) // now actual length disagrees with declared length

	_, err := bvll.Decode(buf)
	if !errors.Is(err, bvll.ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestDecodeRejectsTooShort(t *testing.T) {
	t.Parallel()

	_, err := bvll.Decode([]byte{0x81, 0x00})
	if !errors.Is(err, bvll.ErrTooShort) {
		t.Fatalf("err = %v, want ErrTooShort", err)
	}
}

func TestResultRoundTrip(t *testing.T) {
	t.Parallel()

	buf := bvll.EncodeResult(bvll.ResultReadBDTNAK)
	frame, err := bvll.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	code, err := bvll.DecodeResult(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if code != bvll.ResultReadBDTNAK {
		t.Fatalf("code = %v, want ResultReadBDTNAK", code)
	}
}

func TestRegisterForeignDeviceRoundTrip(t *testing.T) {
	t.Parallel()

	buf := bvll.EncodeRegisterForeignDevice(300)
	frame, err := bvll.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	ttl, err := bvll.DecodeRegisterForeignDevice(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if ttl != 300 {
		t.Fatalf("ttl = %d, want 300", ttl)
	}
}

func TestForwardedNPDURoundTrip(t *testing.T) {
	t.Parallel()

	origin := [6]byte{192, 168, 1, 5, 0xBA, 0xC0}
	npdu := []byte{0x01, 0x02, 0x03, 0x04}

	buf := bvll.EncodeForwardedNPDU(origin, npdu)
	frame, err := bvll.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	gotOrigin, gotNPDU, err := bvll.DecodeForwardedNPDU(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if gotOrigin != origin {
		t.Fatalf("origin = %v, want %v", gotOrigin, origin)
	}
	if string(gotNPDU) != string(npdu) {
		t.Fatalf("npdu = %v, want %v", gotNPDU, npdu)
	}
}

func TestBDTEntriesRoundTrip(t *testing.T) {
	t.Parallel()

	entries := []bvll.BDTEntry{
		{IP: [4]byte{192, 168, 1, 1}, Port: 47808, Mask: [4]byte{255, 255, 255, 0}},
		{IP: [4]byte{192, 168, 1, 2}, Port: 47808, Mask: [4]byte{255, 255, 255, 255}},
	}

	buf := bvll.EncodeBDTEntriesAck(entries)
	frame, err := bvll.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := bvll.DecodeBDTEntries(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestFDTEntriesRoundTrip(t *testing.T) {
	t.Parallel()

	entries := []bvll.FDTEntry{
		{IP: [4]byte{10, 0, 0, 1}, Port: 47808, TTL: 300, Remaining: 120},
	}

	buf := bvll.EncodeFDTEntriesAck(entries)
	frame, err := bvll.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := bvll.DecodeFDTEntries(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != entries[0] {
		t.Fatalf("got = %+v, want %+v", got, entries)
	}
}

func TestDecodeBDTEntriesRejectsMisalignedPayload(t *testing.T) {
	t.Parallel()

	_, err := bvll.DecodeBDTEntries([]byte{1, 2, 3})
	if !errors.Is(err, bvll.ErrPayloadMisaligned) {
		t.Fatalf("err = %v, want ErrPayloadMisaligned", err)
	}
}

func TestDeleteForeignDeviceTableEntryRoundTrip(t *testing.T) {
	t.Parallel()

	mac := [6]byte{172, 16, 0, 9, 0x12, 0x34}
	buf := bvll.EncodeDeleteForeignDeviceTableEntry(mac)
	frame, err := bvll.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := bvll.DecodeDeleteForeignDeviceTableEntry(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != mac {
		t.Fatalf("got = %v, want %v", got, mac)
	}
}
