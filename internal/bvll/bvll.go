// Package bvll implements the Annex-J BACnet Virtual Link Layer codec: a
// fixed 4-byte header (type, function, big-endian total length) plus a
// function-specific payload.
//
// Decoding follows a fixed-header decode-then-validate staging, with
// explicit length-field cross-checks, per-field binary.BigEndian access,
// and sentinel decode errors wrapped with fmt.Errorf("...: %w", ...).
package bvll

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the fixed BVLL type octet identifying BACnet/IP (Annex J).
const Type uint8 = 0x81

// HeaderSize is the fixed BVLL header length: type(1) + function(1) + length(2).
const HeaderSize = 4

// Function identifies a BVLL function code.
type Function uint8

// Function codes, per Annex J of the BACnet standard.
const (
	FunctionResult                            Function = 0x00
	FunctionWriteBroadcastDistributionTable   Function = 0x01
	FunctionReadBroadcastDistributionTable    Function = 0x02
	FunctionReadBroadcastDistributionTableAck Function = 0x03
	FunctionForwardedNPDU                     Function = 0x04
	FunctionRegisterForeignDevice             Function = 0x05
	FunctionReadForeignDeviceTable            Function = 0x06
	FunctionReadForeignDeviceTableAck         Function = 0x07
	FunctionDeleteForeignDeviceTableEntry     Function = 0x08
	FunctionDistributeBroadcastToNetwork      Function = 0x09
	FunctionOriginalUnicastNPDU               Function = 0x0A
	FunctionOriginalBroadcastNPDU             Function = 0x0B
)

var functionNames = map[Function]string{
	FunctionResult:                            "Result",
	FunctionWriteBroadcastDistributionTable:   "Write-Broadcast-Distribution-Table",
	FunctionReadBroadcastDistributionTable:    "Read-Broadcast-Distribution-Table",
	FunctionReadBroadcastDistributionTableAck: "Read-Broadcast-Distribution-Table-Ack",
	FunctionForwardedNPDU:                     "Forwarded-NPDU",
	FunctionRegisterForeignDevice:             "Register-Foreign-Device",
	FunctionReadForeignDeviceTable:            "Read-Foreign-Device-Table",
	FunctionReadForeignDeviceTableAck:         "Read-Foreign-Device-Table-Ack",
	FunctionDeleteForeignDeviceTableEntry:     "Delete-Foreign-Device-Table-Entry",
	FunctionDistributeBroadcastToNetwork:      "Distribute-Broadcast-To-Network",
	FunctionOriginalUnicastNPDU:               "Original-Unicast-NPDU",
	FunctionOriginalBroadcastNPDU:             "Original-Broadcast-NPDU",
}

// String returns the function's BACnet name, or "Unknown(0xNN)" if unrecognized.
func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(f))
}

// ResultCode is the u16 payload of a BVLL-Result frame.
type ResultCode uint16

// Result codes used by the core.
const (
	ResultSuccess             ResultCode = 0x0000
	ResultWriteBDTNAK         ResultCode = 0x0010
	ResultReadBDTNAK          ResultCode = 0x0020
	ResultRegisterFDNAK       ResultCode = 0x0030
	ResultReadFDTNAK          ResultCode = 0x0040
	ResultDeleteFDTNAK        ResultCode = 0x0050
	ResultDistributeBcastNAK  ResultCode = 0x0060
	ResultUnknownFunctionNAK  ResultCode = 0x0001
)

// Sentinel decode errors.
var (
	ErrInvalidType       = errors.New("bvll: type octet is not 0x81")
	ErrTooShort          = errors.New("bvll: frame shorter than header")
	ErrLengthMismatch    = errors.New("bvll: declared length does not match frame size")
	ErrUnknownFunction   = errors.New("bvll: unknown function code")
	ErrPayloadTooShort   = errors.New("bvll: payload too short for function")
	ErrPayloadMisaligned = errors.New("bvll: payload length not a multiple of entry size")
)

// Frame is a decoded BVLL frame: the 4-byte header plus raw payload bytes.
// Function-specific payload decoding is performed by separate functions
// below (DecodeBDTEntries, DecodeForwardedNPDU, etc.) operating on
// Frame.Payload, after Decode has validated the header.
type Frame struct {
	Function Function
	Payload  []byte
}

// Encode serializes a Frame into a newly allocated buffer: 4-byte header
// followed by payload.
func Encode(f Frame) []byte {
	total := HeaderSize + len(f.Payload)
	buf := make([]byte, total)
	buf[0] = Type
	buf[1] = uint8(f.Function)
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Decode parses a BVLL frame from buf, validating the type octet and the
// declared total length against the actual buffer size: decoding rejects
// type != 0x81 and declared length != actual.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("bvll: got %d bytes, need at least %d: %w", len(buf), HeaderSize, ErrTooShort)
	}
	if buf[0] != Type {
		return Frame{}, fmt.Errorf("bvll: type octet 0x%02X: %w", buf[0], ErrInvalidType)
	}

	declared := binary.BigEndian.Uint16(buf[2:4])
	if int(declared) != len(buf) {
		return Frame{}, fmt.Errorf("bvll: declared length %d, actual %d: %w", declared, len(buf), ErrLengthMismatch)
	}

	return Frame{
		Function: Function(buf[1]),
		Payload:  buf[HeaderSize:],
	}, nil
}

// EncodeResult builds a BVLL-Result frame carrying code.
func EncodeResult(code ResultCode) []byte {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(code))
	return Encode(Frame{Function: FunctionResult, Payload: payload})
}

// DecodeResult extracts the result code from a Result frame's payload.
func DecodeResult(payload []byte) (ResultCode, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("bvll: result payload %d bytes, want 2: %w", len(payload), ErrPayloadTooShort)
	}
	return ResultCode(binary.BigEndian.Uint16(payload)), nil
}

// EncodeRegisterForeignDevice builds a Register-Foreign-Device frame with
// the given TTL in seconds.
func EncodeRegisterForeignDevice(ttl uint16) []byte {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, ttl)
	return Encode(Frame{Function: FunctionRegisterForeignDevice, Payload: payload})
}

// DecodeRegisterForeignDevice extracts the requested TTL in seconds.
func DecodeRegisterForeignDevice(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("bvll: register-FD payload %d bytes, want 2: %w", len(payload), ErrPayloadTooShort)
	}
	return binary.BigEndian.Uint16(payload), nil
}

// EncodeReadBroadcastDistributionTable builds an empty-payload
// Read-Broadcast-Distribution-Table frame.
func EncodeReadBroadcastDistributionTable() []byte {
	return Encode(Frame{Function: FunctionReadBroadcastDistributionTable})
}

// EncodeReadForeignDeviceTable builds an empty-payload
// Read-Foreign-Device-Table frame.
func EncodeReadForeignDeviceTable() []byte {
	return Encode(Frame{Function: FunctionReadForeignDeviceTable})
}

// EncodeDistributeBroadcastToNetwork builds a
// Distribute-Broadcast-To-Network frame wrapping the given NPDU bytes.
func EncodeDistributeBroadcastToNetwork(npdu []byte) []byte {
	return Encode(Frame{Function: FunctionDistributeBroadcastToNetwork, Payload: npdu})
}

// EncodeOriginalUnicastNPDU builds an Original-Unicast-NPDU frame wrapping npdu.
func EncodeOriginalUnicastNPDU(npdu []byte) []byte {
	return Encode(Frame{Function: FunctionOriginalUnicastNPDU, Payload: npdu})
}

// EncodeOriginalBroadcastNPDU builds an Original-Broadcast-NPDU frame wrapping npdu.
func EncodeOriginalBroadcastNPDU(npdu []byte) []byte {
	return Encode(Frame{Function: FunctionOriginalBroadcastNPDU, Payload: npdu})
}

// EncodeDeleteForeignDeviceTableEntry builds a
// Delete-Foreign-Device-Table-Entry frame addressing the given 6-byte
// (ip+port) mac.
func EncodeDeleteForeignDeviceTableEntry(mac [6]byte) []byte {
	return Encode(Frame{Function: FunctionDeleteForeignDeviceTableEntry, Payload: mac[:]})
}

// DecodeDeleteForeignDeviceTableEntry extracts the 6-byte address.
func DecodeDeleteForeignDeviceTableEntry(payload []byte) ([6]byte, error) {
	var mac [6]byte
	if len(payload) != 6 {
		return mac, fmt.Errorf("bvll: delete-FDT-entry payload %d bytes, want 6: %w", len(payload), ErrPayloadTooShort)
	}
	copy(mac[:], payload)
	return mac, nil
}

// EncodeForwardedNPDU builds a Forwarded-NPDU frame: 6-byte origin
// address (ip+port) followed by the NPDU bytes.
func EncodeForwardedNPDU(origin [6]byte, npdu []byte) []byte {
	payload := make([]byte, 6+len(npdu))
	copy(payload[:6], origin[:])
	copy(payload[6:], npdu)
	return Encode(Frame{Function: FunctionForwardedNPDU, Payload: payload})
}

// DecodeForwardedNPDU splits a Forwarded-NPDU frame's payload into its
// 6-byte origin address and the embedded NPDU.
func DecodeForwardedNPDU(payload []byte) (origin [6]byte, npdu []byte, err error) {
	if len(payload) < 6 {
		return origin, nil, fmt.Errorf("bvll: forwarded-NPDU payload %d bytes, need at least 6: %w", len(payload), ErrPayloadTooShort)
	}
	copy(origin[:], payload[:6])
	return origin, payload[6:], nil
}
