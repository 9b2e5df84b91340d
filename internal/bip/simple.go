// Package bip implements the three BACnet/IP node variants: BIPSimple
// (ordinary node), BIPForeign (foreign-device registration), and BIPBBMD
// (broadcast distribution management device), plus the BDT/FDT tables
// they share.
//
// Dispatch uses sentinel errors, functional-option construction, and an
// exhaustive switch over a small closed set of wire message kinds rather
// than reflective type dispatch.
package bip

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/stack"
)

// managementNAK maps a BBMD-management function code to the NAK result
// code a non-BBMD node replies with.
var managementNAK = map[bvll.Function]bvll.ResultCode{
	bvll.FunctionWriteBroadcastDistributionTable: bvll.ResultWriteBDTNAK,
	bvll.FunctionReadBroadcastDistributionTable:  bvll.ResultReadBDTNAK,
	bvll.FunctionRegisterForeignDevice:           bvll.ResultRegisterFDNAK,
	bvll.FunctionReadForeignDeviceTable:          bvll.ResultReadFDTNAK,
	bvll.FunctionDeleteForeignDeviceTableEntry:   bvll.ResultDeleteFDTNAK,
	bvll.FunctionDistributeBroadcastToNetwork:    bvll.ResultDistributeBcastNAK,
}

// Simple is the non-BBMD, non-foreign BACnet/IP node.
type Simple struct {
	stack.Base

	own    bacaddr.Address // LocalStation
	logger *slog.Logger
}

// NewSimple constructs a Simple layer for own, a LocalStation address.
func NewSimple(own bacaddr.Address, logger *slog.Logger) *Simple {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simple{own: own, logger: logger.With(slog.String("component", "bip.simple"))}
	s.Base = stack.NewBase(s.logger)
	return s
}

// Request delegates to Indication, per the stack package convention.
func (s *Simple) Request(ctx context.Context, p *pdu.PDU) error {
	return s.Indication(ctx, p)
}

// Indication implements the downward Address-to-BVLL translation.
func (s *Simple) Indication(ctx context.Context, p *pdu.PDU) error {
	out, err := downwardFrame(p.Destination)
	if err != nil {
		return fmt.Errorf("bip: simple downward: %w", err)
	}
	frame := bvll.Encode(bvll.Frame{Function: out.function, Payload: p.Data})
	return s.Indicate(ctx, p.Clone(frame, p.Source, out.destination))
}

// downwardDecision is the result of translating an Address destination
// into a BVLL function and lower-layer destination.
type downwardDecision struct {
	function    bvll.Function
	destination pdu.Endpoint
}

// downwardFrame implements Simple's downward translation table.
func downwardFrame(dst pdu.Endpoint) (downwardDecision, error) {
	if !dst.IsAddr() {
		return downwardDecision{}, fmt.Errorf("bip: destination is not Address-typed: %s", dst)
	}
	addr := dst.Addr()
	switch addr.Kind {
	case bacaddr.KindLocalStation:
		return downwardDecision{function: bvll.FunctionOriginalUnicastNPDU, destination: dst}, nil
	case bacaddr.KindLocalBroadcast:
		return downwardDecision{function: bvll.FunctionOriginalBroadcastNPDU, destination: pdu.AddrEndpoint(bacaddr.LocalBroadcast())}, nil
	case bacaddr.KindRemoteBroadcast, bacaddr.KindRemoteStation, bacaddr.KindGlobalBroadcast:
		// Routed to the local subnet as a broadcast; real internetwork
		// routing happens above this layer.
		return downwardDecision{function: bvll.FunctionOriginalBroadcastNPDU, destination: pdu.AddrEndpoint(bacaddr.LocalBroadcast())}, nil
	default:
		return downwardDecision{}, fmt.Errorf("bip: unroutable destination kind %s", addr.Kind)
	}
}

// Confirmation implements the upward BVLL-to-Address translation.
func (s *Simple) Confirmation(ctx context.Context, p *pdu.PDU) error {
	frame, err := bvll.Decode(p.Data)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping malformed BVLL frame", slog.Any("error", err))
		return s.replyResult(ctx, p.Source, bvll.ResultUnknownFunctionNAK)
	}

	switch frame.Function {
	case bvll.FunctionOriginalUnicastNPDU:
		return s.Confirm(ctx, p.Clone(frame.Payload, p.Source, pdu.AddrEndpoint(s.own)))

	case bvll.FunctionOriginalBroadcastNPDU:
		return s.Confirm(ctx, p.Clone(frame.Payload, p.Source, pdu.AddrEndpoint(bacaddr.LocalBroadcast())))

	case bvll.FunctionForwardedNPDU:
		originAddr, npdu, err := decodeForwardedOrigin(frame.Payload)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping malformed ForwardedNPDU", slog.Any("error", err))
			return nil
		}
		return s.Confirm(ctx, p.Clone(npdu, pdu.AddrEndpoint(originAddr), pdu.AddrEndpoint(bacaddr.LocalBroadcast())))

	case bvll.FunctionResult,
		bvll.FunctionReadBroadcastDistributionTableAck,
		bvll.FunctionReadForeignDeviceTableAck:
		// Responses to requests this node issued; propagate up for the
		// requester to match by context.
		return s.Confirm(ctx, p)

	default:
		if nak, ok := managementNAK[frame.Function]; ok {
			return s.replyResult(ctx, p.Source, nak)
		}
		return s.replyResult(ctx, p.Source, bvll.ResultUnknownFunctionNAK)
	}
}

// Response delegates to Confirmation, per the stack package convention.
func (s *Simple) Response(ctx context.Context, p *pdu.PDU) error {
	return s.Confirmation(ctx, p)
}

// replyResult sends a BVLL-Result frame with code back down to peer.
func (s *Simple) replyResult(ctx context.Context, peer pdu.Endpoint, code bvll.ResultCode) error {
	reply := bvll.EncodeResult(code)
	return s.Indicate(ctx, pdu.New(reply, pdu.AddrEndpoint(s.own), peer))
}
