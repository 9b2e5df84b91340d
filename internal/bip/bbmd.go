package bip

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/stack"
	"github.com/bacstack/bacstack/internal/timesource"
)

// bbmdTickInterval is the FDT expiry sweep period: a tick once a second.
const bbmdTickInterval = 1 * time.Second

// BBMD is the BIPBBMD node: a Broadcast Distribution Management Device
// owning a BDT and an FDT, redistributing broadcasts across both.
type BBMD struct {
	stack.Base

	own       bacaddr.Address // LocalStation
	prefixLen int
	bdt       *BDT
	fdt       *FDT
	clock     timesource.TimeSource
	metrics   MetricsReporter

	tickTimer timesource.Handle
	logger    *slog.Logger
}

// BBMDOption configures optional BBMD behavior at construction.
type BBMDOption func(*BBMD)

// WithBBMDMetrics attaches a MetricsReporter to the layer. If mr is nil,
// the no-op reporter stays in place.
func WithBBMDMetrics(mr MetricsReporter) BBMDOption {
	return func(b *BBMD) {
		if mr != nil {
			b.metrics = mr
		}
	}
}

// NewBBMD constructs a BBMD for own (LocalStation, subnet prefixLen),
// with empty BDT/FDT, driven by clock.
func NewBBMD(own bacaddr.Address, prefixLen int, clock timesource.TimeSource, logger *slog.Logger, opts ...BBMDOption) *BBMD {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BBMD{
		own:       own,
		prefixLen: prefixLen,
		bdt:       NewBDT(),
		fdt:       NewFDT(),
		clock:     clock,
		metrics:   noopMetrics{},
		logger:    logger.With(slog.String("component", "bip.bbmd")),
	}
	b.Base = stack.NewBase(b.logger)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BDT returns the owned Broadcast Distribution Table.
func (b *BBMD) BDT() *BDT { return b.bdt }

// FDT returns the owned Foreign Device Table.
func (b *BBMD) FDT() *FDT { return b.fdt }

// StartTick begins the 1-second FDT expiry sweep.
func (b *BBMD) StartTick() {
	b.scheduleTick()
}

// StopTick cancels the pending FDT expiry sweep.
func (b *BBMD) StopTick() {
	if b.tickTimer != 0 {
		b.clock.Cancel(b.tickTimer)
		b.tickTimer = 0
	}
}

func (b *BBMD) scheduleTick() {
	b.tickTimer = b.clock.CallLater(bbmdTickInterval, func() {
		b.fdt.Tick(int32(bbmdTickInterval / time.Second))
		b.scheduleTick()
	})
}

// Request delegates to Indication, per the stack package convention.
func (b *BBMD) Request(ctx context.Context, p *pdu.PDU) error {
	return b.Indication(ctx, p)
}

// Indication implements downward handling: unicast mirrors BIPSimple; a
// locally-originated broadcast fans out to the local subnet, every BDT
// peer, and every FDT entry.
func (b *BBMD) Indication(ctx context.Context, p *pdu.PDU) error {
	if !p.Destination.IsAddr() {
		return fmt.Errorf("bip: bbmd downward destination is not Address-typed: %s", p.Destination)
	}
	addr := p.Destination.Addr()
	switch addr.Kind {
	case bacaddr.KindLocalStation:
		frame := bvll.Encode(bvll.Frame{Function: bvll.FunctionOriginalUnicastNPDU, Payload: p.Data})
		return b.Indicate(ctx, p.Clone(frame, p.Source, p.Destination))
	case bacaddr.KindLocalBroadcast, bacaddr.KindRemoteBroadcast, bacaddr.KindRemoteStation, bacaddr.KindGlobalBroadcast:
		return b.originateBroadcast(ctx, p, p.Data, b.own)
	default:
		return fmt.Errorf("bip: bbmd downward unroutable destination kind %s", addr.Kind)
	}
}

// originateBroadcast implements the three-step local-origination fan-out,
// with origin as the embedded ForwardedNPDU source: a local subnet
// broadcast, a ForwardedNPDU to every other BDT peer, and a ForwardedNPDU
// to every FDT entry.
func (b *BBMD) originateBroadcast(ctx context.Context, p *pdu.PDU, npdu []byte, origin bacaddr.Address) error {
	localFrame := bvll.Encode(bvll.Frame{Function: bvll.FunctionOriginalBroadcastNPDU, Payload: npdu})
	if err := b.Indicate(ctx, p.Clone(localFrame, p.Source, pdu.AddrEndpoint(bacaddr.LocalBroadcast()))); err != nil {
		return err
	}

	originMac, err := originMacBytes(origin)
	if err != nil {
		return fmt.Errorf("bip: bbmd origin address has no tuple form: %w", err)
	}

	b.forwardToBDT(ctx, p, npdu, originMac)
	b.forwardToFDT(ctx, p, npdu, originMac, bacaddr.Address{})
	return nil
}

// forwardToBDT sends a ForwardedNPDU carrying npdu to every BDT peer
// other than this BBMD itself, addressed to each peer's mask-derived
// broadcast tuple.
func (b *BBMD) forwardToBDT(ctx context.Context, p *pdu.PDU, npdu []byte, originMac [6]byte) {
	sent := 0
	for _, peer := range b.bdt.Entries() {
		if peer.Address.Equal(b.own) {
			continue
		}
		fwdTuple, err := peer.ForwardTuple()
		if err != nil {
			b.logger.WarnContext(ctx, "skipping BDT peer with unroutable tuple", slog.Any("error", err))
			continue
		}
		fwdFrame := bvll.EncodeForwardedNPDU(originMac, npdu)
		dst := pdu.TupleEndpoint(fwdTuple.String())
		if err := b.Indicate(ctx, p.Clone(fwdFrame, p.Source, dst)); err != nil {
			b.logger.WarnContext(ctx, "forwarding to BDT peer failed", slog.Any("error", err))
			continue
		}
		sent++
	}
	b.metrics.AddRedistributionFanout(fanoutRoleBDT, sent)
}

// forwardToFDT sends a ForwardedNPDU carrying npdu to every FDT entry
// except skip (the zero Address matches nothing, forwarding to all).
func (b *BBMD) forwardToFDT(ctx context.Context, p *pdu.PDU, npdu []byte, originMac [6]byte, skip bacaddr.Address) {
	sent := 0
	for _, fd := range b.fdt.Entries() {
		if skip.Kind == bacaddr.KindLocalStation && fd.Address.Equal(skip) {
			continue
		}
		fwdFrame := bvll.EncodeForwardedNPDU(originMac, npdu)
		if err := b.Indicate(ctx, p.Clone(fwdFrame, p.Source, pdu.AddrEndpoint(fd.Address))); err != nil {
			b.logger.WarnContext(ctx, "forwarding to foreign device failed", slog.Any("error", err))
			continue
		}
		sent++
	}
	b.metrics.AddRedistributionFanout(fanoutRoleFDT, sent)
}

func originMacBytes(addr bacaddr.Address) ([6]byte, error) {
	var out [6]byte
	tuple, err := addr.AddrTuple()
	if err != nil {
		return out, err
	}
	mac, err := bacaddr.MacFromAddrPort(tuple)
	if err != nil {
		return out, err
	}
	copy(out[:], mac)
	return out, nil
}

// Confirmation implements upward handling: ordinary
// OriginalUnicastNPDU/OriginalBroadcastNPDU/ForwardedNPDU delivery plus
// two-hop redistribution, and the full set of BBMD-management requests.
func (b *BBMD) Confirmation(ctx context.Context, p *pdu.PDU) error {
	frame, err := bvll.Decode(p.Data)
	if err != nil {
		b.logger.WarnContext(ctx, "dropping malformed BVLL frame", slog.Any("error", err))
		return b.replyResult(ctx, p.Source, bvll.ResultUnknownFunctionNAK)
	}

	switch frame.Function {
	case bvll.FunctionOriginalUnicastNPDU:
		return b.Confirm(ctx, p.Clone(frame.Payload, p.Source, pdu.AddrEndpoint(b.own)))

	case bvll.FunctionOriginalBroadcastNPDU:
		if err := b.Confirm(ctx, p.Clone(frame.Payload, p.Source, pdu.AddrEndpoint(bacaddr.LocalBroadcast()))); err != nil {
			return err
		}
		originMac, err := originMacBytes(peerAddr(p.Source))
		if err != nil {
			b.logger.WarnContext(ctx, "local broadcast source has no tuple form", slog.Any("error", err))
			return nil
		}
		b.forwardToFDT(ctx, p, frame.Payload, originMac, bacaddr.Address{})
		return nil

	case bvll.FunctionForwardedNPDU:
		return b.handleForwardedNPDU(ctx, p, frame.Payload)

	case bvll.FunctionDistributeBroadcastToNetwork:
		return b.handleDistributeBroadcast(ctx, p, frame.Payload)

	case bvll.FunctionRegisterForeignDevice:
		return b.handleRegisterForeignDevice(ctx, p, frame.Payload)

	case bvll.FunctionDeleteForeignDeviceTableEntry:
		return b.handleDeleteFDTEntry(ctx, p, frame.Payload)

	case bvll.FunctionReadBroadcastDistributionTable:
		return b.handleReadBDT(ctx, p)

	case bvll.FunctionWriteBroadcastDistributionTable:
		return b.handleWriteBDT(ctx, p, frame.Payload)

	case bvll.FunctionReadForeignDeviceTable:
		return b.handleReadFDT(ctx, p)

	case bvll.FunctionResult,
		bvll.FunctionReadBroadcastDistributionTableAck,
		bvll.FunctionReadForeignDeviceTableAck:
		// Responses to requests this node issued; propagate up for the
		// requester to match by context.
		return b.Confirm(ctx, p)

	default:
		return b.replyResult(ctx, p.Source, bvll.ResultUnknownFunctionNAK)
	}
}

// peerAddr returns the Address carried by an endpoint that is always
// Address-typed at this layer (the multiplexer guarantees it).
func peerAddr(e pdu.Endpoint) bacaddr.Address {
	if !e.IsAddr() {
		return bacaddr.Address{}
	}
	return e.Addr()
}

// handleForwardedNPDU implements two-hop delivery: a ForwardedNPDU from a
// known BDT peer is delivered up, redistributed to every FDT entry, and
// re-broadcast on the local subnet. From an unknown source it is dropped.
func (b *BBMD) handleForwardedNPDU(ctx context.Context, p *pdu.PDU, payload []byte) error {
	if !b.isBDTPeer(peerAddr(p.Source)) {
		b.logger.WarnContext(ctx, "dropping ForwardedNPDU from unknown BDT peer", slog.String("source", p.Source.String()))
		return nil
	}

	originAddr, npdu, err := decodeForwardedOrigin(payload)
	if err != nil {
		b.logger.WarnContext(ctx, "dropping malformed ForwardedNPDU", slog.Any("error", err))
		return nil
	}

	if err := b.Confirm(ctx, p.Clone(npdu, pdu.AddrEndpoint(originAddr), pdu.AddrEndpoint(bacaddr.LocalBroadcast()))); err != nil {
		return err
	}

	originMac, err := originMacBytes(originAddr)
	if err != nil {
		b.logger.WarnContext(ctx, "forwarded origin has no tuple form", slog.Any("error", err))
		return nil
	}
	b.forwardToFDT(ctx, p, npdu, originMac, bacaddr.Address{})

	// Second hop: re-broadcast on the local subnet as a fresh ForwardedNPDU
	// so local stations still see the true origin, never echoing the frame
	// back toward a BDT peer.
	localFrame := bvll.EncodeForwardedNPDU(originMac, npdu)
	return b.Indicate(ctx, p.Clone(localFrame, pdu.AddrEndpoint(originAddr), pdu.AddrEndpoint(bacaddr.LocalBroadcast())))
}

// handleDistributeBroadcast implements DistributeBroadcastToNetwork
// handling: from a registered foreign device it behaves as if that device
// had originated a local broadcast; otherwise it is NAKed.
func (b *BBMD) handleDistributeBroadcast(ctx context.Context, p *pdu.PDU, npdu []byte) error {
	origin := peerAddr(p.Source)
	if !b.fdt.Contains(origin) {
		return b.replyResult(ctx, p.Source, bvll.ResultDistributeBcastNAK)
	}

	if err := b.Confirm(ctx, p.Clone(npdu, p.Source, pdu.AddrEndpoint(bacaddr.LocalBroadcast()))); err != nil {
		return err
	}

	originMac, err := originMacBytes(origin)
	if err != nil {
		b.logger.WarnContext(ctx, "distribute-broadcast origin has no tuple form", slog.Any("error", err))
		return nil
	}

	// Local stations have not seen this broadcast yet; put it on the
	// subnet as a ForwardedNPDU carrying the foreign device's address.
	localFrame := bvll.EncodeForwardedNPDU(originMac, npdu)
	if err := b.Indicate(ctx, p.Clone(localFrame, p.Source, pdu.AddrEndpoint(bacaddr.LocalBroadcast()))); err != nil {
		b.logger.WarnContext(ctx, "local re-broadcast of distribute failed", slog.Any("error", err))
	}

	b.forwardToBDT(ctx, p, npdu, originMac)
	b.forwardToFDT(ctx, p, npdu, originMac, origin)
	return nil
}

func (b *BBMD) handleRegisterForeignDevice(ctx context.Context, p *pdu.PDU, payload []byte) error {
	ttl, err := bvll.DecodeRegisterForeignDevice(payload)
	if err != nil {
		b.logger.WarnContext(ctx, "dropping malformed RegisterForeignDevice", slog.Any("error", err))
		return b.replyResult(ctx, p.Source, bvll.ResultRegisterFDNAK)
	}
	addr := peerAddr(p.Source)
	if ttl == 0 {
		_ = b.fdt.Delete(addr)
	} else {
		b.fdt.Register(addr, ttl)
	}
	return b.replyResult(ctx, p.Source, bvll.ResultSuccess)
}

func (b *BBMD) handleDeleteFDTEntry(ctx context.Context, p *pdu.PDU, payload []byte) error {
	mac, err := bvll.DecodeDeleteForeignDeviceTableEntry(payload)
	if err != nil {
		b.logger.WarnContext(ctx, "dropping malformed DeleteFDTEntry", slog.Any("error", err))
		return b.replyResult(ctx, p.Source, bvll.ResultDeleteFDTNAK)
	}
	addr, err := bacaddr.NewLocalStation(mac[:])
	if err != nil {
		return b.replyResult(ctx, p.Source, bvll.ResultDeleteFDTNAK)
	}
	if err := b.fdt.Delete(addr); err != nil {
		return b.replyResult(ctx, p.Source, bvll.ResultDeleteFDTNAK)
	}
	return b.replyResult(ctx, p.Source, bvll.ResultSuccess)
}

func (b *BBMD) handleReadBDT(ctx context.Context, p *pdu.PDU) error {
	entries := b.bdt.Entries()
	wire := make([]bvll.BDTEntry, 0, len(entries))
	for _, e := range entries {
		tuple, err := e.Address.AddrTuple()
		if err != nil {
			b.logger.WarnContext(ctx, "skipping unroutable BDT entry in ReadBDT reply", slog.Any("error", err))
			continue
		}
		ip4 := tuple.Addr().As4()
		wire = append(wire, bvll.BDTEntry{IP: ip4, Port: tuple.Port(), Mask: e.Mask})
	}
	frame := bvll.EncodeBDTEntriesAck(wire)
	return b.Indicate(ctx, pdu.New(frame, pdu.AddrEndpoint(b.own), p.Source))
}

func (b *BBMD) handleWriteBDT(ctx context.Context, p *pdu.PDU, payload []byte) error {
	wire, err := bvll.DecodeBDTEntries(payload)
	if err != nil {
		return b.replyResult(ctx, p.Source, bvll.ResultWriteBDTNAK)
	}
	entries := make([]BDTEntry, 0, len(wire))
	for _, w := range wire {
		addr, err := bacaddr.LocalStationFromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(w.IP), w.Port))
		if err != nil {
			return b.replyResult(ctx, p.Source, bvll.ResultWriteBDTNAK)
		}
		entries = append(entries, BDTEntry{Address: addr, Mask: w.Mask})
	}
	if err := b.bdt.Replace(entries); err != nil {
		return b.replyResult(ctx, p.Source, bvll.ResultWriteBDTNAK)
	}
	return b.replyResult(ctx, p.Source, bvll.ResultSuccess)
}

func (b *BBMD) handleReadFDT(ctx context.Context, p *pdu.PDU) error {
	entries := b.fdt.Entries()
	wire := make([]bvll.FDTEntry, 0, len(entries))
	for _, e := range entries {
		tuple, err := e.Address.AddrTuple()
		if err != nil {
			b.logger.WarnContext(ctx, "skipping unroutable FDT entry in ReadFDT reply", slog.Any("error", err))
			continue
		}
		ip4 := tuple.Addr().As4()
		remaining := e.Remaining
		switch {
		case remaining < 0:
			remaining = 0
		case remaining > int32(^uint16(0)):
			remaining = int32(^uint16(0))
		}
		wire = append(wire, bvll.FDTEntry{IP: ip4, Port: tuple.Port(), TTL: e.TTL, Remaining: uint16(remaining)})
	}
	frame := bvll.EncodeFDTEntriesAck(wire)
	return b.Indicate(ctx, pdu.New(frame, pdu.AddrEndpoint(b.own), p.Source))
}

// replyResult sends a BVLL-Result frame with code back down to peer.
func (b *BBMD) replyResult(ctx context.Context, peer pdu.Endpoint, code bvll.ResultCode) error {
	reply := bvll.EncodeResult(code)
	return b.Indicate(ctx, pdu.New(reply, pdu.AddrEndpoint(b.own), peer))
}

func (b *BBMD) isBDTPeer(addr bacaddr.Address) bool {
	for _, e := range b.bdt.Entries() {
		if e.Address.Equal(addr) {
			return true
		}
	}
	return false
}

// Response delegates to Confirmation, per the stack package convention.
func (b *BBMD) Response(ctx context.Context, p *pdu.PDU) error {
	return b.Confirmation(ctx, p)
}
