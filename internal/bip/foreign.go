package bip

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bacstack/bacstack/internal/bacaddr"
	"github.com/bacstack/bacstack/internal/bvll"
	"github.com/bacstack/bacstack/internal/pdu"
	"github.com/bacstack/bacstack/internal/stack"
	"github.com/bacstack/bacstack/internal/timesource"
)

// ForeignState is a BIPForeign registration state.
type ForeignState int

const (
	ForeignIdle ForeignState = iota
	ForeignRegistering
	ForeignRegistered
	ForeignUnregistered
)

func (s ForeignState) String() string {
	switch s {
	case ForeignIdle:
		return "IDLE"
	case ForeignRegistering:
		return "REGISTERING"
	case ForeignRegistered:
		return "REGISTERED"
	case ForeignUnregistered:
		return "UNREGISTERED"
	default:
		return "UNKNOWN"
	}
}

// foreignRetransmitSchedule is the registration retransmit delay
// sequence: 5s, 10s, 20s, capped. Once exhausted, the state machine
// gives up and transitions to UNREGISTERED.
var foreignRetransmitSchedule = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// timeoutResultCode is the synthetic Result code surfaced upward when
// registration retries are exhausted without any reply from the BBMD.
const timeoutResultCode bvll.ResultCode = 0xFFFF

// Foreign is the BIPForeign node: a non-BBMD node that registers with a
// BBMD to receive forwarded broadcasts. State transitions run through the
// pure ForeignApplyEvent table; Foreign executes the returned actions.
type Foreign struct {
	stack.Base

	own     bacaddr.Address // LocalStation
	bbmd    bacaddr.Address // LocalStation
	ttl     uint16
	clock   timesource.TimeSource
	metrics MetricsReporter

	logger *slog.Logger

	state           ForeignState
	retryCount      int
	failureCode     bvll.ResultCode
	retransmitTimer timesource.Handle
	renewalTimer    timesource.Handle
}

// ForeignOption configures optional Foreign behavior at construction.
type ForeignOption func(*Foreign)

// WithForeignMetrics attaches a MetricsReporter to the layer. If mr is
// nil, the no-op reporter stays in place.
func WithForeignMetrics(mr MetricsReporter) ForeignOption {
	return func(f *Foreign) {
		if mr != nil {
			f.metrics = mr
		}
	}
}

// NewForeign constructs a Foreign layer for own registering with bbmd at
// the given ttl (seconds), driven by clock.
func NewForeign(own, bbmd bacaddr.Address, ttl uint16, clock timesource.TimeSource, logger *slog.Logger, opts ...ForeignOption) *Foreign {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Foreign{
		own:     own,
		bbmd:    bbmd,
		ttl:     ttl,
		clock:   clock,
		metrics: noopMetrics{},
		logger:  logger.With(slog.String("component", "bip.foreign")),
		state:   ForeignIdle,
	}
	f.Base = stack.NewBase(f.logger)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State reports the current registration state.
func (f *Foreign) State() ForeignState { return f.state }

// Start begins registration.
func (f *Foreign) Start(ctx context.Context) error {
	f.retryCount = 0
	return f.applyEvent(ctx, ForeignEventStart)
}

// Stop cancels any pending timer and returns to IDLE.
func (f *Foreign) Stop() {
	_ = f.applyEvent(context.Background(), ForeignEventStop)
}

// applyEvent runs event through the transition table and executes the
// resulting actions in order. The first action error is returned; later
// actions still run so timer state stays consistent.
func (f *Foreign) applyEvent(ctx context.Context, event ForeignEvent) error {
	res := ForeignApplyEvent(f.state, event)
	if res.Changed {
		f.logger.DebugContext(ctx, "registration state change",
			slog.String("from", res.OldState.String()),
			slog.String("to", res.NewState.String()),
			slog.String("event", event.String()),
		)
	}
	f.state = res.NewState

	var firstErr error
	for _, action := range res.Actions {
		if err := f.execute(ctx, action); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Foreign) execute(ctx context.Context, action ForeignAction) error {
	switch action {
	case ForeignActionSendRegister:
		return f.sendRegister(ctx)
	case ForeignActionScheduleRetransmit:
		f.scheduleRetransmit(ctx)
	case ForeignActionCancelRetransmit:
		f.cancelRetransmit()
	case ForeignActionScheduleRenewal:
		f.scheduleRenewal(ctx)
	case ForeignActionCancelTimers:
		f.cancelRetransmit()
		f.cancelRenewal()
	case ForeignActionReportFailure:
		return f.reportFailure(ctx)
	}
	return nil
}

func (f *Foreign) cancelRetransmit() {
	if f.retransmitTimer != 0 {
		f.clock.Cancel(f.retransmitTimer)
		f.retransmitTimer = 0
	}
}

func (f *Foreign) cancelRenewal() {
	if f.renewalTimer != 0 {
		f.clock.Cancel(f.renewalTimer)
		f.renewalTimer = 0
	}
}

func (f *Foreign) sendRegister(ctx context.Context) error {
	frame := bvll.EncodeRegisterForeignDevice(f.ttl)
	return f.Indicate(ctx, pdu.New(frame, pdu.AddrEndpoint(f.own), pdu.AddrEndpoint(f.bbmd)))
}

func (f *Foreign) scheduleRetransmit(ctx context.Context) {
	idx := f.retryCount
	if idx >= len(foreignRetransmitSchedule) {
		idx = len(foreignRetransmitSchedule) - 1
	}
	delay := foreignRetransmitSchedule[idx]
	f.retransmitTimer = f.clock.CallLater(delay, func() {
		f.onRetransmitFire(ctx)
	})
}

func (f *Foreign) onRetransmitFire(ctx context.Context) {
	f.retransmitTimer = 0
	f.retryCount++
	event := ForeignEventRetransmitDue
	if f.retryCount >= len(foreignRetransmitSchedule) {
		f.failureCode = timeoutResultCode
		event = ForeignEventRetriesExhausted
	}
	if err := f.applyEvent(ctx, event); err != nil {
		f.logger.WarnContext(ctx, "registration retransmit failed", slog.Any("error", err))
	}
}

// scheduleRenewal arms the ttl*0.8 refresh timer. The renewal itself runs
// inside REGISTERED with a fresh retransmit budget; the registration stays
// usable at the BBMD under its grace window while the refresh is in flight.
func (f *Foreign) scheduleRenewal(ctx context.Context) {
	delay := time.Duration(float64(f.ttl) * 0.8 * float64(time.Second))
	f.renewalTimer = f.clock.CallLater(delay, func() {
		f.renewalTimer = 0
		f.retryCount = 0
		if err := f.applyEvent(ctx, ForeignEventRenewalDue); err != nil {
			f.logger.WarnContext(ctx, "re-registration send failed", slog.Any("error", err))
		}
	})
}

// reportFailure surfaces a terminal registration failure to the upper
// layer as a Result PDU carrying the BBMD's last code, or the synthetic
// timeout code when no reply ever arrived.
func (f *Foreign) reportFailure(ctx context.Context) error {
	if f.failureCode == timeoutResultCode {
		f.metrics.IncRegistrationOutcome(outcomeTimeout)
	} else {
		f.metrics.IncRegistrationOutcome(outcomeNAK)
	}
	f.logger.WarnContext(ctx, "foreign registration failed",
		slog.String("bbmd", f.bbmd.String()),
		slog.String("code", fmt.Sprintf("0x%04X", uint16(f.failureCode))),
	)
	frame := bvll.EncodeResult(f.failureCode)
	return f.Confirm(ctx, pdu.New(frame, pdu.AddrEndpoint(f.bbmd), pdu.AddrEndpoint(f.own)))
}

// Request delegates to Indication, per the stack package convention.
func (f *Foreign) Request(ctx context.Context, p *pdu.PDU) error {
	return f.Indication(ctx, p)
}

// Indication implements the downward table: valid only in REGISTERED.
func (f *Foreign) Indication(ctx context.Context, p *pdu.PDU) error {
	if f.state != ForeignRegistered {
		return fmt.Errorf("bip: foreign downward request while in state %s", f.state)
	}
	if !p.Destination.IsAddr() {
		return fmt.Errorf("bip: foreign downward destination is not Address-typed: %s", p.Destination)
	}
	addr := p.Destination.Addr()
	switch addr.Kind {
	case bacaddr.KindLocalStation:
		frame := bvll.Encode(bvll.Frame{Function: bvll.FunctionOriginalUnicastNPDU, Payload: p.Data})
		return f.Indicate(ctx, p.Clone(frame, p.Source, p.Destination))
	case bacaddr.KindLocalBroadcast, bacaddr.KindRemoteBroadcast, bacaddr.KindGlobalBroadcast:
		frame := bvll.EncodeDistributeBroadcastToNetwork(p.Data)
		return f.Indicate(ctx, p.Clone(frame, p.Source, pdu.AddrEndpoint(f.bbmd)))
	default:
		return fmt.Errorf("bip: foreign downward unroutable destination kind %s", addr.Kind)
	}
}

// Confirmation implements the upward table: ordinary traffic is accepted
// exactly as BIPSimple; management frames are silently dropped except a
// Result tied to the in-flight registration.
func (f *Foreign) Confirmation(ctx context.Context, p *pdu.PDU) error {
	frame, err := bvll.Decode(p.Data)
	if err != nil {
		f.logger.WarnContext(ctx, "dropping malformed BVLL frame", slog.Any("error", err))
		return nil
	}

	switch frame.Function {
	case bvll.FunctionOriginalUnicastNPDU:
		return f.Confirm(ctx, p.Clone(frame.Payload, p.Source, pdu.AddrEndpoint(f.own)))

	case bvll.FunctionOriginalBroadcastNPDU:
		return f.Confirm(ctx, p.Clone(frame.Payload, p.Source, pdu.AddrEndpoint(bacaddr.LocalBroadcast())))

	case bvll.FunctionForwardedNPDU:
		originAddr, npdu, err := decodeForwardedOrigin(frame.Payload)
		if err != nil {
			f.logger.WarnContext(ctx, "dropping malformed ForwardedNPDU", slog.Any("error", err))
			return nil
		}
		return f.Confirm(ctx, p.Clone(npdu, pdu.AddrEndpoint(originAddr), pdu.AddrEndpoint(bacaddr.LocalBroadcast())))

	case bvll.FunctionResult:
		return f.handleRegistrationResult(ctx, frame.Payload)

	default:
		// Management frames are not this node's concern while foreign.
		return nil
	}
}

func (f *Foreign) handleRegistrationResult(ctx context.Context, payload []byte) error {
	// A Result matters only while a register frame is in flight: the
	// initial REGISTERING window, or a renewal running inside REGISTERED
	// (marked by its pending retransmit timer).
	inFlight := f.state == ForeignRegistering ||
		(f.state == ForeignRegistered && f.retransmitTimer != 0)
	if !inFlight {
		return nil
	}
	code, err := bvll.DecodeResult(payload)
	if err != nil {
		f.logger.WarnContext(ctx, "dropping malformed Result frame", slog.Any("error", err))
		return nil
	}
	if code == bvll.ResultSuccess {
		f.metrics.IncRegistrationOutcome(outcomeRegistered)
		return f.applyEvent(ctx, ForeignEventACK)
	}
	f.failureCode = code
	return f.applyEvent(ctx, ForeignEventNAK)
}

// Response delegates to Confirmation, per the stack package convention.
func (f *Foreign) Response(ctx context.Context, p *pdu.PDU) error {
	return f.Confirmation(ctx, p)
}
