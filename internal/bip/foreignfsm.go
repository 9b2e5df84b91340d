package bip

// This file implements the foreign-device registration state machine as a
// pure function over a transition table -- no side effects, no Foreign
// dependency. The caller (Foreign) executes the returned actions, so the
// machine itself stays trivially testable.
//
// State diagram:
//
//	          start                 Result(0x0000)
//	  IDLE ----------> REGISTERING ----------------> REGISTERED --+
//	   ^                |  ^    |                     ^  |        | renewal due,
//	   |          NAK / |  |    | retransmit due      +--+        | retransmit due,
//	   |      retries   |  +----+ (resend register)  (renewal     | ACK (self-loops)
//	   |      exhausted |                             in flight)  |
//	   |                v              NAK / renewal retries      |
//	   +---------- UNREGISTERED <---------- exhausted ------------+
//	     stop            |   start
//	   (from any state)  +-------> REGISTERING
//
// A renewal does not leave REGISTERED: the existing registration stays
// valid at the BBMD under its ttl+30s grace while the refresh is in
// flight, so downward traffic must stay valid too. Only an explicit NAK
// or an exhausted renewal retry schedule drops the device to
// UNREGISTERED.

// ForeignEvent is an input to the registration state machine.
type ForeignEvent uint8

const (
	// ForeignEventStart is the local request to begin (or retry)
	// registration with the configured BBMD.
	ForeignEventStart ForeignEvent = iota

	// ForeignEventStop is the local request to abandon registration and
	// return to IDLE.
	ForeignEventStop

	// ForeignEventACK is the receipt of Result 0x0000 for an in-flight
	// registration.
	ForeignEventACK

	// ForeignEventNAK is the receipt of a non-zero Result for an in-flight
	// registration.
	ForeignEventNAK

	// ForeignEventRetransmitDue fires when the retransmit timer expires
	// with attempts still remaining.
	ForeignEventRetransmitDue

	// ForeignEventRetriesExhausted fires when the retransmit timer expires
	// with no attempts remaining.
	ForeignEventRetriesExhausted

	// ForeignEventRenewalDue fires at ttl*0.8 after a successful
	// registration, triggering re-registration.
	ForeignEventRenewalDue
)

// String returns the human-readable name of the event.
func (e ForeignEvent) String() string {
	switch e {
	case ForeignEventStart:
		return "Start"
	case ForeignEventStop:
		return "Stop"
	case ForeignEventACK:
		return "ACK"
	case ForeignEventNAK:
		return "NAK"
	case ForeignEventRetransmitDue:
		return "RetransmitDue"
	case ForeignEventRetriesExhausted:
		return "RetriesExhausted"
	case ForeignEventRenewalDue:
		return "RenewalDue"
	default:
		return "Unknown"
	}
}

// ForeignAction is a side-effect the caller must execute after a
// transition. Actions are executed in the order listed.
type ForeignAction uint8

const (
	// ForeignActionSendRegister transmits a Register-Foreign-Device frame
	// to the configured BBMD.
	ForeignActionSendRegister ForeignAction = iota + 1

	// ForeignActionScheduleRetransmit arms the next retransmit timer on
	// the 5s/10s/20s-capped schedule.
	ForeignActionScheduleRetransmit

	// ForeignActionCancelRetransmit disarms a pending retransmit timer.
	ForeignActionCancelRetransmit

	// ForeignActionScheduleRenewal arms the ttl*0.8 re-registration timer.
	ForeignActionScheduleRenewal

	// ForeignActionCancelTimers disarms every pending timer.
	ForeignActionCancelTimers

	// ForeignActionReportFailure surfaces the registration failure to the
	// upper layer as a Result PDU (the BBMD's code, or a synthetic 0xFFFF
	// when retries timed out with no reply).
	ForeignActionReportFailure
)

// String returns the human-readable name of the action.
func (a ForeignAction) String() string {
	switch a {
	case ForeignActionSendRegister:
		return "SendRegister"
	case ForeignActionScheduleRetransmit:
		return "ScheduleRetransmit"
	case ForeignActionCancelRetransmit:
		return "CancelRetransmit"
	case ForeignActionScheduleRenewal:
		return "ScheduleRenewal"
	case ForeignActionCancelTimers:
		return "CancelTimers"
	case ForeignActionReportFailure:
		return "ReportFailure"
	default:
		return "Unknown"
	}
}

// foreignStateEvent is the transition table key: current state + event.
type foreignStateEvent struct {
	state ForeignState
	event ForeignEvent
}

// foreignTransition is the target state and side-effects for one entry.
type foreignTransition struct {
	newState ForeignState
	actions  []ForeignAction
}

// ForeignFSMResult holds the outcome of applying an event.
type ForeignFSMResult struct {
	// OldState is the state before the event was applied.
	OldState ForeignState

	// NewState is the state after the event was applied. Equal to OldState
	// when the event is ignored or a self-loop.
	NewState ForeignState

	// Actions lists the side-effects the caller must execute, in order.
	Actions []ForeignAction

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// foreignFSMTable is the complete registration transition table. Unlisted
// (state, event) pairs are silently ignored: a Result arriving in IDLE or
// UNREGISTERED, a stale timer firing after Stop, a duplicate Start.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var foreignFSMTable = map[foreignStateEvent]foreignTransition{
	// IDLE: only Start leaves it.
	{ForeignIdle, ForeignEventStart}: {
		newState: ForeignRegistering,
		actions:  []ForeignAction{ForeignActionSendRegister, ForeignActionScheduleRetransmit},
	},

	// REGISTERING: the in-flight window.
	{ForeignRegistering, ForeignEventACK}: {
		newState: ForeignRegistered,
		actions:  []ForeignAction{ForeignActionCancelRetransmit, ForeignActionScheduleRenewal},
	},
	{ForeignRegistering, ForeignEventNAK}: {
		newState: ForeignUnregistered,
		actions:  []ForeignAction{ForeignActionCancelRetransmit, ForeignActionReportFailure},
	},
	{ForeignRegistering, ForeignEventRetransmitDue}: {
		newState: ForeignRegistering,
		actions:  []ForeignAction{ForeignActionSendRegister, ForeignActionScheduleRetransmit},
	},
	{ForeignRegistering, ForeignEventRetriesExhausted}: {
		newState: ForeignUnregistered,
		actions:  []ForeignAction{ForeignActionReportFailure},
	},
	{ForeignRegistering, ForeignEventStop}: {
		newState: ForeignIdle,
		actions:  []ForeignAction{ForeignActionCancelTimers},
	},

	// REGISTERED: renewal runs in place — the registration stays usable
	// while the refresh is in flight, with its own retransmit budget.
	{ForeignRegistered, ForeignEventRenewalDue}: {
		newState: ForeignRegistered,
		actions:  []ForeignAction{ForeignActionSendRegister, ForeignActionScheduleRetransmit},
	},
	{ForeignRegistered, ForeignEventACK}: {
		newState: ForeignRegistered,
		actions:  []ForeignAction{ForeignActionCancelRetransmit, ForeignActionScheduleRenewal},
	},
	{ForeignRegistered, ForeignEventNAK}: {
		newState: ForeignUnregistered,
		actions:  []ForeignAction{ForeignActionCancelRetransmit, ForeignActionReportFailure},
	},
	{ForeignRegistered, ForeignEventRetransmitDue}: {
		newState: ForeignRegistered,
		actions:  []ForeignAction{ForeignActionSendRegister, ForeignActionScheduleRetransmit},
	},
	{ForeignRegistered, ForeignEventRetriesExhausted}: {
		newState: ForeignUnregistered,
		actions:  []ForeignAction{ForeignActionReportFailure},
	},
	{ForeignRegistered, ForeignEventStop}: {
		newState: ForeignIdle,
		actions:  []ForeignAction{ForeignActionCancelTimers},
	},

	// UNREGISTERED: a terminal state until the caller starts over.
	{ForeignUnregistered, ForeignEventStart}: {
		newState: ForeignRegistering,
		actions:  []ForeignAction{ForeignActionSendRegister, ForeignActionScheduleRetransmit},
	},
	{ForeignUnregistered, ForeignEventStop}: {
		newState: ForeignIdle,
		actions:  []ForeignAction{ForeignActionCancelTimers},
	},
}

// ForeignApplyEvent applies event to the given state and returns the
// result. This is a pure function with no side effects; the caller
// executes the returned actions (sending frames, arming timers, surfacing
// failures). An unlisted (state, event) pair is silently ignored.
func ForeignApplyEvent(currentState ForeignState, event ForeignEvent) ForeignFSMResult {
	key := foreignStateEvent{state: currentState, event: event}

	tr, ok := foreignFSMTable[key]
	if !ok {
		return ForeignFSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}

	return ForeignFSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
