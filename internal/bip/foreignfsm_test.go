package bip_test

import (
	"slices"
	"testing"

	"github.com/bacstack/bacstack/internal/bip"
)

// TestForeignFSMTransitionTable verifies every transition in the
// foreign-registration table, plus the ignored-pair behavior for events
// that are not applicable in a given state (stale timers, duplicate
// results, duplicate starts).
func TestForeignFSMTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       bip.ForeignState
		event       bip.ForeignEvent
		wantState   bip.ForeignState
		wantChanged bool
		wantActions []bip.ForeignAction
	}{
		// =============================================================
		// IDLE
		// =============================================================
		{
			name:        "Idle+Start->Registering",
			state:       bip.ForeignIdle,
			event:       bip.ForeignEventStart,
			wantState:   bip.ForeignRegistering,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionSendRegister, bip.ForeignActionScheduleRetransmit},
		},
		{
			name:        "Idle+ACK ignored",
			state:       bip.ForeignIdle,
			event:       bip.ForeignEventACK,
			wantState:   bip.ForeignIdle,
			wantChanged: false,
			wantActions: nil,
		},
		{
			name:        "Idle+Stop ignored (already idle)",
			state:       bip.ForeignIdle,
			event:       bip.ForeignEventStop,
			wantState:   bip.ForeignIdle,
			wantChanged: false,
			wantActions: nil,
		},

		// =============================================================
		// REGISTERING
		// =============================================================
		{
			name:        "Registering+ACK->Registered",
			state:       bip.ForeignRegistering,
			event:       bip.ForeignEventACK,
			wantState:   bip.ForeignRegistered,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionCancelRetransmit, bip.ForeignActionScheduleRenewal},
		},
		{
			name:        "Registering+NAK->Unregistered",
			state:       bip.ForeignRegistering,
			event:       bip.ForeignEventNAK,
			wantState:   bip.ForeignUnregistered,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionCancelRetransmit, bip.ForeignActionReportFailure},
		},
		{
			name:        "Registering+RetransmitDue self-loop resends",
			state:       bip.ForeignRegistering,
			event:       bip.ForeignEventRetransmitDue,
			wantState:   bip.ForeignRegistering,
			wantChanged: false,
			wantActions: []bip.ForeignAction{bip.ForeignActionSendRegister, bip.ForeignActionScheduleRetransmit},
		},
		{
			name:        "Registering+RetriesExhausted->Unregistered",
			state:       bip.ForeignRegistering,
			event:       bip.ForeignEventRetriesExhausted,
			wantState:   bip.ForeignUnregistered,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionReportFailure},
		},
		{
			name:        "Registering+Stop->Idle",
			state:       bip.ForeignRegistering,
			event:       bip.ForeignEventStop,
			wantState:   bip.ForeignIdle,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionCancelTimers},
		},
		{
			name:        "Registering+Start ignored (already in flight)",
			state:       bip.ForeignRegistering,
			event:       bip.ForeignEventStart,
			wantState:   bip.ForeignRegistering,
			wantChanged: false,
			wantActions: nil,
		},

		// =============================================================
		// REGISTERED — renewal runs in place, never leaving the state
		// while the refresh is in flight.
		// =============================================================
		{
			name:        "Registered+RenewalDue self-loop resends",
			state:       bip.ForeignRegistered,
			event:       bip.ForeignEventRenewalDue,
			wantState:   bip.ForeignRegistered,
			wantChanged: false,
			wantActions: []bip.ForeignAction{bip.ForeignActionSendRegister, bip.ForeignActionScheduleRetransmit},
		},
		{
			name:        "Registered+ACK self-loop reschedules renewal",
			state:       bip.ForeignRegistered,
			event:       bip.ForeignEventACK,
			wantState:   bip.ForeignRegistered,
			wantChanged: false,
			wantActions: []bip.ForeignAction{bip.ForeignActionCancelRetransmit, bip.ForeignActionScheduleRenewal},
		},
		{
			name:        "Registered+NAK->Unregistered",
			state:       bip.ForeignRegistered,
			event:       bip.ForeignEventNAK,
			wantState:   bip.ForeignUnregistered,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionCancelRetransmit, bip.ForeignActionReportFailure},
		},
		{
			name:        "Registered+RetransmitDue self-loop resends",
			state:       bip.ForeignRegistered,
			event:       bip.ForeignEventRetransmitDue,
			wantState:   bip.ForeignRegistered,
			wantChanged: false,
			wantActions: []bip.ForeignAction{bip.ForeignActionSendRegister, bip.ForeignActionScheduleRetransmit},
		},
		{
			name:        "Registered+RetriesExhausted->Unregistered",
			state:       bip.ForeignRegistered,
			event:       bip.ForeignEventRetriesExhausted,
			wantState:   bip.ForeignUnregistered,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionReportFailure},
		},
		{
			name:        "Registered+Stop->Idle",
			state:       bip.ForeignRegistered,
			event:       bip.ForeignEventStop,
			wantState:   bip.ForeignIdle,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionCancelTimers},
		},

		// =============================================================
		// UNREGISTERED
		// =============================================================
		{
			name:        "Unregistered+Start->Registering",
			state:       bip.ForeignUnregistered,
			event:       bip.ForeignEventStart,
			wantState:   bip.ForeignRegistering,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionSendRegister, bip.ForeignActionScheduleRetransmit},
		},
		{
			name:        "Unregistered+Stop->Idle",
			state:       bip.ForeignUnregistered,
			event:       bip.ForeignEventStop,
			wantState:   bip.ForeignIdle,
			wantChanged: true,
			wantActions: []bip.ForeignAction{bip.ForeignActionCancelTimers},
		},
		{
			name:        "Unregistered+RenewalDue ignored (stale timer)",
			state:       bip.ForeignUnregistered,
			event:       bip.ForeignEventRenewalDue,
			wantState:   bip.ForeignUnregistered,
			wantChanged: false,
			wantActions: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := bip.ForeignApplyEvent(tt.state, tt.event)

			if res.OldState != tt.state {
				t.Errorf("OldState = %v, want %v", res.OldState, tt.state)
			}
			if res.NewState != tt.wantState {
				t.Errorf("NewState = %v, want %v", res.NewState, tt.wantState)
			}
			if res.Changed != tt.wantChanged {
				t.Errorf("Changed = %v, want %v", res.Changed, tt.wantChanged)
			}
			if !slices.Equal(res.Actions, tt.wantActions) {
				t.Errorf("Actions = %v, want %v", res.Actions, tt.wantActions)
			}
		})
	}
}
