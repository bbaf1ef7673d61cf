/*
workflow.go - Approval workflow state machine for scheme versions

PURPOSE:
  Governs how a scheme version moves from draft to active. Each version
  follows its own lifecycle; content is frozen once it leaves draft.

STATE MACHINE:
  ┌───────┐ submit ┌──────────────────┐ approve ┌──────────┐ activate ┌────────┐
  │ draft │───────▶│ pending_approval │────────▶│ approved │─────────▶│ active │
  └───────┘        └──────────────────┘         └──────────┘          └────────┘
                            │ reject                                       │ deactivate / expire
                            ▼                                              ▼
                      ┌──────────┐                                   ┌─────────┐
                      │ rejected │                                   │ expired │
                      └──────────┘                                   └─────────┘

  rejected and expired are terminal. A new draft version is created with
  Revise, never by moving a version backwards.

AUDIT:
  Every successful transition appends exactly one SchemeApproval record.
  Replaying a version's records from draft reproduces its current state.

SEE ALSO:
  - workflow_service.go: WorkflowService applies transitions transactionally
*/
package engine

import (
	"fmt"
	"time"
)

// State is a scheme version's lifecycle state.
type State string

const (
	StateDraft           State = "draft"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateActive          State = "active"
	StateExpired         State = "expired"
)

// IsTerminal returns true if no action leaves this state.
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateExpired
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StatePendingApproval, StateApproved, StateRejected, StateActive, StateExpired:
		return true
	}
	return false
}

// Action is a workflow command.
type Action string

const (
	ActionSubmit     Action = "submit"
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
	ActionExpire     Action = "expire"
)

type transitionKey struct {
	from   State
	action Action
}

var transitions = map[transitionKey]State{
	{StateDraft, ActionSubmit}:            StatePendingApproval,
	{StatePendingApproval, ActionApprove}: StateApproved,
	{StatePendingApproval, ActionReject}:  StateRejected,
	{StateApproved, ActionActivate}:       StateActive,
	{StateActive, ActionDeactivate}:       StateExpired,
	{StateActive, ActionExpire}:           StateExpired,
}

// Next returns the state action leads to from `from`, or an
// IllegalTransitionError naming ref.
func Next(ref SchemeRef, from State, action Action) (State, error) {
	to, ok := transitions[transitionKey{from, action}]
	if !ok {
		return "", &IllegalTransitionError{Ref: ref, From: from, Action: action}
	}
	return to, nil
}

// Decision is a reviewer's verdict on a pending version.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) action() (Action, error) {
	switch d {
	case DecisionApprove:
		return ActionApprove, nil
	case DecisionReject:
		return ActionReject, nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrValidation, d)
}

// SystemActor is the actor recorded for automatic transitions.
const SystemActor = "system"

// SchemeApproval is one append-only audit record of a transition.
type SchemeApproval struct {
	ID       ApprovalID `json:"id"`
	SchemeID SchemeID   `json:"scheme_id"`
	Version  int        `json:"version"`
	Action   Action     `json:"action"`
	From     State      `json:"from"`
	To       State      `json:"to"`
	Actor    string     `json:"actor"`
	Comment  string     `json:"comment,omitempty"`
	At       time.Time  `json:"at"`
}

func (a SchemeApproval) Ref() SchemeRef {
	return SchemeRef{SchemeID: a.SchemeID, Version: a.Version}
}

// ReplayApprovals reconstructs a version's state from its approval log,
// starting at draft. Records must be in append order. A record whose From
// does not match the replayed state, or whose transition is illegal, is an
// error: the log has been tampered with or is incomplete.
func ReplayApprovals(records []SchemeApproval) (State, error) {
	state := StateDraft
	for i, rec := range records {
		if rec.From != state {
			return state, fmt.Errorf("approval %d (%s): recorded from %s but replayed state is %s",
				i, rec.ID, rec.From, state)
		}
		to, err := Next(rec.Ref(), state, rec.Action)
		if err != nil {
			return state, fmt.Errorf("approval %d (%s): %w", i, rec.ID, err)
		}
		if to != rec.To {
			return state, fmt.Errorf("approval %d (%s): recorded to %s but %s leads to %s",
				i, rec.ID, rec.To, rec.Action, to)
		}
		state = to
	}
	return state, nil
}
