package planner

import (
	"errors"
	"fmt"
	"time"

	"codask/internal/ir"
)

// State is a node of the plan execution state machine.
type State string

const (
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateReviewing State = "reviewing"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var validTransitions = map[State][]State{
	StatePlanning:  {StateExecuting, StateFailed, StateCancelled, StateAborted},
	StateExecuting: {StateReviewing, StateAborted, StateFailed, StateCancelled},
	StateReviewing: {StateCompleted, StatePlanning, StateAborted, StateCancelled},
}

// ErrInvalidTransition signals a state change the machine does not allow.
var ErrInvalidTransition = errors.New("invalid plan state transition")

func (s State) Terminal() bool {
	_, ok := validTransitions[s]
	return !ok
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionRetrieve    Action = "retrieve"
	ActionInspectUnit Action = "inspect_unit"
	ActionProposeFix  Action = "propose_fix"
	ActionVerify      Action = "verify"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRetrieve, ActionInspectUnit, ActionProposeFix, ActionVerify:
		return true
	}
	return false
}

type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// Fix is the outcome of a propose_fix step. It always names the exact unit and lines.
type Fix struct {
	UnitID   string      `json:"unit_id"`
	Location ir.Location `json:"location"`
	Text     string      `json:"text"`
	Patch    string      `json:"patch,omitempty"`
}

type VerifyStatus string

const (
	VerifyResolved     VerifyStatus = "resolved"
	VerifyStillPresent VerifyStatus = "still_present"
	VerifyUnavailable  VerifyStatus = "unavailable"
	VerifyIntroduced   VerifyStatus = "introduced"
)

// RuleCheck is the verification result for one issue rule.
type RuleCheck struct {
	Rule   string       `json:"rule"`
	Status VerifyStatus `json:"status"`
}

type Verification struct {
	UnitID string       `json:"unit_id"`
	Status VerifyStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Checks []RuleCheck  `json:"checks,omitempty"`
}

type Step struct {
	Index     int        `json:"index"`
	Round     int        `json:"round"`
	Action    Action     `json:"action"`
	Input     string     `json:"input"`
	DependsOn []int      `json:"depends_on,omitempty"`
	Status    StepStatus `json:"status"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`

	UnitIDs      []string      `json:"unit_ids,omitempty"`
	Fix          *Fix          `json:"fix,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
}

// Conclusion is the reviewed result of an execution.
type Conclusion struct {
	Addressed bool     `json:"addressed"`
	Summary   string   `json:"summary"`
	Inspected []string `json:"inspected,omitempty"`
	Missing   []string `json:"missing,omitempty"`
	Fixes     []Fix    `json:"fixes,omitempty"`
}

// Execution is one bounded run of the agent. Its trace is kept whatever the terminal state.
type Execution struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	State      State      `json:"state"`
	Steps      []Step     `json:"steps"`
	Replans    int        `json:"replans"`
	Truncated  int        `json:"truncated,omitempty"`
	PlanSource string     `json:"plan_source"`
	Conclusion Conclusion `json:"conclusion"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`

	Err error `json:"-"`
}

func (e *Execution) transition(to State) error {
	if !canTransition(e.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.State, to)
	}
	e.State = to
	return nil
}

func (e *Execution) nextPending() *Step {
	for i := range e.Steps {
		if e.Steps[i].Status == StepPending {
			return &e.Steps[i]
		}
	}
	return nil
}

// Done reports the steps that finished successfully.
func (e *Execution) Done() []Step {
	var out []Step
	for _, s := range e.Steps {
		if s.Status == StepDone {
			out = append(out, s)
		}
	}
	return out
}

// PlanStepError is an unrecoverable failure of one step's executor.
type PlanStepError struct {
	Step   int
	Action Action
	Err    error
}

func (e *PlanStepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Step, e.Action, e.Err)
}

func (e *PlanStepError) Unwrap() error { return e.Err }

// ErrUnknownUnit is returned when a step names a unit the store does not hold.
var ErrUnknownUnit = errors.New("unknown code unit")
