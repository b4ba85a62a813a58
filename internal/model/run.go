package model

import "time"

// RunPhase is the coordinator's lifecycle state
type RunPhase string

const (
	PhaseIdle       RunPhase = "idle"
	PhaseRunning    RunPhase = "running"
	PhaseFinalizing RunPhase = "finalizing"
)

// RunState is a snapshot of the live run, emitted on every phase change
type RunState struct {
	ID        string    `json:"id,omitempty"`
	Phase     RunPhase  `json:"phase"`
	Busy      bool      `json:"busy"`
	Command   string    `json:"command,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// OutcomeKind classifies how the external process ended
type OutcomeKind string

const (
	OutcomeExitedOK          OutcomeKind = "exited_ok"
	OutcomeExitedWithError   OutcomeKind = "exited_with_error"
	OutcomeFailedToStart     OutcomeKind = "failed_to_start"
	OutcomeStreamInterrupted OutcomeKind = "stream_interrupted"
	OutcomeCancelled         OutcomeKind = "cancelled"
)

// Outcome is what the process runner reports once the process is gone
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	ExitCode int         `json:"exitCode"`
	Reason   string      `json:"reason,omitempty"`
}

// Success reports whether the run should be shown as successful
func (o Outcome) Success() bool {
	return o.Kind == OutcomeExitedOK
}

// Message is the user-facing notification text for the outcome
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeExitedOK:
		return "Mirrorlist updated successfully!"
	case OutcomeCancelled:
		return "Mirrorlist update cancelled."
	case OutcomeFailedToStart:
		if o.Reason != "" {
			return "Failed to start mirrorlist update: " + o.Reason
		}
		return "Failed to start mirrorlist update."
	default:
		return "Failed to update mirrorlist."
	}
}

// LogLine is one line of captured process output. Seq is the 1-based arrival index within a run.
type LogLine struct {
	Seq  uint64 `json:"seq"`
	Text string `json:"text"`
}

// RunResult is delivered when a run has been finalized
type RunResult struct {
	RunID      string    `json:"runId"`
	Outcome    Outcome   `json:"outcome"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Command    string    `json:"command,omitempty"`
	Log        []LogLine `json:"log"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
