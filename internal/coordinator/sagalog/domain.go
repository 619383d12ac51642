// Package sagalog is the append-only placement log written by the
// coordinator. Every state change of a saga is a new row, so the latest row
// per saga is its current state.
//
// The reconciler reads it to find placements that stopped half way (process
// crash, failed compensation) and repairs them.
package sagalog

import (
	"errors"
	"time"
)

type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusStepDone     Status = "STEP_DONE"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	// StatusCompensated means a step failed and every finished step was undone.
	StatusCompensated Status = "COMPENSATED"
	// StatusFailed means at least one compensation failed too.
	StatusFailed Status = "FAILED"
	// StatusRestoring is written right before a compensating write whose
	// outcome must be checkable after a crash. Checkpoint holds the version
	// the write expects.
	StatusRestoring Status = "RESTORING"
	// StatusReconciled is written by the reconciler once it has repaired a saga.
	StatusReconciled Status = "RECONCILED"
)

// Settled reports whether no further repair can be needed.
func (s Status) Settled() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusReconciled:
		return true
	}
	return false
}

var ErrNotFound = errors.New("sagalog: saga not found")

// SagaLog is one row of the log.
type SagaLog struct {
	// SagaID is the order id of the placement.
	SagaID string
	Status Status
	// CurrentStep names the step that just finished or failed.
	CurrentStep string
	// Payload is the JSON input of the saga. Only the STARTED row stores it;
	// ListUnsettled copies it onto the row it returns.
	Payload string
	// Checkpoint is step specific resume data, empty for most rows.
	Checkpoint string
	// ErrorMessages is a JSON array of failure details.
	ErrorMessages string
	TraceID       string
	SpanID        string
	UpdatedAt     time.Time
}
