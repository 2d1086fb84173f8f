// Package statemachine computes a node's next status and failure counter
// from the outcome of one probe. It is a pure function: no I/O, no
// dependency on a clock beyond the timestamp it is handed.
package statemachine

import (
	"time"

	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// warningThreshold is the fixed early-warning trip point; down gates on
// the per-node configured failure_threshold instead.
const warningThreshold = domain.WarningThreshold

// Update is the set of mutations to persist after one probe (spec §4.2).
// Recovered is true when a success outcome followed at least one failure —
// callers may use it to log a recovery event.
type Update struct {
	ConsecutiveFailures int
	Status              string
	LastCheckAt         time.Time
	Recovered           bool
}

// Apply computes the next state for node given outcome, against node's
// current persisted consecutive_failures and status. It never reads or
// writes the node; callers persist the returned Update themselves.
//
// Down takes precedence over warning: a node skips straight from active to
// down if failure_threshold is reached before consecutive_failures passes
// through exactly 2 on a prior tick (possible when failure_threshold is
// itself ≤ 2). The table in spec §4.2 is evaluated top to bottom; this
// function instead evaluates down first, matching the "prefer the table
// as written, down-before-warning" resolution of the spec's open question
// on threshold overlap.
func Apply(priorConsecutiveFailures int, priorStatus string, outcome Outcome, checkedAt time.Time) Update {
	if outcome.Success {
		return Update{
			ConsecutiveFailures: 0,
			Status:              domain.StatusActive,
			LastCheckAt:         checkedAt,
			Recovered:           priorConsecutiveFailures > 0,
		}
	}

	newCount := priorConsecutiveFailures + 1
	status := priorStatus

	switch {
	case newCount >= outcome.FailureThreshold:
		status = domain.StatusDown
	case newCount >= warningThreshold:
		status = domain.StatusWarning
	}

	return Update{
		ConsecutiveFailures: newCount,
		Status:              status,
		LastCheckAt:         checkedAt,
	}
}

// Outcome is the narrow slice of a probe outcome the engine needs: whether
// it succeeded, and the node's configured failure_threshold (carried
// alongside the outcome rather than re-read from the node, since the
// engine must not depend on mutable node state beyond what its caller
// passes in explicitly).
type Outcome struct {
	Success          bool
	FailureThreshold int
}
