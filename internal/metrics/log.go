package metrics

import (
	"sync"

	"github.com/studiowebux/flux/internal/types"
)

// OutcomeLog is an append-only record of every attempted request, bounded
// only by memory. Appends are linearizable; Snapshot returns an immutable
// copy for the reporter.
type OutcomeLog struct {
	mu       sync.Mutex
	outcomes []types.Outcome
}

func NewOutcomeLog() *OutcomeLog {
	return &OutcomeLog{outcomes: make([]types.Outcome, 0, 1024)}
}

func (l *OutcomeLog) Append(o types.Outcome) {
	l.mu.Lock()
	l.outcomes = append(l.outcomes, o)
	l.mu.Unlock()
}

func (l *OutcomeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outcomes)
}

// Snapshot copies the log. Reads after run termination reflect every
// recorded outcome.
func (l *OutcomeLog) Snapshot() []types.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Outcome, len(l.outcomes))
	copy(out, l.outcomes)
	return out
}
