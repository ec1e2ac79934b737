package supervisor

import (
	"fmt"
)

// Stall classifications.
const (
	// StallAtStart means the height never moved off the checkpoint (or
	// genesis) height: the peer likely cannot serve the requested
	// history at all.
	StallAtStart = "stuck-at-start"
	// StallMidSync means the height advanced past the checkpoint and
	// then stopped: the peer likely stopped responding.
	StallMidSync = "stuck-mid-sync"
)

// StallError is a soft liveness failure: the sync height did not
// advance for the configured number of polls. It drives peer-group
// rotation and is never a hard abort by itself.
type StallError struct {
	Kind       string
	LastHeight uint32
	GroupIndex int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("%s: height %d unchanged on peer group %d", e.Kind, e.LastHeight, e.GroupIndex)
}

// ExhaustionError is terminal: every peer group was tried without
// sustained progress.
type ExhaustionError struct {
	GroupsTried int
	FromHeight  uint32
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf(
		"sync unavailable: %d peer groups tried, no peers could serve history from height %d",
		e.GroupsTried, e.FromHeight,
	)
}
