package chain

import (
	"fmt"
)

// ValidationError reports the first bad header of a batch. Headers
// before Index were accepted and persisted; the remainder of the batch
// was discarded.
type ValidationError struct {
	// Index of the first bad header within the batch.
	Index int
	// Height the bad header would have been accepted at.
	Height uint32
	// Underlying linkage or proof-of-work failure.
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid header at batch index %d (height %d): %v", e.Index, e.Height, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ProtocolMismatchError reports a batch that cannot be linked to the
// requested locator at all: its first header does not connect to the
// current tip. Treated like a stall for rotation purposes, but logged
// distinctly since it may indicate a locator-construction bug rather
// than a peer problem.
type ProtocolMismatchError struct {
	TipHash   string
	GotPrev   string
	TipHeight uint32
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf(
		"header batch does not connect: first header references %s, tip at height %d is %s",
		e.GotPrev, e.TipHeight, e.TipHash,
	)
}
