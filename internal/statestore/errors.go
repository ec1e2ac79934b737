package statestore

import "fmt"

// StorageError reports an I/O failure reading or writing persisted
// state. It is surfaced to the caller, never retried internally; the
// supervisor treats a failure on save as fatal for the session.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
