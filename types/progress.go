package types

import (
	"time"
)

// SyncProgress describes how far the engine has synced. HeaderHeight is
// the highest contiguous validated height. The filter and masternode
// fields are carried in the persisted record for compatibility with the
// full client state layout; this engine only advances headers.
type SyncProgress struct {
	HeaderHeight       uint32
	FilterHeaderHeight uint32
	PeerCount          int

	HeadersSynced       bool
	FilterHeadersSynced bool
	MasternodesSynced   bool

	SyncStart  time.Time
	LastUpdate time.Time
}

// SyncStatus is the supervisor's externally visible condition.
type SyncStatus string

const (
	// SyncStatusIdle means the engine is initialized but not syncing.
	SyncStatusIdle SyncStatus = "idle"
	// SyncStatusSyncing means a sync session is actively requesting
	// headers.
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusSwitching means a stall was detected and the engine is
	// rotating to the next peer group.
	SyncStatusSwitching SyncStatus = "switching-peers"
	// SyncStatusSynced means the last batch was short and headers are
	// caught up with the connected peers.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusUnavailable means every peer group was tried without
	// sustained progress; the session is terminal.
	SyncStatusUnavailable SyncStatus = "unavailable"
)
