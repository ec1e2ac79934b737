package statestore

import (
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dashpay/spvsync/types"
)

// stateVersion is the version of the persisted record layout. Records
// carrying any other version are rejected on load rather than being
// silently misinterpreted.
const stateVersion = 1

// PersistedChainState is the aggregate the store persists: chain tip,
// sync progress, the checkpoint list and accumulated chain work. The
// supervisor holds the only mutable handle during an active session.
type PersistedChainState struct {
	Network     string
	ChainTip    types.ChainTip
	Progress    types.SyncProgress
	Checkpoints []types.Checkpoint
	ChainWork   *big.Int
}

// ActiveCheckpoint returns the checkpoint the stored chain is rooted at,
// or nil when the chain starts at genesis.
func (s *PersistedChainState) ActiveCheckpoint() *types.Checkpoint {
	if len(s.Checkpoints) == 0 {
		return nil
	}
	cp := s.Checkpoints[len(s.Checkpoints)-1]
	return &cp
}

// BaseHeight returns the height below which no headers are stored: the
// active checkpoint height, or zero for a genesis-rooted chain.
func (s *PersistedChainState) BaseHeight() uint32 {
	if cp := s.ActiveCheckpoint(); cp != nil {
		return cp.Height
	}
	return 0
}

// Copy returns a deep copy, used to hand read-only snapshots to pollers
// without exposing the supervisor's mutable handle.
func (s *PersistedChainState) Copy() *PersistedChainState {
	cp := *s
	cp.Checkpoints = append([]types.Checkpoint(nil), s.Checkpoints...)
	if s.ChainWork != nil {
		cp.ChainWork = new(big.Int).Set(s.ChainWork)
	}
	return &cp
}

// stateRecord is the serialized layout of PersistedChainState. Hashes
// are hex strings in display order, chain work is a hex integer.
type stateRecord struct {
	Version      int                `json:"version"`
	Network      string             `json:"network"`
	ChainTip     tipRecord          `json:"chain_tip"`
	SyncProgress progressRecord     `json:"sync_progress"`
	Checkpoints  []checkpointRecord `json:"checkpoints"`
	ChainWork    string             `json:"chain_work"`
	SavedAt      time.Time          `json:"saved_at"`
}

type tipRecord struct {
	Height   uint32 `json:"height"`
	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash"`
	Time     uint32 `json:"time"`
}

type progressRecord struct {
	HeaderHeight        uint32    `json:"header_height"`
	FilterHeaderHeight  uint32    `json:"filter_header_height"`
	PeerCount           int       `json:"peer_count"`
	HeadersSynced       bool      `json:"headers_synced"`
	FilterHeadersSynced bool      `json:"filter_headers_synced"`
	MasternodesSynced   bool      `json:"masternodes_synced"`
	SyncStart           time.Time `json:"sync_start"`
	LastUpdate          time.Time `json:"last_update"`
}

type checkpointRecord struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
	Time   uint32 `json:"time"`
}

func toRecord(s *PersistedChainState) *stateRecord {
	rec := &stateRecord{
		Version: stateVersion,
		Network: s.Network,
		ChainTip: tipRecord{
			Height:   s.ChainTip.Height,
			Hash:     s.ChainTip.Hash.String(),
			PrevHash: s.ChainTip.PrevHash.String(),
			Time:     s.ChainTip.Time,
		},
		SyncProgress: progressRecord{
			HeaderHeight:        s.Progress.HeaderHeight,
			FilterHeaderHeight:  s.Progress.FilterHeaderHeight,
			PeerCount:           s.Progress.PeerCount,
			HeadersSynced:       s.Progress.HeadersSynced,
			FilterHeadersSynced: s.Progress.FilterHeadersSynced,
			MasternodesSynced:   s.Progress.MasternodesSynced,
			SyncStart:           s.Progress.SyncStart,
			LastUpdate:          s.Progress.LastUpdate,
		},
		ChainWork: "00",
		SavedAt:   time.Now().UTC(),
	}
	if s.ChainWork != nil {
		rec.ChainWork = fmt.Sprintf("%x", s.ChainWork)
	}
	for _, cp := range s.Checkpoints {
		rec.Checkpoints = append(rec.Checkpoints, checkpointRecord{
			Height: cp.Height,
			Hash:   cp.Hash.String(),
			Time:   cp.Time,
		})
	}
	return rec
}

func fromRecord(rec *stateRecord) (*PersistedChainState, error) {
	if rec.Version != stateVersion {
		return nil, &VersionError{Version: rec.Version}
	}

	tipHash, err := chainhash.NewHashFromStr(rec.ChainTip.Hash)
	if err != nil {
		return nil, fmt.Errorf("invalid chain tip hash: %w", err)
	}
	prevHash, err := chainhash.NewHashFromStr(rec.ChainTip.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("invalid chain tip prev hash: %w", err)
	}

	work, ok := new(big.Int).SetString(rec.ChainWork, 16)
	if !ok {
		return nil, fmt.Errorf("invalid chain work: %q", rec.ChainWork)
	}

	s := &PersistedChainState{
		Network: rec.Network,
		ChainTip: types.ChainTip{
			Height:   rec.ChainTip.Height,
			Hash:     *tipHash,
			PrevHash: *prevHash,
			Time:     rec.ChainTip.Time,
		},
		Progress: types.SyncProgress{
			HeaderHeight:        rec.SyncProgress.HeaderHeight,
			FilterHeaderHeight:  rec.SyncProgress.FilterHeaderHeight,
			PeerCount:           rec.SyncProgress.PeerCount,
			HeadersSynced:       rec.SyncProgress.HeadersSynced,
			FilterHeadersSynced: rec.SyncProgress.FilterHeadersSynced,
			MasternodesSynced:   rec.SyncProgress.MasternodesSynced,
			SyncStart:           rec.SyncProgress.SyncStart,
			LastUpdate:          rec.SyncProgress.LastUpdate,
		},
		ChainWork: work,
	}
	for _, cp := range rec.Checkpoints {
		hash, err := chainhash.NewHashFromStr(cp.Hash)
		if err != nil {
			return nil, fmt.Errorf("invalid checkpoint hash at height %d: %w", cp.Height, err)
		}
		s.Checkpoints = append(s.Checkpoints, types.Checkpoint{
			Height: cp.Height,
			Hash:   *hash,
			Time:   cp.Time,
		})
	}
	return s, nil
}
