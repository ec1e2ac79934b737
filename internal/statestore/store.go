package statestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/creachadair/atomicfile"
	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/dashpay/spvsync/types"
)

// ErrNotFound is reported by Load when no state has been persisted yet,
// so the caller can bootstrap a checkpoint.
var ErrNotFound = errors.New("no persisted chain state found")

// VersionError is reported when a persisted record carries an unknown
// layout version.
type VersionError struct {
	Version int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported state version %d (want %d)", e.Version, stateVersion)
}

// Store is the on-disk representation of the header chain and sync
// progress. The aggregate state record lives in a single JSON file that
// is atomically rewritten on every save; the headers themselves live in
// a key-value database keyed by height.
//
// The store is exclusive to one running engine instance. I/O failures
// are reported, never retried internally.
type Store struct {
	statePath string
	db        dbm.DB
}

// NewStore creates a store over the given state-file path and header
// database.
func NewStore(statePath string, db dbm.DB) *Store {
	return &Store{statePath: statePath, db: db}
}

// Load reads the persisted state record. It reports ErrNotFound when no
// record exists and a VersionError when the record's layout version is
// unknown.
func (s *Store) Load() (*PersistedChainState, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read state file", Err: err}
	}

	rec := new(stateRecord)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", s.statePath, err)
	}
	return fromRecord(rec)
}

// Save atomically persists the full state record with
// write-temp-then-rename semantics, so a crash can never leave a
// partially written record behind.
func (s *Store) Save(state *PersistedChainState) error {
	data, err := json.MarshalIndent(toRecord(state), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := atomicfile.WriteAll(s.statePath, bytes.NewReader(data), 0o600); err != nil {
		return &StorageError{Op: "write state file", Err: err}
	}
	return nil
}

// Reset deletes all stored headers and the state record, so the next
// session restarts from a checkpoint or genesis.
func (s *Store) Reset() error {
	batch := s.db.NewBatch()
	defer batch.Close()

	iter, err := s.db.Iterator(nil, nil)
	if err != nil {
		return fmt.Errorf("iterate header db: %w", err)
	}
	for ; iter.Valid(); iter.Next() {
		if err := batch.Delete(iter.Key()); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	iter.Close()

	if err := batch.WriteSync(); err != nil {
		return &StorageError{Op: "clear header db", Err: err}
	}

	if err := os.Remove(s.statePath); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "remove state file", Err: err}
	}
	return nil
}

// SaveHeaders writes a validated run of headers in one synchronous
// batch. The first header is stored at height base.
func (s *Store) SaveHeaders(base uint32, headers []*types.BlockHeader) error {
	if len(headers) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for i, header := range headers {
		if err := batch.Set(headerKey(base+uint32(i)), header.Bytes()); err != nil {
			return err
		}
	}
	if err := batch.WriteSync(); err != nil {
		return &StorageError{Op: "write headers", Err: err}
	}
	return nil
}

// LoadHeader returns the header stored at the given height, or nil when
// no header is stored there.
func (s *Store) LoadHeader(height uint32) (*types.BlockHeader, error) {
	data, err := s.db.Get(headerKey(height))
	if err != nil {
		return nil, &StorageError{Op: fmt.Sprintf("read header at height %d", height), Err: err}
	}
	if data == nil {
		return nil, nil
	}
	return types.HeaderFromBytes(data)
}

// ForEachHeader calls fn for every stored header in ascending height
// order. Used to rebuild the in-memory height index on restart.
func (s *Store) ForEachHeader(fn func(height uint32, header *types.BlockHeader) error) error {
	iter, err := s.db.Iterator(nil, nil)
	if err != nil {
		return fmt.Errorf("iterate header db: %w", err)
	}
	defer iter.Close()

	for ; iter.Valid(); iter.Next() {
		height, err := decodeHeaderKey(iter.Key())
		if err != nil {
			return err
		}
		header, err := types.HeaderFromBytes(iter.Value())
		if err != nil {
			return fmt.Errorf("corrupt header at height %d: %w", height, err)
		}
		if err := fn(height, header); err != nil {
			return err
		}
	}
	return iter.Error()
}

// headerPrefix keeps header keys in their own, height-ordered keyspace.
const headerPrefix = int64(0)

func headerKey(height uint32) []byte {
	key, err := orderedcode.Append(nil, headerPrefix, int64(height))
	if err != nil {
		panic(err)
	}
	return key
}

func decodeHeaderKey(key []byte) (uint32, error) {
	var prefix, height int64
	remaining, err := orderedcode.Parse(string(key), &prefix, &height)
	if err != nil {
		return 0, fmt.Errorf("decode header key: %w", err)
	}
	if len(remaining) != 0 || prefix != headerPrefix {
		return 0, fmt.Errorf("invalid header key %x", key)
	}
	return uint32(height), nil
}
