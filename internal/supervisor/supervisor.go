// Package supervisor drives the header-sync session: it requests
// headers through the transport, feeds responses to the chain
// extender, polls progress for stall detection, and rotates through
// peer groups until sync completes or the pool is exhausted.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/creachadair/taskgroup"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/chain"
	"github.com/dashpay/spvsync/internal/peers"
	"github.com/dashpay/spvsync/internal/statestore"
	"github.com/dashpay/spvsync/libs/log"
	"github.com/dashpay/spvsync/libs/service"
	"github.com/dashpay/spvsync/types"
)

var _ service.Service = (*Supervisor)(nil)

// Supervisor is the top-level sync driver. A single goroutine owns the
// transport session and the only mutable handle on the chain; status
// and progress are read through snapshots at any rate.
type Supervisor struct {
	service.BaseService
	logger log.Logger

	syncCfg   *config.SyncConfig
	chain     *chain.Chain
	pool      *peers.Pool
	transport Transport
	metrics   *Metrics

	cancel context.CancelFunc
	tasks  *taskgroup.Group

	mtx         sync.RWMutex
	status      types.SyncStatus
	groupIndex  int
	lastStall   *StallError
	terminalErr error
}

// NewSupervisor returns a supervisor over an already-bootstrapped
// chain. The chain must be rooted at its checkpoint (or genesis)
// before the supervisor is started; see the bootstrap package.
func NewSupervisor(
	logger log.Logger,
	syncCfg *config.SyncConfig,
	ch *chain.Chain,
	pool *peers.Pool,
	transport Transport,
	metrics *Metrics,
) *Supervisor {
	s := &Supervisor{
		logger:    logger,
		syncCfg:   syncCfg,
		chain:     ch,
		pool:      pool,
		transport: transport,
		metrics:   metrics,
		status:    types.SyncStatusIdle,
	}
	s.BaseService = *service.NewBaseService(logger, "Supervisor", s)
	return s
}

// OnStart launches the sync routine.
func (s *Supervisor) OnStart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.tasks = taskgroup.New(taskgroup.Trigger(cancel))
	s.tasks.Go(func() error {
		s.syncRoutine(ctx)
		return nil
	})
	return nil
}

// OnStop signals the sync routine to exit and blocks until it has.
func (s *Supervisor) OnStop() {
	s.cancel()
	_ = s.tasks.Wait()
}

// Status returns the supervisor's externally visible condition.
func (s *Supervisor) Status() types.SyncStatus {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.status
}

// TerminalErr returns the error that ended the session, if any.
// Non-nil only when Status is unavailable.
func (s *Supervisor) TerminalErr() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.terminalErr
}

// LastStall returns the most recent stall classification, so no
// liveness failure goes unobserved.
func (s *Supervisor) LastStall() *StallError {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.lastStall
}

// GroupIndex returns the index of the peer group currently in use.
func (s *Supervisor) GroupIndex() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.groupIndex
}

// Progress returns a read-only snapshot of the persisted sync state. It
// reflects the latest persisted state, never speculative in-flight
// data.
func (s *Supervisor) Progress() types.SyncProgress {
	return s.chain.StateSnapshot().Progress
}

func (s *Supervisor) setStatus(status types.SyncStatus) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.status = status
}

func (s *Supervisor) setTerminal(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.status = types.SyncStatusUnavailable
	s.terminalErr = err
}

func (s *Supervisor) recordStall(stall *StallError) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.lastStall = stall
	s.status = types.SyncStatusSwitching
}

// syncRoutine walks the peer-group sequence. Progress persists across
// rotations: each new group resumes from the last persisted height,
// never from the checkpoint or genesis again.
func (s *Supervisor) syncRoutine(ctx context.Context) {
	for {
		s.mtx.RLock()
		index := s.groupIndex
		s.mtx.RUnlock()

		group, err := s.pool.Group(index)
		if errors.Is(err, peers.ErrExhausted) {
			exhaustion := &ExhaustionError{
				GroupsTried: index,
				FromHeight:  s.chain.TipHeight(),
			}
			s.logger.Error("peer groups exhausted", "err", exhaustion)
			s.setTerminal(exhaustion)
			return
		}

		rotate, fatal := s.runGroup(ctx, group)
		if fatal != nil {
			s.logger.Error("sync session failed", "err", fatal)
			s.setTerminal(fatal)
			return
		}
		if !rotate {
			return
		}

		s.mtx.Lock()
		s.groupIndex++
		s.mtx.Unlock()
		s.metrics.Rotations.Add(1)
	}
}

// runGroup runs one peer group until the chain is synced (rotate
// false), a stall or validation failure demands the next group (rotate
// true), or a fatal error ends the session. The deferred session close
// confirms teardown before the caller may connect the next group.
func (s *Supervisor) runGroup(ctx context.Context, group peers.Group) (rotate bool, fatal error) {
	logger := s.logger.With("group", group.Index)
	base := s.chain.BaseHeight()

	logger.Info("connecting peer group",
		"peers", group.Addresses, "resume_height", s.chain.TipHeight())

	session, err := s.transport.Connect(ctx, group)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		logger.Error("failed to connect peer group", "err", err)
		s.recordStall(&StallError{
			Kind:       stallKind(s.chain.TipHeight(), base),
			LastHeight: s.chain.TipHeight(),
			GroupIndex: group.Index,
		})
		return true, nil
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Error("error closing peer session", "err", cerr)
		}
	}()

	s.setStatus(types.SyncStatusSyncing)

	sendRequest := func() bool {
		locator := s.chain.BuildLocator()
		if err := session.SendGetHeaders(ctx, locator, chainhash.Hash{}); err != nil {
			if ctx.Err() != nil {
				return false
			}
			logger.Error("failed to send header request", "err", err)
		}
		return true
	}
	if !sendRequest() {
		return false, nil
	}

	pollTicker := time.NewTicker(s.syncCfg.PollInterval)
	defer pollTicker.Stop()
	resendTimer := time.NewTimer(s.syncCfg.RequestTimeout)
	defer resendTimer.Stop()

	var (
		lastHeight    = s.chain.TipHeight()
		checksAtStart = 0
		checksMidSync = 0
	)

	for {
		select {
		case <-ctx.Done():
			return false, nil

		case batch, ok := <-session.Headers():
			if !ok {
				// Session ended underneath us; try the next group.
				logger.Info("peer session closed", "height", s.chain.TipHeight())
				s.recordStall(&StallError{
					Kind:       stallKind(s.chain.TipHeight(), base),
					LastHeight: s.chain.TipHeight(),
					GroupIndex: group.Index,
				})
				return true, nil
			}

			done, rot, err := s.handleBatch(logger, batch, group.Index)
			if err != nil {
				return false, err
			}
			if done || rot {
				return rot, nil
			}

			if !resendTimer.Stop() {
				select {
				case <-resendTimer.C:
				default:
				}
			}
			resendTimer.Reset(s.syncCfg.RequestTimeout)
			if !sendRequest() {
				return false, nil
			}

		case <-resendTimer.C:
			// No response within the request timeout: re-issue the
			// request to the same group. Persistent silence is caught
			// by stall detection below.
			logger.Info("header request timed out, re-requesting",
				"height", s.chain.TipHeight())
			resendTimer.Reset(s.syncCfg.RequestTimeout)
			if !sendRequest() {
				return false, nil
			}

		case <-pollTicker.C:
			height := s.chain.TipHeight()
			s.chain.SetPeerCount(session.PeerCount())
			s.metrics.Peers.Set(float64(session.PeerCount()))
			s.metrics.TipHeight.Set(float64(height))

			if height != lastHeight {
				lastHeight = height
				checksAtStart = 0
				checksMidSync = 0
				continue
			}

			var stall *StallError
			if height == base {
				checksAtStart++
				if checksAtStart >= s.syncCfg.StuckAtStartPolls {
					stall = &StallError{Kind: StallAtStart, LastHeight: height, GroupIndex: group.Index}
				}
			} else {
				checksMidSync++
				if checksMidSync >= s.syncCfg.StuckMidSyncPolls {
					stall = &StallError{Kind: StallMidSync, LastHeight: height, GroupIndex: group.Index}
				}
			}
			if stall != nil {
				logger.Error("sync stalled, switching peer group", "err", stall)
				s.recordStall(stall)
				return true, nil
			}
		}
	}
}

// handleBatch feeds a response batch to the chain extender and maps the
// outcome to supervisor decisions: done ends the session as synced,
// rotate moves on to the next peer group, err is fatal.
func (s *Supervisor) handleBatch(logger log.Logger, batch []*types.BlockHeader, groupIndex int) (done, rotate bool, err error) {
	res, extendErr := s.chain.ExtendChain(batch)
	if res != nil && res.Accepted > 0 {
		s.metrics.AcceptedHeaders.Add(float64(res.Accepted))
		s.metrics.TipHeight.Set(float64(res.TipHeight))
		logger.Debug("extended chain", "accepted", res.Accepted, "height", res.TipHeight)
	}

	if extendErr != nil {
		var storageErr *statestore.StorageError
		if errors.As(extendErr, &storageErr) {
			// Cannot safely continue without durable progress.
			return false, false, extendErr
		}

		var mismatchErr *chain.ProtocolMismatchError
		if errors.As(extendErr, &mismatchErr) {
			// Logged distinctly from validation failures: an
			// unlinkable batch can mean a locator-construction bug on
			// our side rather than a misbehaving peer.
			logger.Error("header batch does not link to requested locator", "err", mismatchErr)
			s.metrics.RejectedBatches.Add(1)
			s.recordStall(&StallError{
				Kind:       stallKind(s.chain.TipHeight(), s.chain.BaseHeight()),
				LastHeight: s.chain.TipHeight(),
				GroupIndex: groupIndex,
			})
			return false, true, nil
		}

		var validationErr *chain.ValidationError
		if errors.As(extendErr, &validationErr) {
			logger.Error("rejected header batch", "err", validationErr,
				"accepted", res.Accepted, "height", res.TipHeight)
			s.metrics.RejectedBatches.Add(1)
			s.recordStall(&StallError{
				Kind:       stallKind(res.TipHeight, s.chain.BaseHeight()),
				LastHeight: res.TipHeight,
				GroupIndex: groupIndex,
			})
			return false, true, nil
		}

		return false, false, extendErr
	}

	if res.FullBatch {
		// A maximum-size page implies the peer has more; follow up
		// immediately instead of waiting for the next poll tick.
		return false, false, nil
	}

	// A short batch means the peer believes we are caught up.
	if err := s.chain.MarkHeadersSynced(); err != nil {
		return false, false, err
	}
	s.setStatus(types.SyncStatusSynced)
	s.metrics.Synced.Set(1)
	logger.Info("headers synced", "height", res.TipHeight)
	return true, false, nil
}

func stallKind(height, base uint32) string {
	if height == base {
		return StallAtStart
	}
	return StallMidSync
}
