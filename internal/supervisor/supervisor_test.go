package supervisor

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/chain"
	"github.com/dashpay/spvsync/internal/peers"
	"github.com/dashpay/spvsync/internal/statestore"
	"github.com/dashpay/spvsync/libs/log"
	"github.com/dashpay/spvsync/types"
)

const testBits = 0x207fffff

var testBaseHash = chainhash.DoubleHashH([]byte("base"))

func mineHeaders(t testing.TB, prev chainhash.Hash, n int) []*types.BlockHeader {
	t.Helper()

	limit := types.CompactToBig(testBits)
	headers := make([]*types.BlockHeader, n)
	for i := range headers {
		h := &types.BlockHeader{
			Version:   1,
			PrevHash:  prev,
			Timestamp: uint32(1700000000 + i),
			Bits:      testBits,
		}
		for types.CheckProofOfWork(h, limit) != nil {
			h.Nonce++
		}
		headers[i] = h
		prev = h.Hash()
	}
	return headers
}

func newSyncChain(t testing.TB) *chain.Chain {
	t.Helper()

	store := statestore.NewStore(
		filepath.Join(t.TempDir(), "sync_state.json"), dbm.NewMemDB())
	state := &statestore.PersistedChainState{
		Network:   "regtest",
		ChainTip:  types.ChainTip{Height: 0, Hash: testBaseHash},
		ChainWork: new(big.Int),
	}
	require.NoError(t, store.Save(state))

	c, err := chain.New(store, state, types.CompactToBig(testBits), testBaseHash)
	require.NoError(t, err)
	return c
}

// testSyncConfig keeps the stall windows small enough that rotation
// scenarios run in milliseconds.
func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		PollInterval:      5 * time.Millisecond,
		StuckAtStartPolls: 2,
		StuckMidSyncPolls: 3,
		RequestTimeout:    250 * time.Millisecond,
	}
}

// fakeSession answers each header request with the next scripted batch,
// then goes silent so stall detection takes over.
type fakeSession struct {
	mtx       sync.Mutex
	script    [][]*types.BlockHeader
	headersCh chan []*types.BlockHeader
	locators  [][]chainhash.Hash
	closed    bool
}

func newFakeSession(script ...[]*types.BlockHeader) *fakeSession {
	return &fakeSession{
		script:    script,
		headersCh: make(chan []*types.BlockHeader, len(script)+1),
	}
}

func (s *fakeSession) SendGetHeaders(ctx context.Context, locator []chainhash.Hash, stopHash chainhash.Hash) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.locators = append(s.locators, append([]chainhash.Hash(nil), locator...))
	if len(s.script) > 0 {
		s.headersCh <- s.script[0]
		s.script = s.script[1:]
	}
	return nil
}

func (s *fakeSession) Headers() <-chan []*types.BlockHeader { return s.headersCh }

func (s *fakeSession) PeerCount() int { return 3 }

func (s *fakeSession) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) sentLocators() [][]chainhash.Hash {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([][]chainhash.Hash(nil), s.locators...)
}

func (s *fakeSession) isClosed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.closed
}

// fakeTransport hands out one scripted session per Connect call, in
// order. The first connectErrs calls fail outright; groups beyond the
// script get a silent session.
type fakeTransport struct {
	mtx         sync.Mutex
	sessions    []*fakeSession
	connectErrs int
	next        int
	connects    []peers.Group
}

func (tr *fakeTransport) Connect(ctx context.Context, group peers.Group) (PeerSession, error) {
	tr.mtx.Lock()
	defer tr.mtx.Unlock()

	tr.connects = append(tr.connects, group)
	if tr.connectErrs > 0 {
		tr.connectErrs--
		return nil, errors.New("connection refused")
	}
	if tr.next < len(tr.sessions) {
		session := tr.sessions[tr.next]
		tr.next++
		return session, nil
	}
	return newFakeSession(), nil
}

func (tr *fakeTransport) connectedGroups() []peers.Group {
	tr.mtx.Lock()
	defer tr.mtx.Unlock()
	return append([]peers.Group(nil), tr.connects...)
}

func newTestPool(t testing.TB, maxGroups int) *peers.Pool {
	t.Helper()
	pool, err := peers.NewPool([]string{
		"1.1.1.1:19999", "2.2.2.2:19999", "3.3.3.3:19999",
		"4.4.4.4:19999", "5.5.5.5:19999", "6.6.6.6:19999",
	}, 3, maxGroups)
	require.NoError(t, err)
	return pool
}

func startSupervisor(t *testing.T, ch *chain.Chain, pool *peers.Pool, tr Transport) *Supervisor {
	t.Helper()

	s := NewSupervisor(log.NewTestingLogger(t), testSyncConfig(), ch, pool, tr, NopMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		_ = s.Stop()
		s.Wait()
	})
	return s
}

func waitForStatus(t testing.TB, s *Supervisor, want types.SyncStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Status() == want
	}, 2*time.Second, time.Millisecond, "status never became %q", want)
}

func TestSupervisorSyncsToCompletion(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ch := newSyncChain(t)
	headers := mineHeaders(t, testBaseHash, 30)
	session := newFakeSession(headers)
	tr := &fakeTransport{sessions: []*fakeSession{session}}

	s := startSupervisor(t, ch, newTestPool(t, 10), tr)
	waitForStatus(t, s, types.SyncStatusSynced)

	require.Equal(t, uint32(30), ch.TipHeight())
	require.True(t, s.Progress().HeadersSynced)
	require.Nil(t, s.TerminalErr())

	groups := tr.connectedGroups()
	require.Len(t, groups, 1)
	require.Equal(t, 0, groups[0].Index)

	// The first request carries the base as its only locator entry.
	locators := session.sentLocators()
	require.NotEmpty(t, locators)
	require.Equal(t, []chainhash.Hash{testBaseHash}, locators[0])
	require.True(t, session.isClosed())
}

func TestSupervisorFollowsUpAfterFullBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("mines a maximum-size batch")
	}
	t.Cleanup(leaktest.Check(t))

	ch := newSyncChain(t)
	page := mineHeaders(t, testBaseHash, chain.MaxHeadersPerBatch)
	rest := mineHeaders(t, page[len(page)-1].Hash(), 50)
	session := newFakeSession(page, rest)
	tr := &fakeTransport{sessions: []*fakeSession{session}}

	s := startSupervisor(t, ch, newTestPool(t, 10), tr)
	waitForStatus(t, s, types.SyncStatusSynced)

	require.Equal(t, uint32(chain.MaxHeadersPerBatch+50), ch.TipHeight())

	// The follow-up request is issued without waiting for a poll tick,
	// and its locator starts at the new tip.
	locators := session.sentLocators()
	require.Len(t, locators, 2)
	require.Equal(t, page[len(page)-1].Hash(), locators[1][0])
}

func TestSupervisorRotatesOnStallAndResumes(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	// The chain already carries 25 headers from an earlier session.
	// Group 0 answers nothing at all, so after the mid-sync stall
	// window the supervisor must rotate to group 1, which finishes.
	ch := newSyncChain(t)
	first := mineHeaders(t, testBaseHash, 25)
	res, err := ch.ExtendChain(first)
	require.NoError(t, err)
	require.Equal(t, 25, res.Accepted)

	second := mineHeaders(t, first[len(first)-1].Hash(), 40)
	stalling := newFakeSession()
	serving := newFakeSession(second)
	tr := &fakeTransport{sessions: []*fakeSession{stalling, serving}}

	s := startSupervisor(t, ch, newTestPool(t, 10), tr)
	waitForStatus(t, s, types.SyncStatusSynced)

	require.Equal(t, uint32(65), ch.TipHeight())
	require.Equal(t, 1, s.GroupIndex())

	stall := s.LastStall()
	require.NotNil(t, stall)
	require.Equal(t, StallMidSync, stall.Kind)
	require.Equal(t, uint32(25), stall.LastHeight)
	require.Equal(t, 0, stall.GroupIndex)

	// The next group resumes from the persisted height, not the base.
	require.True(t, stalling.isClosed())
	locators := serving.sentLocators()
	require.NotEmpty(t, locators)
	require.Equal(t, first[len(first)-1].Hash(), locators[0][0])
}

func TestSupervisorClassifiesConnectFailureMidSync(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	// The chain already holds 25 headers, so a failed connection to the
	// first group is a mid-sync stall, not a stuck-at-start one.
	ch := newSyncChain(t)
	first := mineHeaders(t, testBaseHash, 25)
	res, err := ch.ExtendChain(first)
	require.NoError(t, err)
	require.Equal(t, 25, res.Accepted)

	rest := mineHeaders(t, first[len(first)-1].Hash(), 15)
	serving := newFakeSession(rest)
	tr := &fakeTransport{connectErrs: 1, sessions: []*fakeSession{serving}}

	s := startSupervisor(t, ch, newTestPool(t, 10), tr)
	waitForStatus(t, s, types.SyncStatusSynced)

	require.Equal(t, uint32(40), ch.TipHeight())
	require.Equal(t, 1, s.GroupIndex())

	stall := s.LastStall()
	require.NotNil(t, stall)
	require.Equal(t, StallMidSync, stall.Kind)
	require.Equal(t, uint32(25), stall.LastHeight)
	require.Equal(t, 0, stall.GroupIndex)
}

func TestSupervisorRotatesOnInvalidBatch(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ch := newSyncChain(t)
	headers := mineHeaders(t, testBaseHash, 10)

	// Break linkage at index 4: the valid prefix of 4 headers must be
	// kept, and the rest of the chain must come from the next group.
	broken := make([]*types.BlockHeader, 10)
	copy(broken, headers)
	bad := *headers[4]
	bad.PrevHash = chainhash.DoubleHashH([]byte("unrelated"))
	broken[4] = &bad

	rest := mineHeaders(t, headers[3].Hash(), 6)
	tr := &fakeTransport{sessions: []*fakeSession{
		newFakeSession(broken),
		newFakeSession(rest),
	}}

	s := startSupervisor(t, ch, newTestPool(t, 10), tr)
	waitForStatus(t, s, types.SyncStatusSynced)

	require.Equal(t, uint32(10), ch.TipHeight())
	require.Equal(t, 1, s.GroupIndex())

	stall := s.LastStall()
	require.NotNil(t, stall)
	require.Equal(t, uint32(4), stall.LastHeight)
}

func TestSupervisorExhaustsPeerGroups(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	// Two silent groups and nothing else: the session must end with a
	// terminal exhaustion error, not spin forever.
	ch := newSyncChain(t)
	tr := &fakeTransport{}

	s := startSupervisor(t, ch, newTestPool(t, 2), tr)
	waitForStatus(t, s, types.SyncStatusUnavailable)

	var exhaustion *ExhaustionError
	require.ErrorAs(t, s.TerminalErr(), &exhaustion)
	require.Equal(t, 2, exhaustion.GroupsTried)
	require.Equal(t, uint32(0), exhaustion.FromHeight)
	require.Len(t, tr.connectedGroups(), 2)

	stall := s.LastStall()
	require.NotNil(t, stall)
	require.Equal(t, StallAtStart, stall.Kind)
}

func TestSupervisorStopsCleanly(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	ch := newSyncChain(t)
	session := newFakeSession()
	tr := &fakeTransport{sessions: []*fakeSession{session}}

	s := NewSupervisor(log.NewTestingLogger(t), &config.SyncConfig{
		PollInterval:      time.Hour,
		StuckAtStartPolls: 2,
		StuckMidSyncPolls: 3,
		RequestTimeout:    time.Hour,
	}, ch, newTestPool(t, 10), tr, NopMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool {
		return len(session.sentLocators()) > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	s.Wait()
	require.True(t, session.isClosed())
	require.Nil(t, s.TerminalErr())
}
