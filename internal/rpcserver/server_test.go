package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/dashpay/spvsync/libs/log"
	"github.com/dashpay/spvsync/types"
)

type stubSource struct {
	status      types.SyncStatus
	progress    types.SyncProgress
	tip         types.ChainTip
	network     string
	terminalErr error
}

func (s *stubSource) Status() types.SyncStatus     { return s.status }
func (s *stubSource) Progress() types.SyncProgress { return s.progress }
func (s *stubSource) Tip() types.ChainTip          { return s.tip }
func (s *stubSource) Network() string              { return s.network }
func (s *stubSource) TerminalErr() error           { return s.terminalErr }

func testSource() *stubSource {
	return &stubSource{
		status:  types.SyncStatusSyncing,
		network: "testnet",
		tip: types.ChainTip{
			Height: 1234,
			Hash:   chainhash.DoubleHashH([]byte("tip")),
			Time:   1700000000,
		},
		progress: types.SyncProgress{
			HeaderHeight: 1234,
			PeerCount:    3,
		},
	}
}

func TestStatusEndpoint(t *testing.T) {
	source := testSource()
	s := New(log.NewTestingLogger(t), "", source)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "testnet", resp.Network)
	require.Equal(t, types.SyncStatusSyncing, resp.Status)
	require.Equal(t, uint32(1234), resp.ChainTip.Height)
	require.Equal(t, source.tip.Hash.String(), resp.ChainTip.Hash)
	require.Equal(t, 3, resp.Progress.PeerCount)
	require.Empty(t, resp.LastError)
}

func TestStatusEndpointReportsTerminalError(t *testing.T) {
	source := testSource()
	source.status = types.SyncStatusUnavailable
	source.terminalErr = errors.New("sync unavailable: 10 peer groups tried")
	s := New(log.NewTestingLogger(t), "", source)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, types.SyncStatusUnavailable, resp.Status)
	require.Contains(t, resp.LastError, "sync unavailable")
}

func TestStatusEndpointRejectsOtherMethods(t *testing.T) {
	s := New(log.NewTestingLogger(t), "", testSource())

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerStartServesAndStops(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	s := New(log.NewTestingLogger(t), "127.0.0.1:0", testSource())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	http.DefaultClient.CloseIdleConnections()

	require.NoError(t, s.Stop())
	s.Wait()
}
