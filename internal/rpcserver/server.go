// Package rpcserver serves the read-only status endpoint a GUI or
// operator polls for sync progress. It exposes snapshots only; there is
// no push channel and no mutating surface.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dashpay/spvsync/libs/log"
	"github.com/dashpay/spvsync/libs/service"
	"github.com/dashpay/spvsync/types"
)

// StatusSource provides the snapshots the server reads. All methods
// must be safe for concurrent use.
type StatusSource interface {
	Status() types.SyncStatus
	Progress() types.SyncProgress
	Tip() types.ChainTip
	Network() string
	TerminalErr() error
}

// Server is the HTTP status server.
type Server struct {
	service.BaseService
	logger log.Logger

	listenAddr string
	source     StatusSource

	ln  net.Listener
	srv *http.Server
}

// New returns a status server listening on the given TCP address once
// started.
func New(logger log.Logger, listenAddr string, source StatusSource) *Server {
	s := &Server{
		logger:     logger,
		listenAddr: listenAddr,
		source:     source,
	}
	s.BaseService = *service.NewBaseService(logger, "RPCServer", s)
	return s
}

// OnStart binds the listener and serves until stopped.
func (s *Server) OnStart(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("serving status endpoint", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "err", err)
		}
	}()
	return nil
}

// OnStop closes the server and its listener.
func (s *Server) OnStop() {
	if s.srv != nil {
		_ = s.srv.Close()
	}
}

// Addr returns the bound listener address. Valid only after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.listenAddr
	}
	return s.ln.Addr().String()
}

// Routes returns the router. Split out so tests can exercise handlers
// without a listener.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	Network   string           `json:"network"`
	Status    types.SyncStatus `json:"status"`
	ChainTip  tipResponse      `json:"chain_tip"`
	Progress  progressResponse `json:"sync_progress"`
	LastError string           `json:"last_error,omitempty"`
}

type tipResponse struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
	Time   uint32 `json:"time"`
}

type progressResponse struct {
	HeaderHeight        uint32    `json:"header_height"`
	FilterHeaderHeight  uint32    `json:"filter_header_height"`
	PeerCount           int       `json:"peer_count"`
	HeadersSynced       bool      `json:"headers_synced"`
	FilterHeadersSynced bool      `json:"filter_headers_synced"`
	MasternodesSynced   bool      `json:"masternodes_synced"`
	LastUpdate          time.Time `json:"last_update"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tip := s.source.Tip()
	progress := s.source.Progress()

	resp := statusResponse{
		Network: s.source.Network(),
		Status:  s.source.Status(),
		ChainTip: tipResponse{
			Height: tip.Height,
			Hash:   tip.Hash.String(),
			Time:   tip.Time,
		},
		Progress: progressResponse{
			HeaderHeight:        progress.HeaderHeight,
			FilterHeaderHeight:  progress.FilterHeaderHeight,
			PeerCount:           progress.PeerCount,
			HeadersSynced:       progress.HeadersSynced,
			FilterHeadersSynced: progress.FilterHeadersSynced,
			MasternodesSynced:   progress.MasternodesSynced,
			LastUpdate:          progress.LastUpdate,
		},
	}
	if err := s.source.TerminalErr(); err != nil {
		resp.LastError = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status response", "err", err)
	}
}
