// Package spvsync assembles the header-sync engine: persistent chain
// state, checkpoint bootstrapping, peer-group rotation and the sync
// supervisor, behind a small façade a host application drives.
package spvsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dbm "github.com/tendermint/tm-db"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/bootstrap"
	"github.com/dashpay/spvsync/internal/chain"
	"github.com/dashpay/spvsync/internal/peers"
	"github.com/dashpay/spvsync/internal/rpcserver"
	"github.com/dashpay/spvsync/internal/statestore"
	"github.com/dashpay/spvsync/internal/supervisor"
	"github.com/dashpay/spvsync/internal/transport"
	"github.com/dashpay/spvsync/libs/log"
	"github.com/dashpay/spvsync/libs/service"
	"github.com/dashpay/spvsync/types"
)

// Engine owns the full sync pipeline. Constructing it initializes the
// on-disk state (bootstrapping a fresh install from the network's
// checkpoint or genesis); starting it begins active syncing.
type Engine struct {
	service.BaseService
	logger log.Logger

	cfg     *config.Config
	network *config.Network

	db    dbm.DB
	store *statestore.Store
	chain *chain.Chain
	pool  *peers.Pool
	sup   *supervisor.Supervisor
	rpc   *rpcserver.Server

	prometheusSrv *http.Server

	bootstrapped bool
}

var _ rpcserver.StatusSource = (*Engine)(nil)

// New initializes the engine from configuration. A nil transport
// selects the built-in peer-to-peer transport; tests inject fakes.
//
// Initialization is where the checkpoint bootstrapper runs: it happens
// here, strictly before any locator can be built, and exactly once per
// fresh install per network.
func New(logger log.Logger, cfg *config.Config, tr supervisor.Transport) (*Engine, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	network, err := config.NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	if err := config.EnsureRoot(cfg); err != nil {
		return nil, err
	}

	db, err := dbm.NewDB(cfg.HeaderDBName(), dbm.BackendType(cfg.DBBackend), cfg.HeaderDBDir())
	if err != nil {
		return nil, fmt.Errorf("open header db: %w", err)
	}

	store := statestore.NewStore(cfg.StateFile(), db)
	state, bootstrapped, err := bootstrap.LoadOrBootstrap(store, network)
	if err != nil {
		db.Close()
		return nil, err
	}
	if bootstrapped {
		logger.Info("bootstrapped fresh chain state",
			"network", network.Name, "height", state.ChainTip.Height)
	}

	ch, err := chain.New(store, state, network.PowLimit(), bootstrap.BaseHash(state, network))
	if err != nil {
		db.Close()
		return nil, err
	}

	addresses := peers.BuildAddressList(
		peers.FromPlatformAddresses(cfg.Peers.PlatformAddresses, network.P2PPort),
		network.FallbackPeers,
	)
	pool, err := peers.NewPool(addresses, cfg.Peers.GroupSize, cfg.Peers.MaxGroups)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build peer pool: %w", err)
	}

	metrics := supervisor.NopMetrics()
	if cfg.Instrumentation.Prometheus {
		metrics = supervisor.PrometheusMetrics(cfg.Instrumentation.Namespace,
			"network", network.Name)
	}
	if tr == nil {
		tr = transport.New(logger.With("module", "transport"), network)
	}

	e := &Engine{
		logger:       logger,
		cfg:          cfg,
		network:      network,
		db:           db,
		store:        store,
		chain:        ch,
		pool:         pool,
		bootstrapped: bootstrapped,
	}
	e.sup = supervisor.NewSupervisor(
		logger.With("module", "supervisor"), cfg.Sync, ch, pool, tr, metrics)
	if cfg.RPC.ListenAddress != "" {
		e.rpc = rpcserver.New(logger.With("module", "rpc"), cfg.RPC.ListenAddress, e)
	}
	e.BaseService = *service.NewBaseService(logger, "Engine", e)
	return e, nil
}

// OnStart begins the sync session and brings up the optional status and
// metrics endpoints.
func (e *Engine) OnStart(ctx context.Context) error {
	if err := e.sup.Start(ctx); err != nil {
		return err
	}
	if e.rpc != nil {
		if err := e.rpc.Start(ctx); err != nil {
			return err
		}
	}
	if e.cfg.Instrumentation.Prometheus && e.cfg.Instrumentation.PrometheusListenAddr != "" {
		e.prometheusSrv = e.startPrometheusServer(e.cfg.Instrumentation.PrometheusListenAddr)
	}
	return nil
}

// OnStop halts active syncing and tears down endpoints and storage.
// Already-persisted progress is untouched; the next start resumes from
// the stored tip.
func (e *Engine) OnStop() {
	if e.rpc != nil && e.rpc.IsRunning() {
		if err := e.rpc.Stop(); err != nil {
			e.logger.Error("error stopping status server", "err", err)
		}
		e.rpc.Wait()
	}
	if e.sup.IsRunning() {
		if err := e.sup.Stop(); err != nil {
			e.logger.Error("error stopping supervisor", "err", err)
		}
	}
	e.sup.Wait()

	if e.prometheusSrv != nil {
		if err := e.prometheusSrv.Close(); err != nil {
			e.logger.Error("error closing prometheus server", "err", err)
		}
	}
	if err := e.db.Close(); err != nil {
		e.logger.Error("error closing header db", "err", err)
	}
}

func (e *Engine) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer,
			promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("prometheus server failed", "err", err)
		}
	}()
	return srv
}

// Status returns the engine's sync status: idle before the first start,
// then whatever the supervisor reports.
func (e *Engine) Status() types.SyncStatus {
	return e.sup.Status()
}

// Progress returns a snapshot of the persisted sync progress. Safe to
// call from any goroutine at any polling rate.
func (e *Engine) Progress() types.SyncProgress {
	return e.chain.StateSnapshot().Progress
}

// Tip returns the current validated chain tip.
func (e *Engine) Tip() types.ChainTip {
	return e.chain.Tip()
}

// Network returns the name of the configured network.
func (e *Engine) Network() string {
	return e.network.Name
}

// TerminalErr returns the error that ended the sync session, or nil
// while the session is live or finished cleanly.
func (e *Engine) TerminalErr() error {
	return e.sup.TerminalErr()
}

// Bootstrapped reports whether construction seeded fresh chain state
// rather than loading an existing install.
func (e *Engine) Bootstrapped() bool {
	return e.bootstrapped
}

// StatusAddr returns the bound address of the status endpoint, or the
// empty string when it is disabled.
func (e *Engine) StatusAddr() string {
	if e.rpc == nil {
		return ""
	}
	return e.rpc.Addr()
}
