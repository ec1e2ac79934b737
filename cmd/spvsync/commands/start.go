package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	spvsync "github.com/dashpay/spvsync"
	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/libs/log"
)

// NewStartCmd returns the command that runs the engine until
// interrupted.
func NewStartCmd(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Sync block headers from the configured network",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
			if err != nil {
				return err
			}

			engine, err := spvsync.New(logger, conf, nil)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := engine.Start(ctx); err != nil {
				return err
			}
			logger.Info("engine started", "network", conf.Network, "height", engine.Tip().Height)

			<-ctx.Done()
			logger.Info("shutting down")
			if err := engine.Stop(); err != nil {
				logger.Error("error during shutdown", "err", err)
			}
			engine.Wait()
			return nil
		},
	}

	cmd.Flags().StringSlice("peers.platform-addresses", nil,
		"platform endpoints (https://ip:port) resolved to peer addresses before the static fallback list")
	cmd.Flags().String("rpc.laddr", conf.RPC.ListenAddress,
		"status endpoint listen address (empty disables)")
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus,
		"serve Prometheus metrics")
	cmd.Flags().String("instrumentation.prometheus-listen-addr", conf.Instrumentation.PrometheusListenAddr,
		"Prometheus collector listen address")
	cmd.Flags().Duration("sync.poll-interval", conf.Sync.PollInterval,
		"progress poll interval for stall detection")
	cmd.Flags().String("db-backend", conf.DBBackend,
		"header database backend: goleveldb | memdb | badgerdb")
	return cmd
}
