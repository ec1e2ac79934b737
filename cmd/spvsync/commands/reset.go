package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	dbm "github.com/tendermint/tm-db"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/statestore"
	"github.com/dashpay/spvsync/libs/log"
)

// NewResetCmd returns the command that deletes all stored headers and
// the sync-state record for the configured network. The next start
// bootstraps from the checkpoint or genesis again.
func NewResetCmd(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete stored headers and sync state for the configured network",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
			if err != nil {
				return err
			}

			db, err := dbm.NewDB(conf.HeaderDBName(), dbm.BackendType(conf.DBBackend), conf.HeaderDBDir())
			if err != nil {
				return fmt.Errorf("open header db: %w", err)
			}
			defer db.Close()

			store := statestore.NewStore(conf.StateFile(), db)
			if err := store.Reset(); err != nil {
				return err
			}
			logger.Info("chain state reset", "network", conf.Network, "dir", conf.DataDir())
			return nil
		},
	}
}
