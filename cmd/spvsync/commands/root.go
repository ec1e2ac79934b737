package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dashpay/spvsync/config"
)

// ParseConfig overlays the values viper collected from flags,
// environment and the optional config file onto conf and validates the
// result.
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the command-line entry point of the engine.
func RootCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spvsync",
		Short: "Light-client block header sync engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			return config.EnsureRoot(conf)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("home", defaultHome(), "directory for config and data")
	cmd.PersistentFlags().String("network", conf.Network, "network to sync: mainnet | testnet | regtest")
	cmd.PersistentFlags().String("log-level", conf.LogLevel, "log level: debug | info | warn | error")
	cmd.PersistentFlags().String("log-format", conf.LogFormat, "log format: plain | json")

	viper.SetEnvPrefix("SPVSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	return cmd
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.DefaultDirName
	}
	return filepath.Join(home, config.DefaultDirName)
}
