package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	dbm "github.com/tendermint/tm-db"

	"github.com/dashpay/spvsync/config"
	"github.com/dashpay/spvsync/internal/statestore"
)

// NewStatusCmd returns the command that prints the current sync status.
// It asks a running engine over its status endpoint first and falls
// back to reading the persisted state directly.
func NewStatusCmd(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print sync status and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			if conf.RPC.ListenAddress != "" {
				if err := printLiveStatus(conf.RPC.ListenAddress); err == nil {
					return nil
				}
			}
			return printStoredStatus(conf)
		},
	}
	cmd.Flags().String("rpc.laddr", conf.RPC.ListenAddress, "status endpoint of the running engine")
	return cmd
}

func printLiveStatus(addr string) error {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return printIndented(body)
}

func printStoredStatus(conf *config.Config) error {
	store := statestore.NewStore(conf.StateFile(), dbm.NewMemDB())
	state, err := store.Load()
	if err != nil {
		return fmt.Errorf("no running engine and no readable state: %w", err)
	}

	out := map[string]interface{}{
		"network": state.Network,
		"status":  "idle",
		"chain_tip": map[string]interface{}{
			"height": state.ChainTip.Height,
			"hash":   state.ChainTip.Hash.String(),
			"time":   state.ChainTip.Time,
		},
		"sync_progress": map[string]interface{}{
			"header_height":  state.Progress.HeaderHeight,
			"headers_synced": state.Progress.HeadersSynced,
			"last_update":    state.Progress.LastUpdate,
		},
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return printIndented(data)
}

func printIndented(data []byte) error {
	var buf map[string]interface{}
	if err := json.Unmarshal(data, &buf); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(pretty))
	return err
}
