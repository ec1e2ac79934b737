package main

import (
	"fmt"
	"os"

	"github.com/dashpay/spvsync/cmd/spvsync/commands"
	"github.com/dashpay/spvsync/config"
)

func main() {
	conf := config.DefaultConfig()

	root := commands.RootCommand(conf)
	root.AddCommand(
		commands.NewStartCmd(conf),
		commands.NewStatusCmd(conf),
		commands.NewResetCmd(conf),
		commands.VersionCmd,
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
