package main

import (
	"os"

	cmd "github.com/mosaicnetworks/sitesync/cmd/sitesync/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewRunCmd(),
		cmd.NewSyncCmd(),
		cmd.NewPublishCmd(),
		cmd.NewMsgpakCmd(),
		cmd.NewBootstrapCmd(),
		cmd.NewSitesCmd(),
	)

	// Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
