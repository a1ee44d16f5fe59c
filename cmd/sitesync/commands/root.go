package commands

import (
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sitesync/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

// RootCmd is the root command for sitesync
var RootCmd = &cobra.Command{
	Use:              "sitesync",
	Short:            "inter-site message synchronization",
	TraverseChildren: true,
}

func init() {
	RootCmd.PersistentFlags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	RootCmd.PersistentFlags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	RootCmd.PersistentFlags().String("log-file", _config.LogFile, "Also write the logs, as JSON, to this file")
	RootCmd.PersistentFlags().IntP("site-id", "i", _config.LocalSiteID, "Id of the local site in sites.json")

	// Store
	RootCmd.PersistentFlags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	RootCmd.PersistentFlags().String("db", _config.DatabaseDir, "Dabatabase directory")
}
