package commands

import (
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sitesync/src/sitesync"
)

// NewRunCmd returns the command that starts a sitesync daemon
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the site daemon",
		PreRunE: loadConfig,
		RunE:    runSiteSync,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runSiteSync(cmd *cobra.Command, args []string) error {
	engine := sitesync.NewSiteSync(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	AddNetworkFlags(cmd)

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	cmd.Flags().Duration("sync-interval", _config.SyncInterval, "Time between two synchronizations (0 = never)")
}
