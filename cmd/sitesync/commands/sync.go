package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sitesync/src/sitesync"
)

// NewSyncCmd returns the command that runs a single synchronization and
// exits. Peers can pull from the site while it runs.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		Short:   "Synchronize the site once",
		PreRunE: loadConfig,
		RunE:    syncSite,
	}
	AddNetworkFlags(cmd)
	return cmd
}

func syncSite(cmd *cobra.Command, args []string) error {
	_config.NoService = true

	engine := sitesync.NewSiteSync(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	go engine.Run()
	defer engine.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := engine.Synchronize(ctx)

	out, merr := json.MarshalIndent(res, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(out))

	if err != nil {
		return err
	}

	if !res.Synchronized {
		return fmt.Errorf("site not synchronized: %d messages pending", res.Pending)
	}

	return nil
}
