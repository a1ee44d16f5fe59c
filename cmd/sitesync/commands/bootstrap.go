package commands

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sitesync/src/msgpak"
	"github.com/mosaicnetworks/sitesync/src/queue"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/sitesync"
)

// NewBootstrapCmd returns the command that imports a message bundle, and its
// grant if any, into the local site.
func NewBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "bootstrap [file]",
		Short:   "Import a message bundle",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE:    bootstrap,
	}
}

func bootstrap(cmd *cobra.Command, args []string) error {
	if !_config.Store {
		return fmt.Errorf("bootstrap needs a persistent store (--store)")
	}

	msgs, err := msgpak.ReadMessagesFile(args[0])
	if err != nil {
		return err
	}

	grant, err := msgpak.ReadGrantFile(args[0])
	switch {
	case err == nil:
		msgs = append([]string{grant}, msgs...)
	case !errors.Is(err, msgpak.ErrMissingSection):
		return err
	}

	engine := sitesync.NewSiteSync(_config)
	if err := engine.Open(); err != nil {
		return err
	}
	defer engine.Close()

	logger := _config.Logger()

	p := queue.NewPipeline(engine.Registry, queue.LogApplier(engine.Store, engine.Registry), logger)

	if err := p.Enqueue(site.InvalidSiteID, msgs, nil); err != nil {
		return err
	}

	processed := 0
	for {
		ok, err := p.DispatchOne()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		processed++
	}

	logger.WithFields(logrus.Fields{
		"file":      args[0],
		"bundled":   len(msgs),
		"processed": processed,
		"pending":   p.PendingCount(),
	}).Info("Bundle imported")

	return nil
}
