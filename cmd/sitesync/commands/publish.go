package commands

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sitesync/src/outbox"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/sitesync"
)

// NewPublishCmd returns the command that originates a message at the local
// site. The body is read from the first argument, or from stdin.
func NewPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "publish [body]",
		Short:   "Publish a message from the local site",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: loadConfig,
		RunE:    publish,
	}
	cmd.Flags().String("visibility", "public", "public or private")
	cmd.Flags().Int("dest", site.InvalidSiteID, "Destination site of a private message")
	return cmd
}

func publish(cmd *cobra.Command, args []string) error {
	if !_config.Store {
		return fmt.Errorf("publish needs a persistent store (--store)")
	}

	visFlag, _ := cmd.Flags().GetString("visibility")
	dest, _ := cmd.Flags().GetInt("dest")

	vis, err := site.ParseVisibility(visFlag)
	if err != nil {
		return err
	}

	var body string
	if len(args) == 1 {
		body = args[0]
	} else {
		b, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		body = string(b)
	}

	engine := sitesync.NewSiteSync(_config)
	if err := engine.Open(); err != nil {
		return err
	}
	defer engine.Close()

	w := outbox.NewWriter(engine.Store, engine.Registry, _config.Logger())

	m, err := w.Publish(body, vis, dest)
	if err != nil {
		return err
	}

	fmt.Println(m.String())

	return nil
}
