package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sitesync/src/sitesync"
)

// NewSitesCmd returns the command that lists the site directory, and
// optionally writes it back to [datadir]/sites.json.
func NewSitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sites",
		Short:   "List the known sites",
		PreRunE: loadConfig,
		RunE:    listSites,
	}
	cmd.Flags().Bool("save", false, "Write the sites, with their cursors, to sites.json")
	return cmd
}

func listSites(cmd *cobra.Command, args []string) error {
	save, _ := cmd.Flags().GetBool("save")

	engine := sitesync.NewSiteSync(_config)
	if err := engine.Open(); err != nil {
		return err
	}
	defer engine.Close()

	sites, err := engine.Registry.AllSites()
	if err != nil {
		return err
	}

	for _, s := range sites {
		fmt.Printf("%-4d %-20s %-24s public=%d private=%d active=%t\n",
			s.ID, s.Name, s.BaseURL, s.PublicSeqNum, s.PrivateSeqNum, s.IsActive)
	}

	if save {
		n, err := engine.Registry.SaveJSON(_config.DataDir)
		if err != nil {
			return err
		}
		fmt.Printf("%d sites written\n", n)
	}

	return nil
}
