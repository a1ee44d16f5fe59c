package commands

import (
	"errors"
	"fmt"
	"io/ioutil"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/msgpak"
	"github.com/mosaicnetworks/sitesync/src/outbox"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/mosaicnetworks/sitesync/src/sitesync"
)

// NewMsgpakCmd returns the command grouping the message bundle tools
func NewMsgpakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "msgpak",
		Short: "Pack and inspect message bundles",
	}
	cmd.AddCommand(
		newPackCmd(),
		newUnpackCmd(),
		newGrantCmd(),
	)
	return cmd
}

func newPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pack [file]",
		Short:   "Bundle the local messages deliverable to a site",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE:    pack,
	}
	cmd.Flags().Int("target", site.InvalidSiteID, "Site the bundle is for")
	cmd.Flags().Int64("after", site.InvalidSeqNum, "Only bundle messages after this sequence number")
	cmd.Flags().String("grant", "", "File holding the bootstrap grant of the target")
	return cmd
}

func pack(cmd *cobra.Command, args []string) error {
	target, _ := cmd.Flags().GetInt("target")
	after, _ := cmd.Flags().GetInt64("after")
	grantFile, _ := cmd.Flags().GetString("grant")

	var grant *string
	if grantFile != "" {
		b, err := ioutil.ReadFile(grantFile)
		if err != nil {
			return err
		}
		g := string(b)
		if _, err := ism.Parse(g); err != nil {
			return fmt.Errorf("grant: %w", err)
		}
		grant = &g
	}

	engine := sitesync.NewSiteSync(_config)
	if err := engine.Open(); err != nil {
		return err
	}
	defer engine.Close()

	msgs, err := outbox.NewReader(engine.Store, engine.Registry).MessagesFor(target, after, outbox.NoLimit)
	if err != nil {
		return err
	}

	if err := msgpak.WriteFile(args[0], msgs, grant); err != nil {
		return err
	}

	fmt.Printf("%d messages written to %s\n", len(msgs), args[0])

	return nil
}

func newUnpackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpack [file]",
		Short: "Print the messages of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := msgpak.ReadMessagesFile(args[0])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Println(m)
			}
			return nil
		},
	}
}

func newGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant [file]",
		Short: "Print the bootstrap grant of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := msgpak.ReadGrantFile(args[0])
			if errors.Is(err, msgpak.ErrMissingSection) {
				fmt.Println("no grant")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(g)
			return nil
		},
	}
}
