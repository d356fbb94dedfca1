package seed

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Geniusmania/ticket-chat-system/internal/fallback"
)

// NewCommand returns the seed-check command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-check",
		Short: "Validate the bundled fallback dataset",
		Long:  `Decode the embedded seed dataset and report broken references or invalid enum values.`,
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ds, err := fallback.LoadSeed()
	if err != nil {
		return err
	}
	if err := ds.Check(); err != nil {
		return fmt.Errorf("seed dataset is inconsistent:\n%w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seed ok: %d users, %d tickets, %d messages, %d articles\n",
		len(ds.Users), len(ds.Tickets), len(ds.Messages), len(ds.Articles))
	return nil
}
