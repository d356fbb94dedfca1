package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Geniusmania/ticket-chat-system/internal/cli/migrate"
	"github.com/Geniusmania/ticket-chat-system/internal/cli/seed"
	"github.com/Geniusmania/ticket-chat-system/internal/cli/watch"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "ticketctl",
		Short:        "Operator tools for the ticket chat service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		migrate.NewCommand(),
		seed.NewCommand(),
		watch.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
