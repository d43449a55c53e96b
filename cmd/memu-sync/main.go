// Command memu-sync is the entry point for all three long- and
// short-lived processes of this pipeline: the watcher (C8), the
// sessions sync worker (C6+C7), and the docs ingest worker (C6+C7,
// document modality). It replaces the reference pack's cmd/picoclaw
// tree's raw os.Args switch with spf13/cobra's command-factory
// pattern, the one idiom from that tree's cmd_cron.go worth carrying
// forward (see DESIGN.md): each subcommand is built by its own
// newXCmd() *cobra.Command function and wired together here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memu-sync",
		Short: "Conversation-to-memory ingestion pipeline",
	}
	cmd.AddCommand(
		newWatchCmd(),
		newSyncCmd(),
		newDocsCmd(),
		newStatusCmd(),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
