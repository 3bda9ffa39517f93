package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skuld/cli/style"
)

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Print the event log of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	events, err := client.RunEvents(args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println(style.DimText.Render("No events recorded for this run."))
		return nil
	}

	for _, e := range events {
		fmt.Printf("  %s  %s  %s\n",
			style.DimText.Render(e.Timestamp),
			style.Bold.Render(padRight(e.Action, 18)),
			e.Message)
	}
	fmt.Println()

	return nil
}
