package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skuld/cli/api"
	"skuld/cli/style"
)

var runsTarget string

var runsCmd = &cobra.Command{
	Use:     "runs",
	Short:   "List recent pipeline runs",
	Aliases: []string{"history"},
	RunE:    runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsTarget, "target", "", "filter by target")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	runs, err := client.ListRuns(runsTarget, 20)
	if err != nil {
		return fmt.Errorf("failed to fetch runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println(style.DimText.Render("No runs yet."))
		return nil
	}

	header := fmt.Sprintf("  %-2s  %-14s %-10s %-28s %-12s %s", "", "TARGET", "REVISION", "VERSION", "STATUS", "RUN ID")
	fmt.Println(style.TableHeader.Render(header))

	for _, r := range runs {
		printRunRow(r)
	}
	fmt.Println()

	return nil
}

func printRunRow(r api.Run) {
	dot := style.StatusDot(r.Status)

	status := r.Status
	switch r.Status {
	case "succeeded":
		status = style.Healthy.Render(padRight(status, 12))
	case "failed":
		status = style.Unhealthy.Render(padRight(status, 12))
	case "rolled_back":
		status = style.Warning.Render(padRight(status, 12))
	default:
		status = style.DimText.Render(padRight(status, 12))
	}

	version := padRight(r.ArtifactVersion, 28)
	if r.ArtifactVersion == "" {
		version = style.DimText.Render(padRight("—", 28))
	}

	suffix := ""
	if r.Escalated {
		suffix = " " + style.Unhealthy.Render("ESCALATED")
	}
	if r.Inconsistent {
		suffix += " " + style.Warning.Render("inconsistent")
	}

	fmt.Printf("  %s  %-14s %-10s %s %s %s%s\n",
		dot,
		r.Target,
		style.VersionText.Render(padRight(shortRev(r.Revision), 10)),
		version,
		status,
		style.DimText.Render(r.ID),
		suffix)
}
