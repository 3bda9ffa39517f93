package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skuld/cli/style"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List stored artifact versions",
	RunE:  runArtifacts,
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	arts, err := client.ListArtifacts()
	if err != nil {
		return fmt.Errorf("failed to fetch artifacts: %w", err)
	}

	if len(arts) == 0 {
		fmt.Println(style.DimText.Render("No artifacts stored."))
		return nil
	}

	header := fmt.Sprintf("  %-28s %-10s %-12s %s", "VERSION", "REVISION", "SIZE", "CREATED")
	fmt.Println(style.TableHeader.Render(header))

	for _, a := range arts {
		fmt.Printf("  %s %s %-12s %s\n",
			style.VersionText.Render(padRight(a.Version, 28)),
			padRight(shortRev(a.Revision), 10),
			humanSize(a.SizeBytes),
			style.DimText.Render(a.CreatedAt))
	}
	fmt.Println()

	return nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
