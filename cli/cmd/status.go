package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"skuld/cli/api"
	"skuld/cli/style"
)

var statusCmd = &cobra.Command{
	Use:     "status [target]",
	Short:   "Show all targets or one target in detail",
	Aliases: []string{"s", "ls"},
	Args:    cobra.MaximumNArgs(1),
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showTargetDetail(args[0])
	}
	return showAllTargets()
}

func showAllTargets() error {
	targets, err := client.ListTargets()
	if err != nil {
		return fmt.Errorf("failed to fetch targets: %w", err)
	}

	if len(targets) == 0 {
		fmt.Println(style.DimText.Render("No targets registered. Add a target.yaml under the targets directory."))
		return nil
	}

	fmt.Println(style.Banner.Render("⚡ SKULD") + style.Subtitle.Render(fmt.Sprintf("  %d target(s)", len(targets))))
	fmt.Println()

	header := fmt.Sprintf("  %-20s %-24s %-14s %s", "TARGET", "HOST", "SERVICE", "ACTIVE VERSION")
	fmt.Println(style.TableHeader.Render(header))

	for _, t := range targets {
		printTargetRow(t)
	}
	fmt.Println()

	return nil
}

func printTargetRow(t api.Target) {
	name := style.Bold.Render(padRight(t.Name, 20))
	host := style.DimText.Render(padRight(t.Host, 24))
	svc := padRight(t.ServiceName, 14)

	version := style.DimText.Render("(nothing deployed)")
	if t.ActiveVersion != "" {
		version = style.VersionText.Render(t.ActiveVersion)
	}

	fmt.Printf("  %s %s %s %s\n", name, host, svc, version)
}

func showTargetDetail(name string) error {
	t, err := client.GetTarget(name)
	if err != nil {
		return fmt.Errorf("failed to fetch target: %w", err)
	}

	var b strings.Builder

	b.WriteString(style.Bold.Render(t.Name))
	b.WriteString("\n\n")

	kvLine := func(k, v string) {
		b.WriteString(style.Key.Render(k))
		b.WriteString(style.Val.Render(v))
		b.WriteString("\n")
	}

	kvLine("Host", t.Host)
	kvLine("Service", t.ServiceName)
	kvLine("Install path", t.InstallPath)
	kvLine("Health URL", t.HealthURL)
	if t.ActiveVersion != "" {
		kvLine("Active", t.ActiveVersion)
	} else {
		kvLine("Active", "(nothing deployed)")
	}

	fmt.Println(style.CardStyle.Render(b.String()))

	runs, err := client.ListRuns(t.Name, 5)
	if err != nil || len(runs) == 0 {
		return nil
	}

	fmt.Println(style.Subtitle.Render("  Recent runs"))
	for _, r := range runs {
		printRunRow(r)
	}
	fmt.Println()

	return nil
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func shortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
