package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skuld/cli/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check health of the API and its backing services",
	Aliases: []string{"doctor"},
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := client.Health()
	if err != nil {
		fmt.Println(style.ErrorBox.Render("Cannot reach Skuld API at " + apiURL))
		return err
	}

	fmt.Println(style.Banner.Render("⚡ SKULD HEALTH"))
	fmt.Println()

	serviceNames := map[string]string{
		"postgres": "PostgreSQL",
		"s3":       "Artifact store",
	}

	order := []string{"postgres", "s3"}
	allUp := true

	for _, key := range order {
		status, ok := h.Services[key]
		if !ok {
			continue
		}
		name := serviceNames[key]

		dot := style.StatusDot(status)
		label := style.DimText.Render(status)
		switch status {
		case "up":
			label = style.Healthy.Render("up")
		case "down":
			label = style.Unhealthy.Render("down")
			allUp = false
		}

		fmt.Printf("  %s  %-16s %s\n", dot, style.Bold.Render(name), label)
	}

	fmt.Println()

	if allUp {
		fmt.Println(style.SuccessBox.Render("All services healthy"))
	} else {
		fmt.Println(style.ErrorBox.Render("Some services are down"))
	}

	return nil
}
