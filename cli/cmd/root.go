package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"skuld/cli/api"
)

var (
	apiURL   string
	apiToken string
	client   *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "skuld",
	Short: "Deploy pipeline CLI",
	Long: `Skuld drives the deploy pipeline from the terminal.

List targets, trigger deploys, watch stages stream by, and roll back
when a release goes sideways.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiToken)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("SKULD_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8900"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Skuld API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("SKULD_TOKEN"), "API bearer token")
}
