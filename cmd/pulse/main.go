package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/azure/discussion-pulse/internal/config"
)

var version = "dev"

var (
	verbose bool
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pulse",
	Short:   "Keyword discussion ingestion and enrichment",
	Long:    "pulse fetches Reddit discussions for tracked keywords, enriches every post and comment with sentiment, relevancy and quality analysis, and serves the results over HTTP.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logrus.SetLevel(logrus.InfoLevel)
		if cfg.Debug || verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(probeCmd)
}
