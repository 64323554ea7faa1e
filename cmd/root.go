// Package cmd holds the papervault command line: the API server, the OCR
// worker and the maintenance commands.
package cmd

import (
	"os"

	"papervault/config"
	"papervault/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	noColor bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "papervault",
	Short:         "Document management server with OCR and full text search",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logger.Init(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, reindexCmd, createUserCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}
