// Package cli provides the command-line interface for recipe-ingest.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/recipe-ingest/internal/app"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	cfg       *common.Config
	logger    *slog.Logger
	closeLog  func() error
	ingestApp *app.App
)

// standalone commands run without opening the store
var standalone = map[string]bool{"version": true, "help": true, "ocr": true, "completion": true}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "recipe-ingest",
	Short: "Turn photos, web pages and pasted text into saved recipes",
	Long: `recipe-ingest runs the recipe ingestion pipeline from the command line.

Sources are extracted (OCR, scraping or plain text), parsed into recipe
candidates, normalized against the ingredient catalog and saved with
duplicate detection. Configuration comes from the environment and an
optional .env file, the same as recipe-ingestd.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = common.LoadConfig()
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger, closeLog = common.SetupLogger(cfg.Log)
		slog.SetDefault(logger)

		if standalone[cmd.Name()] {
			return nil
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		var err error
		ingestApp, err = app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("start pipeline: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

// shutdown waits for queued jobs, then closes the store and the log file.
func shutdown() {
	if ingestApp != nil {
		if err := ingestApp.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close pipeline: %v\n", err)
		}
		ingestApp = nil
	}
	if closeLog != nil {
		_ = closeLog()
		closeLog = nil
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	// PersistentPostRun is skipped when a command fails
	defer shutdown()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(resubmitCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(ingestDirCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(ocrCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(dbHealthCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
