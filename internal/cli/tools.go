package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/recipe-ingest/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <image>...",
	Short: "OCR images and print the recognized text",
	Long: `Run the OCR engine over one or more images, in page order, without
touching the store. Useful for checking tesseract and HEIC conversion setup.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := ocr.NewEngine(ocr.Config{
			Tesseract:           cfg.OCR.Tesseract,
			TesseractLang:       cfg.OCR.TesseractLang,
			TessdataDir:         cfg.OCR.TessdataDir,
			HeicConverter:       cfg.OCR.HeicConverter,
			EnableTSVConfidence: cfg.OCR.EnableTSVConfidence,
			MaxDimension:        cfg.OCR.MaxDimension,
			PSM:                 cfg.OCR.PSM,
			ArtifactCacheDir:    cfg.OCR.ArtifactCacheDir,
		}, nil, logger)
		res, err := engine.RecognizePages(cmd.Context(), args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Text)
		fmt.Fprintf(out, "\npages=%d failed=%d confidence=%.2f elapsed=%s\n",
			res.Pages, res.FailedPages, res.Confidence, res.Duration.Round(time.Millisecond))
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// the store is migrated when it is opened
		fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s)\n", cfg.Database.Driver)
		return nil
	},
}

type healthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

var dbHealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Check database connectivity and print catalog counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if hc, ok := ingestApp.Store.(healthChecker); ok {
			if err := hc.HealthCheck(ctx, time.Second); err != nil {
				return fmt.Errorf("DB health: FAIL (%w)", err)
			}
		}
		ings, err := ingestApp.Store.ListIngredients(ctx)
		if err != nil {
			return fmt.Errorf("list ingredients: %w", err)
		}
		senders, err := ingestApp.Store.ListApprovedSenders(ctx)
		if err != nil {
			return fmt.Errorf("list approved senders: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "DB health: OK (%s)\n", cfg.Database.Driver)
		fmt.Fprintf(out, "ingredients: %d\napproved senders: %d\n", len(ings), len(senders))
		return nil
	},
}
