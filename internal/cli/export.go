package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	exportUser string
	exportFrom string
	exportTo   string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export saved recipes to an XLSX workbook",
	Long: `Write saved recipes to an Excel workbook with a Recipes sheet and an
Ingredients sheet. Dates are YYYY-MM-DD and filter on the day a recipe was
saved; a missing --to means today.

Examples:
  recipe-ingest export -o recipes.xlsx
  recipe-ingest export --user $USER_ID --from 2026-01-01 -o 2026.xlsx`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportUser, "user", "u", "", "only this user's recipes")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "first day (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "last day (YYYY-MM-DD)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "recipes.xlsx", "output file")
}

func runExport(cmd *cobra.Command, args []string) error {
	userID := uuid.Nil
	if exportUser != "" {
		id, err := uuid.Parse(exportUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		userID = id
	}
	from, err := parseDay("from", exportFrom)
	if err != nil {
		return err
	}
	to, err := parseDay("to", exportTo)
	if err != nil {
		return err
	}

	data, err := ingestApp.Export.ExportRecipesXLSX(cmd.Context(), userID, from, to)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(exportOut); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(exportOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", exportOut, len(data))
	return nil
}

func parseDay(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", flag, s)
	}
	return &t, nil
}
