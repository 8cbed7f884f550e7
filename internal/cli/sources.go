package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	dropfolder "github.com/joseph-ayodele/recipe-ingest/internal/ingest"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one mailbox poll cycle",
	Long: `Fetch unseen messages from the configured IMAP mailbox and submit the
recipes they carry. Requires EMAIL_IMAP_ADDR and credentials.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := ingestApp.Ingest.Poll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stats)
	},
}

var (
	ingestDirUser   string
	ingestDirHidden bool
)

var ingestDirCmd = &cobra.Command{
	Use:   "ingest-dir <dir>",
	Short: "Submit every image and text file under a directory",
	Long: `Walk a directory and submit each image (.jpg, .png, .heic, ...) and
text file (.txt, .md) found. Files with identical content are submitted once.

Examples:
  recipe-ingest ingest-dir ./scans --user $USER_ID
  recipe-ingest ingest-dir ./scans --user $USER_ID --include-hidden`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(ingestDirUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		folder := dropfolder.NewFolder(ingestApp.Ingest, userID, logger)
		results, stats, err := folder.IngestDirectory(cmd.Context(), args[0], !ingestDirHidden)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range results {
			switch {
			case r.Err != "":
				fmt.Fprintf(out, "FAIL  %s: %s\n", r.Path, r.Err)
			case r.Deduplicated:
				fmt.Fprintf(out, "DUP   %s -> %s\n", r.Path, r.JobID)
			default:
				fmt.Fprintf(out, "OK    %s -> %s\n", r.Path, r.JobID)
			}
		}
		fmt.Fprintf(out, "\nscanned=%d matched=%d submitted=%d duplicates=%d failed=%d\n",
			stats.Scanned, stats.Matched, stats.Succeeded-stats.Deduplicated, stats.Deduplicated, stats.Failed)
		return nil
	},
}

func init() {
	ingestDirCmd.Flags().StringVarP(&ingestDirUser, "user", "u", "", "owner user id (required)")
	ingestDirCmd.Flags().BoolVar(&ingestDirHidden, "include-hidden", false, "also ingest dot files and dot directories")
	_ = ingestDirCmd.MarkFlagRequired("user")
}
