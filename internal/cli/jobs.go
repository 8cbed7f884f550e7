package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	ingestsvc "github.com/joseph-ayodele/recipe-ingest/internal/services/ingest"
)

var (
	submitKind   string
	submitUser   string
	submitName   string
	submitOrigin string
	submitWait   time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <url|path|text|->",
	Short: "Submit a source for ingestion",
	Long: `Submit an image, a recipe URL or pasted text as a new ingestion job.

The kind is inferred when --kind is not given: http(s) links are URLs,
existing files are images and anything else is text. "-" reads the text
from stdin.

Examples:
  recipe-ingest submit --user $USER_ID https://example.com/pancakes
  recipe-ingest submit --user $USER_ID ./photos/lasagna.jpg --wait 2m
  pbpaste | recipe-ingest submit --user $USER_ID --kind text -`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the stage and log of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := ingestApp.Ingest.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ingestApp.Ingest.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
		return nil
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <job-id>",
	Short: "Run a finished job's source again as a new job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := ingestApp.Ingest.Resubmit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return finishSubmit(cmd, id.String())
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitKind, "kind", "k", "", "image, url or text (inferred when empty)")
	submitCmd.Flags().StringVarP(&submitUser, "user", "u", "", "owner user id (required)")
	submitCmd.Flags().StringVarP(&submitName, "name", "n", "", "source name")
	submitCmd.Flags().StringVar(&submitOrigin, "origin", "api", "recorded origin of the source")
	submitCmd.Flags().DurationVarP(&submitWait, "wait", "w", 0, "wait up to this long for the job to finish")
	_ = submitCmd.MarkFlagRequired("user")

	resubmitCmd.Flags().DurationVarP(&submitWait, "wait", "w", 0, "wait up to this long for the job to finish")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	payload, kind := args[0], submitKind
	if payload == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = string(data)
		if kind == "" {
			kind = "text"
		}
	}
	if kind == "" {
		kind = inferKind(payload)
	}

	id, err := ingestApp.Ingest.Submit(cmd.Context(), ingestsvc.SubmitRequest{
		Kind:       kind,
		Payload:    payload,
		UserID:     submitUser,
		SourceName: submitName,
		Origin:     submitOrigin,
	})
	if err != nil {
		return err
	}
	return finishSubmit(cmd, id.String())
}

// finishSubmit prints the job id, or its final status when --wait is set.
func finishSubmit(cmd *cobra.Command, jobID string) error {
	out := cmd.OutOrStdout()
	if submitWait <= 0 {
		fmt.Fprintln(out, jobID)
		return nil
	}
	st, err := waitForJob(cmd.Context(), jobID, submitWait)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func waitForJob(ctx context.Context, jobID string, timeout time.Duration) (ingestsvc.JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		st, err := ingestApp.Ingest.Status(ctx, jobID)
		if err != nil {
			return st, err
		}
		if st.Stage.IsTerminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("job %s still %s: %w", jobID, st.Stage, ctx.Err())
		case <-t.C:
		}
	}
}

func inferKind(payload string) string {
	lower := strings.ToLower(payload)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return "url"
	}
	if fi, err := os.Stat(payload); err == nil && !fi.IsDir() {
		return "image"
	}
	return "text"
}
