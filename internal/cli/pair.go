package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	pairUser string
	pairName string
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Ingest a recipe photographed as two pictures",
	Long: `Pair an ingredients photo with a directions photo.

"pair issue" opens a pairing and prints its token. Each photo is then
uploaded with "pair upload"; the job starts once both slots are filled.

Examples:
  recipe-ingest pair issue --user $USER_ID --name "Grandma's stew"
  recipe-ingest pair upload $TOKEN ingredients ./front.jpg
  recipe-ingest pair upload $TOKEN directions ./back.jpg`,
}

var pairIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Open a pairing and print its token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, status, err := ingestApp.Ingest.IssuePairingToken(cmd.Context(), pairUser, pairName)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", token, status)
		return nil
	},
}

var pairUploadCmd = &cobra.Command{
	Use:   "upload <token> <ingredients|directions> <image>",
	Short: "Upload one photo of a pairing",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		status, err := ingestApp.Ingest.UploadPairedPhoto(cmd.Context(), args[0], args[1], filepath.Base(args[2]), data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], status)
		return nil
	},
}

func init() {
	pairIssueCmd.Flags().StringVarP(&pairUser, "user", "u", "", "owner user id (required)")
	pairIssueCmd.Flags().StringVarP(&pairName, "name", "n", "", "recipe name")
	_ = pairIssueCmd.MarkFlagRequired("user")

	pairCmd.AddCommand(pairIssueCmd)
	pairCmd.AddCommand(pairUploadCmd)
}
