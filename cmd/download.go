package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <filename> <url>",
		Short: "Downloads one document into blob storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out, err := appInstance.Download(cmd.Context(), gazette.Candidate{Filename: args[0], URL: args[1]})
			if err != nil {
				return err
			}
			appInstance.Drain(cmd.Context())
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
