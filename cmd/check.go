package cmd

import (
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Runs one detection pass and prints the result as JSON",
		Long: `check fetches the listing once, records new notices and relays them for
download. With the in-process relay the downloads run before the command exits.
--dry-run only reports which notices are new.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if dryRun {
				res, err := appInstance.Check(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			// Workers consume downloads while detection relays them, so a
			// listing larger than the queue never blocks on a full buffer.
			appInstance.StartWorkers(cmd.Context())
			res, err := appInstance.Detect(cmd.Context())
			appInstance.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report new notices without recording or downloading them")
	return cmd
}
