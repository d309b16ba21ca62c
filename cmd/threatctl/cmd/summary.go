package cmd

import (
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize saved search responses",
	Long:  "Score hosts and compute stage, window and notable-event statistics over saved responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeframe, _ := cmd.Flags().GetString("timeframe")

		batches, err := readBatches(cmd)
		if err != nil {
			return err
		}
		eng, err := newEngine()
		if err != nil {
			return err
		}

		return writeJSON(cmd, cmd.OutOrStdout(), eng.Summarize(timeframe, batches))
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().StringP("timeframe", "t", "today", "timeframe label of the responses")
	addSourceFlags(summaryCmd)
}
