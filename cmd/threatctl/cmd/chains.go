package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lvonguyen/threatpulse/internal/telemetry/correlation"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List hosts seen by several sensors",
	Long:  "Group saved events by source address and print the activity chains seen by at least --min-sources sensors",
	RunE: func(cmd *cobra.Command, args []string) error {
		minSources, _ := cmd.Flags().GetInt("min-sources")
		minEvents, _ := cmd.Flags().GetInt("min-events")

		batches, err := readBatches(cmd)
		if err != nil {
			return err
		}
		eng, err := newEngine()
		if err != nil {
			return err
		}

		correlator := correlation.NewCorrelator(correlation.CorrelatorConfig{
			MinEvents:  minEvents,
			MinSources: minSources,
		})
		chains := correlator.Correlate(eng.Combine(batches))
		if chains == nil {
			chains = []correlation.EventChain{}
		}
		return writeJSON(cmd, cmd.OutOrStdout(), chains)
	},
}

func init() {
	rootCmd.AddCommand(chainsCmd)

	def := correlation.DefaultCorrelatorConfig()
	chainsCmd.Flags().Int("min-sources", def.MinSources, "distinct sensors a host must appear in")
	chainsCmd.Flags().Int("min-events", def.MinEvents, "events a host needs to form a chain")
	addSourceFlags(chainsCmd)
}
