package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/threatpulse/internal/filter"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Filter events from saved search responses",
	Long: `Normalize saved responses and print the events matching the criteria.

Criteria are given as --where field:operator:value, for example
--where severity:is:high --where port:>:1024. Operators: is, is_not,
contains, exists, starts_with, > and <.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		where, _ := cmd.Flags().GetStringArray("where")
		logic, _ := cmd.Flags().GetString("logic")
		search, _ := cmd.Flags().GetString("search")

		criteria, err := parseCriteria(where)
		if err != nil {
			return err
		}

		batches, err := readBatches(cmd)
		if err != nil {
			return err
		}
		eng, err := newEngine()
		if err != nil {
			return err
		}

		events := eng.Filter(eng.Combine(batches), criteria, filter.ParseLogic(logic), search)
		return writeJSON(cmd, cmd.OutOrStdout(), map[string]any{
			"operator_logic_used": filter.ParseLogic(logic),
			"filters_applied":     criteria,
			"count":               len(events),
			"events":              events,
		})
	},
}

// parseCriteria turns field:operator:value strings into criteria. The value
// may itself contain colons.
func parseCriteria(args []string) ([]filter.Criterion, error) {
	criteria := make([]filter.Criterion, 0, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid criterion %q: want field:operator:value", arg)
		}
		c := filter.Criterion{Field: parts[0], Operator: filter.Operator(parts[1])}
		if len(parts) == 3 {
			c.Value = parts[2]
		}
		criteria = append(criteria, c)
	}
	return criteria, nil
}

func init() {
	rootCmd.AddCommand(filterCmd)

	filterCmd.Flags().StringArrayP("where", "w", nil, "criterion as field:operator:value (repeatable)")
	filterCmd.Flags().String("logic", "AND", "how criteria combine: AND or OR")
	filterCmd.Flags().StringP("search", "s", "", "free-text search over the event's main fields")
	addSourceFlags(filterCmd)
}
