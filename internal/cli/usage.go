package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report analysis function usage",
	Long:  `Aggregate proxied LLM calls by function over a daily, weekly or monthly window.`,
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringP("period", "P", "daily", "Report period (daily, weekly, monthly)")
	usageCmd.Flags().StringP("function", "f", "", "Filter by function")
	usageCmd.Flags().Bool("detailed", false, "Show individual calls")
}

func runUsage(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	period, _ := cmd.Flags().GetString("period")
	function, _ := cmd.Flags().GetString("function")
	detailed, _ := cmd.Flags().GetBool("detailed")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	start, end := model.PeriodBounds(model.Period(period), time.Now())
	filter := model.CallFilter{
		UserID:    userID,
		Function:  function,
		StartTime: start,
		EndTime:   end,
	}

	summary, err := store.AggregateCalls(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("aggregate calls: %w", err)
	}

	fmt.Printf("=== Function Usage (%s) ===\n", period)
	fmt.Printf("Period: %s to %s\n\n", start.Format(time.DateOnly), end.Format(time.DateOnly))
	fmt.Printf("Total Calls:          %d\n", summary.TotalCalls)
	fmt.Printf("Failed Calls:         %d\n", summary.FailedCalls)
	fmt.Printf("Total Prompt Tokens:  %d\n", summary.TotalPromptTokens)

	if len(summary.ByFunction) > 0 {
		names := make([]string, 0, len(summary.ByFunction))
		for name := range summary.ByFunction {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("\nBy Function:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  FUNCTION\tCALLS\n")
		for _, name := range names {
			fmt.Fprintf(w, "  %s\t%d\n", name, summary.ByFunction[name])
		}
		w.Flush()
	}

	if detailed {
		calls, err := store.QueryCalls(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("query calls: %w", err)
		}

		if len(calls) > 0 {
			fmt.Printf("\nDetailed Calls:\n")
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "  TIMESTAMP\tFUNCTION\tMODULE\tACTION\tBACKEND\tTOKENS\tSTATUS\tLATENCY\n")
			for _, c := range calls {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%d\t%d\t%dms\n",
					c.CreatedAt.Format("2006-01-02 15:04"),
					c.Function, c.Module, c.Action, c.Backend,
					c.PromptTokens, c.Status, c.LatencyMS,
				)
			}
			w.Flush()
		}
	}

	return nil
}
