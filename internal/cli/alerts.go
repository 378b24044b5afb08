package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate budget alerts",
}

var alertsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the alert evaluator once for a user",
	Long: `Runs the same evaluation the WebSocket sessions run on every tick.
Critical alerts are persisted as insights and sent to configured notifiers.`,
	RunE: runAlertsCheck,
}

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "List insights recorded from critical alerts",
	RunE:  runInsights,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsCheckCmd)
	rootCmd.AddCommand(insightsCmd)

	insightsCmd.Flags().Int("limit", 20, "Maximum insights to show")
}

func runAlertsCheck(cmd *cobra.Command, _ []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eval, store, err := initEvaluator(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	found, err := eval.Evaluate(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}
	if len(found) == 0 {
		fmt.Println("No alerts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SEVERITY\tTYPE\tDEPARTMENT\tCATEGORY\tCHANGE\tDETAIL\n")
	for _, a := range found {
		change, detail := a.Variance, a.RuleName
		if a.Type == model.AlertForecastDrift {
			change, detail = a.Drift, a.ForecastDate
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s%%\t%s\n",
			a.Severity, a.Type, a.Department, a.Category, change, detail)
	}
	w.Flush()

	return nil
}

func runInsights(cmd *cobra.Command, _ []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	insights, err := store.ListInsights(cmd.Context(), user, limit)
	if err != nil {
		return fmt.Errorf("list insights: %w", err)
	}
	if len(insights) == 0 {
		fmt.Println("No insights recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CREATED\tPRIORITY\tTITLE\tMESSAGE\n")
	for _, in := range insights {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			in.CreatedAt.Format("2006-01-02 15:04"), in.Priority, in.Title, in.Message)
	}
	w.Flush()

	return nil
}
