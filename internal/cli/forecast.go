package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Record and inspect budget forecasts",
}

var forecastAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a forecast produced by an external job",
	RunE:  runForecastAdd,
}

var forecastListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upcoming forecasts",
	RunE:  runForecastList,
}

func init() {
	rootCmd.AddCommand(forecastCmd)
	forecastCmd.AddCommand(forecastAddCmd)
	forecastCmd.AddCommand(forecastListCmd)

	forecastAddCmd.Flags().String("budget", "", "Budget id the forecast belongs to")
	forecastAddCmd.Flags().String("predicted", "0", "Predicted amount")
	forecastAddCmd.Flags().String("drift", "", "Drift percentage")
	forecastAddCmd.Flags().String("confidence", "0", "Confidence score (0-1)")
	forecastAddCmd.Flags().String("recommendation", "", "Recommendation text")
	forecastAddCmd.Flags().String("date", "", "Forecast date (YYYY-MM-DD)")
	_ = forecastAddCmd.MarkFlagRequired("drift")
	_ = forecastAddCmd.MarkFlagRequired("date")

	forecastListCmd.Flags().Int("limit", 10, "Maximum forecasts to show")
}

func runForecastAdd(cmd *cobra.Command, _ []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	budgetID, _ := cmd.Flags().GetString("budget")
	recommendation, _ := cmd.Flags().GetString("recommendation")
	dateRaw, _ := cmd.Flags().GetString("date")

	amounts := make(map[string]decimal.Decimal, 3)
	for _, name := range []string{"predicted", "drift", "confidence"} {
		raw, _ := cmd.Flags().GetString(name)
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		amounts[name] = v
	}
	date, err := time.Parse(time.DateOnly, dateRaw)
	if err != nil {
		return fmt.Errorf("parse date: %w", err)
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	forecast := &model.BudgetForecast{
		UserID:           user,
		BudgetID:         budgetID,
		PredictedAmount:  amounts["predicted"],
		DriftPercentage:  amounts["drift"],
		ConfidenceScore:  amounts["confidence"],
		AIRecommendation: recommendation,
		ForecastDate:     date,
	}
	if err := store.AddForecast(cmd.Context(), forecast); err != nil {
		return fmt.Errorf("add forecast: %w", err)
	}

	fmt.Printf("Forecast for %s recorded with %s%% drift (%s)\n",
		date.Format(time.DateOnly), forecast.DriftPercentage.String(), forecast.ID)
	return nil
}

func runForecastList(cmd *cobra.Command, _ []string) error {
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

	forecasts, err := store.ListUpcomingForecasts(cmd.Context(), user, time.Now(), limit)
	if err != nil {
		return fmt.Errorf("list forecasts: %w", err)
	}
	if len(forecasts) == 0 {
		fmt.Println("No upcoming forecasts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DATE\tBUDGET\tPREDICTED\tDRIFT\tCONFIDENCE\n")
	for _, f := range forecasts {
		budget := f.BudgetID
		if budget == "" {
			budget = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s%%\t%s\n",
			f.ForecastDate.Format(time.DateOnly), budget,
			f.PredictedAmount.StringFixed(2), f.DriftPercentage.String(), f.ConfidenceScore.String())
	}
	w.Flush()

	return nil
}
