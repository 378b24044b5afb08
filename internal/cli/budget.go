package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/evaluator"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage departmental budgets",
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create a budget line",
	RunE:  runBudgetSet,
}

var budgetListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show budgets with recorded actuals and variance",
	RunE:  runBudgetList,
}

var budgetActualCmd = &cobra.Command{
	Use:   "actual <budget-id>",
	Short: "Record an actual spend against a budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetActual,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	budgetCmd.AddCommand(budgetListCmd)
	budgetCmd.AddCommand(budgetActualCmd)

	budgetSetCmd.Flags().StringP("department", "d", "", "Department name")
	budgetSetCmd.Flags().StringP("category", "c", "", "Budget category")
	budgetSetCmd.Flags().String("planned", "", "Planned amount")
	_ = budgetSetCmd.MarkFlagRequired("department")
	_ = budgetSetCmd.MarkFlagRequired("planned")

	budgetActualCmd.Flags().String("amount", "", "Actual amount")
	budgetActualCmd.Flags().String("recorded-at", "", "Recording time (RFC 3339, default now)")
	_ = budgetActualCmd.MarkFlagRequired("amount")
}

func runBudgetSet(cmd *cobra.Command, _ []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	department, _ := cmd.Flags().GetString("department")
	category, _ := cmd.Flags().GetString("category")
	plannedRaw, _ := cmd.Flags().GetString("planned")

	planned, err := decimal.NewFromString(plannedRaw)
	if err != nil {
		return fmt.Errorf("parse planned amount: %w", err)
	}
	if planned.IsNegative() {
		return fmt.Errorf("planned amount must not be negative")
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	budget := &model.Budget{
		UserID:        user,
		Department:    department,
		Category:      category,
		PlannedAmount: planned,
	}
	if err := store.CreateBudget(cmd.Context(), budget); err != nil {
		return fmt.Errorf("set budget: %w", err)
	}

	fmt.Printf("Budget created:\n")
	fmt.Printf("  ID:          %s\n", budget.ID)
	fmt.Printf("  Department:  %s\n", department)
	fmt.Printf("  Category:    %s\n", category)
	fmt.Printf("  Planned:     %s\n", planned.StringFixed(2))

	return nil
}

func runBudgetList(cmd *cobra.Command, _ []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	budgets, err := store.ListBudgets(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("list budgets: %w", err)
	}

	if len(budgets) == 0 {
		fmt.Println("No budgets configured. Use 'sentinel budget set' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tDEPARTMENT\tCATEGORY\tPLANNED\tACTUAL\tVARIANCE\n")
	for _, b := range budgets {
		actuals, err := store.ListActuals(cmd.Context(), b.ID)
		if err != nil {
			return fmt.Errorf("list actuals: %w", err)
		}
		total := decimal.Zero
		for _, a := range actuals {
			total = total.Add(a.ActualAmount)
		}
		variance := evaluator.Variance(total, b.PlannedAmount)

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s%%\n",
			b.ID, b.Department, b.Category,
			b.PlannedAmount.StringFixed(2), total.StringFixed(2),
			variance.StringFixed(2),
		)
	}
	w.Flush()

	return nil
}

func runBudgetActual(cmd *cobra.Command, args []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	amountRaw, _ := cmd.Flags().GetString("amount")
	recordedRaw, _ := cmd.Flags().GetString("recorded-at")

	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	var recordedAt time.Time
	if recordedRaw != "" {
		recordedAt, err = time.Parse(time.RFC3339, recordedRaw)
		if err != nil {
			return fmt.Errorf("parse recorded-at: %w", err)
		}
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	budget, err := store.GetBudget(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if budget.UserID != user {
		return fmt.Errorf("budget %q does not belong to %s", args[0], user)
	}

	actual := &model.BudgetActual{
		BudgetID:     budget.ID,
		ActualAmount: amount,
		RecordedAt:   recordedAt,
	}
	if err := store.AddActual(cmd.Context(), actual); err != nil {
		return fmt.Errorf("record actual: %w", err)
	}

	fmt.Printf("Recorded %s against %s/%s (%s)\n",
		amount.StringFixed(2), budget.Department, budget.Category, actual.ID)
	return nil
}
