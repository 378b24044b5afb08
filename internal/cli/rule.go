package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage variance alert rules",
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a per-department variance threshold",
	RunE:  runRuleAdd,
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules",
	RunE:  runRuleList,
}

func init() {
	rootCmd.AddCommand(ruleCmd)
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleListCmd)

	ruleAddCmd.Flags().StringP("department", "d", "", "Department the rule applies to")
	ruleAddCmd.Flags().StringP("name", "n", "", "Rule name")
	ruleAddCmd.Flags().String("threshold", "10", "Variance threshold percentage")
	ruleAddCmd.Flags().Bool("inactive", false, "Create the rule disabled")
	_ = ruleAddCmd.MarkFlagRequired("department")
	_ = ruleAddCmd.MarkFlagRequired("name")
}

func runRuleAdd(cmd *cobra.Command, _ []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	department, _ := cmd.Flags().GetString("department")
	name, _ := cmd.Flags().GetString("name")
	thresholdRaw, _ := cmd.Flags().GetString("threshold")
	inactive, _ := cmd.Flags().GetBool("inactive")

	threshold, err := decimal.NewFromString(thresholdRaw)
	if err != nil {
		return fmt.Errorf("parse threshold: %w", err)
	}
	if threshold.IsNegative() {
		return fmt.Errorf("threshold must not be negative")
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rule := &model.BudgetRule{
		UserID:              user,
		Department:          department,
		RuleName:            name,
		ThresholdPercentage: threshold,
		IsActive:            !inactive,
	}
	if err := store.CreateRule(cmd.Context(), rule); err != nil {
		return fmt.Errorf("add rule: %w", err)
	}

	fmt.Printf("Rule %q added for %s at %s%% (%s)\n", name, department, threshold.String(), rule.ID)
	return nil
}

func runRuleList(cmd *cobra.Command, _ []string) error {
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

	rules, err := store.ListRules(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	if len(rules) == 0 {
		fmt.Println("No rules configured. Use 'sentinel rule add' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tDEPARTMENT\tNAME\tTHRESHOLD\tACTIVE\n")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s%%\t%t\n",
			r.ID, r.Department, r.RuleName, r.ThresholdPercentage.String(), r.IsActive)
	}
	w.Flush()

	return nil
}
