package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ogulcanaydogan/bi-sentinel/internal/prompts"
	"github.com/ogulcanaydogan/bi-sentinel/internal/proxy"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/gateway"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/tokenizer"
	"github.com/spf13/cobra"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "Inspect and invoke the analysis functions",
}

var functionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every function, module and action in the prompt catalog",
	RunE:  runFunctionsList,
}

var functionsCallCmd = &cobra.Command{
	Use:   "call <function>",
	Short: "Invoke a function directly against the configured gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runFunctionsCall,
}

func init() {
	rootCmd.AddCommand(functionsCmd)
	functionsCmd.AddCommand(functionsListCmd)
	functionsCmd.AddCommand(functionsCallCmd)

	functionsCallCmd.Flags().StringP("module", "m", "", "Module (default from catalog)")
	functionsCallCmd.Flags().StringP("action", "a", "", "Action (default from catalog)")
	functionsCallCmd.Flags().String("data", "{}", "JSON data passed to the prompt template")
	functionsCallCmd.Flags().String("backend", "", "Gateway backend (default from config)")
	functionsCallCmd.Flags().Bool("dry-run", false, "Print the rendered prompt and token count without calling the gateway")
}

func runFunctionsList(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	catalog, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "FUNCTION\tMODULE\tACTION\tDEFAULT\n")
	for _, e := range catalog.Entries() {
		f := catalog.Functions[e.Function]
		def := ""
		if (f.DefaultModule == "" || f.DefaultModule == e.Module) &&
			(f.DefaultAction == "" || f.DefaultAction == e.Action) {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Function, e.Module, e.Action, def)
	}
	w.Flush()

	return nil
}

func runFunctionsCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	module, _ := cmd.Flags().GetString("module")
	action, _ := cmd.Flags().GetString("action")
	dataRaw, _ := cmd.Flags().GetString("data")
	backend, _ := cmd.Flags().GetString("backend")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var data any
	if err := json.Unmarshal([]byte(dataRaw), &data); err != nil {
		return fmt.Errorf("parse --data: %w", err)
	}

	catalog, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return err
	}
	prompt, entry, err := catalog.Lookup(args[0], module, action)
	if err != nil {
		return err
	}
	userPrompt, err := prompt.Render(data)
	if err != nil {
		return err
	}

	if backend != "" {
		cfg.Gateway.Backend = backend
	}
	gateways, err := initGateways(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	gw, err := gateways.Default()
	if err != nil {
		return err
	}

	tokens, err := tokenizer.NewCounter().CountPrompt(prompt.System, userPrompt, gw.Name(), gw.Model())
	if err != nil {
		return fmt.Errorf("count prompt tokens: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%s/%s/%s via %s (%s), %d prompt tokens\n",
		entry.Function, entry.Module, entry.Action, gw.Name(), gw.Model(), tokens)

	if dryRun {
		fmt.Printf("--- system ---\n%s\n--- user ---\n%s\n", prompt.System, userPrompt)
		return nil
	}

	temperature := prompt.Temperature
	if temperature == 0 {
		temperature = cfg.Gateway.Temperature
	}
	reply, err := gw.Complete(cmd.Context(), gateway.ChatRequest{
		System:      prompt.System,
		User:        userPrompt,
		Temperature: temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("call %s: %w", gw.Name(), err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(proxy.ExtractResult(reply))
}
