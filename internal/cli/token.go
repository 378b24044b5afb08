package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue bearer tokens for the API and WebSocket",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a token for --user",
	RunE:  runTokenIssue,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
}

func runTokenIssue(_ *cobra.Command, _ []string) error {
	user, err := requireUser()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	authenticator, err := initAuthenticator(cfg)
	if err != nil {
		return err
	}
	token, expires, err := authenticator.Issue(user)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	fmt.Printf("# expires %s\n", expires.UTC().Format("2006-01-02 15:04:05 MST"))
	return nil
}
