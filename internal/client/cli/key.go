package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/client/keys"
	"github.com/dmitrijs2005/usageledger/internal/server/auth"
	"github.com/spf13/cobra"
)

// keyCall runs fn against the key service with the session token.
func (s *state) keyCall(cmd *cobra.Command, fn func(ctx context.Context, c *keys.Client) (any, error)) error {
	token, err := s.sessionToken(cmd)
	if err != nil {
		return err
	}
	c, err := keys.Dial(s.cfg.GRPCAddr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := s.withTimeout(cmd)
	defer cancel()

	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func newKeyCmd(s *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the account API key",
		Long:  "Key commands authenticate with a web session token from USAGELEDGER_SESSION_TOKEN or a prompt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var name string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a key for the session's account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.keyCall(cmd, func(ctx context.Context, c *keys.Client) (any, error) {
				return c.Issue(ctx, name)
			})
		},
	}
	issue.Flags().StringVar(&name, "name", "", "display name (default: from the session)")

	cmd.AddCommand(
		issue,
		&cobra.Command{
			Use:   "regenerate",
			Short: "Replace the key; the old one stops working",
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.keyCall(cmd, func(ctx context.Context, c *keys.Client) (any, error) {
					return c.Regenerate(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "revoke",
			Short: "Revoke the key",
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.keyCall(cmd, func(ctx context.Context, c *keys.Client) (any, error) {
					return c.Revoke(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "reveal",
			Short: "Show the current key again (deprecated)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.keyCall(cmd, func(ctx context.Context, c *keys.Client) (any, error) {
					return c.Reveal(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "describe",
			Short: "Show account and key metadata",
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.keyCall(cmd, func(ctx context.Context, c *keys.Client) (any, error) {
					return c.Describe(ctx)
				})
			},
		},
	)

	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Development session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		account, secret, name string
		ttl                   time.Duration
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a session token signed with the server secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" || secret == "" {
				return fmt.Errorf("--account and --secret are required")
			}
			tok, err := auth.GenerateToken(account, name, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	mint.Flags().StringVar(&account, "account", "", "account id")
	mint.Flags().StringVar(&secret, "secret", "", "server JWT secret")
	mint.Flags().StringVar(&name, "name", "", "display name claim")
	mint.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	cmd.AddCommand(mint)
	return cmd
}
