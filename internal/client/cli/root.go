package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/client/config"
	"github.com/spf13/cobra"
)

var Version = "dev"

type state struct {
	configPath string
	server     string
	grpcAddr   string
	timeout    time.Duration
	cfg        *config.Config
}

// load resolves config, letting flags the user actually set win.
func (s *state) load(cmd *cobra.Command) error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = s.server
	}
	if flags.Changed("grpc") {
		cfg.GRPCAddr = s.grpcAddr
	}
	if flags.Changed("timeout") {
		cfg.Timeout = s.timeout
	}
	s.cfg = cfg
	return nil
}

func (s *state) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), s.cfg.Timeout)
}

func (s *state) apiKey(cmd *cobra.Command) (string, error) {
	if s.cfg.APIKey != "" {
		return s.cfg.APIKey, nil
	}
	return GetSecret(cmd.ErrOrStderr(), "API key: ")
}

func (s *state) sessionToken(cmd *cobra.Command) (string, error) {
	if s.cfg.SessionToken != "" {
		return s.cfg.SessionToken, nil
	}
	return GetSecret(cmd.ErrOrStderr(), "Session token: ")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func NewRootCmd() *cobra.Command {
	s := &state{}

	root := &cobra.Command{
		Use:           "usagectl",
		Short:         "Submit AI tool usage and manage API keys",
		Long:          "usagectl signs usage reports with an account API key and manages that key through a web session token.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&s.configPath, "config", "c", "", "JSON config file")
	pf.StringVar(&s.server, "server", "", "ingest server base URL")
	pf.StringVar(&s.grpcAddr, "grpc", "", "key management gRPC address")
	pf.DurationVar(&s.timeout, "timeout", 0, "request timeout")

	root.AddCommand(
		newSubmitCmd(s),
		newVerifyCmd(s),
		newUsageCmd(s),
		newSignCmd(s),
		newKeyCmd(s),
		newTokenCmd(),
	)

	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("usagectl %s\n", Version))

	return root
}

func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
