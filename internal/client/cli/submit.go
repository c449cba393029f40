package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/client/api"
	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/filex"
	"github.com/dmitrijs2005/usageledger/internal/netx"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"github.com/spf13/cobra"
)

// isBatch reports whether body is a {"sessions": [...]} envelope.
func isBatch(body []byte) (bool, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return false, fmt.Errorf("input is not a JSON object: %w", err)
	}
	_, ok := probe["sessions"]
	return ok, nil
}

func (s *state) client(cmd *cobra.Command) (*api.Client, error) {
	key, err := s.apiKey(cmd)
	if err != nil {
		return nil, err
	}
	return api.NewClient(s.cfg.ServerURL, key, &http.Client{Timeout: s.cfg.Timeout}), nil
}

func newSubmitCmd(s *state) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one session or a batch",
		Long:  `Submit reads one session object, or {"sessions":[...]}, and sends it signed with the API key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := filex.ReadInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			batch, err := isBatch(body)
			if err != nil {
				return err
			}

			c, err := s.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := s.withTimeout(cmd)
			defer cancel()

			var out any
			if batch {
				out, err = api.SubmitRaw[api.BatchResult](ctx, c, "/v1/sessions/batch", body)
			} else {
				out, err = api.SubmitRaw[api.ItemResult](ctx, c, "/v1/sessions", body)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", filex.StdinName, `session JSON file, "-" for stdin`)

	return cmd
}

func newVerifyCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the API key and show its account",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := s.withTimeout(cmd)
			defer cancel()

			acc, err := c.Verify(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	}
}

func newUsageCmd(s *state) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show daily usage totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			today := time.Now().UTC().Format(models.DayLayout)
			if to == "" {
				to = today
			}
			if from == "" {
				from = to
			}
			f, err := time.Parse(models.DayLayout, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			t, err := time.Parse(models.DayLayout, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			c, err := s.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := s.withTimeout(cmd)
			defer cancel()

			usage, err := c.DailyUsage(ctx, f, t)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), usage)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: --to)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: today, UTC)")

	return cmd
}

var signedHeaderOrder = []string{
	common.APIKeyHeaderName,
	common.TimestampHeaderName,
	common.SignatureHeaderName,
}

func newSignCmd(s *state) *cobra.Command {
	var (
		file      string
		timestamp int64
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print authentication headers for a request body",
		Long:  "Sign prints the three headers a request with this exact body needs. Use it to call the API with curl.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			if file != "" {
				b, err := filex.ReadInput(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				body = b
			}
			if timestamp < 0 {
				return errors.New("--timestamp must not be negative")
			}
			if timestamp == 0 {
				timestamp = time.Now().Unix()
			}

			key, err := s.apiKey(cmd)
			if err != nil {
				return err
			}

			h := netx.SignatureHeaders(key, timestamp, body)
			for _, name := range signedHeaderOrder {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, h.Get(name))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", `body file, "-" for stdin (default: empty body)`)
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "Unix seconds to sign at (default: now)")

	return cmd
}
