// Command keys manages the API keys checked by the search service when
// auth.enabled is set.
//
// Usage:
//
//	keys create --name reports [--rate-limit 100] [--expires-in 720h]
//	keys revoke <raw-key>
//	keys list [-o json]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/postgres"
)

const commandTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// session holds the connection opened for one command.
type session struct {
	db        *postgres.Client
	validator *apikey.Validator
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		s          session
	)
	root := &cobra.Command{
		Use:          "keys",
		Short:        "Manage condition search API keys",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

			db, err := postgres.New(cfg.Postgres)
			if err != nil {
				return err
			}
			s.db = db
			s.validator = apikey.NewValidator(db)

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return s.validator.Migrate(ctx)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if s.db == nil {
				return nil
			}
			return s.db.Close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")
	root.AddCommand(newCreateCmd(&s), newRevokeCmd(&s), newListCmd(&s))
	return root
}

func newCreateCmd(s *session) *cobra.Command {
	var (
		name      string
		rateLimit int
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().Add(expiresIn)
				expiresAt = &t
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			key, err := s.validator.CreateKey(ctx, name, rateLimit, expiresAt)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "API key created. Store it now, it cannot be shown again.")
			fmt.Fprintln(out)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "  Key:\t%s\n", key)
			fmt.Fprintf(w, "  Name:\t%s\n", name)
			fmt.Fprintf(w, "  Rate limit:\t%s\n", describeLimit(rateLimit))
			fmt.Fprintf(w, "  Expires:\t%s\n", describeExpiry(expiresAt))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name for the api key")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute, 0 for the server-wide limit")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expiry duration, e.g. 720h")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newRevokeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <raw-key>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			if err := s.validator.RevokeKey(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key revoked.")
			return nil
		},
	}
}

func newListCmd(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			keys, err := s.validator.ListKeys(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(keys)
			case "table":
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
			if len(keys) == 0 {
				fmt.Fprintln(out, "No active API keys.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRATE LIMIT\tCREATED\tEXPIRES")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					k.ID, k.Name, describeLimit(k.RateLimit), k.CreatedAt.Format(time.RFC3339), describeExpiry(k.ExpiresAt))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	return cmd
}

func describeLimit(n int) string {
	if n <= 0 {
		return "server default"
	}
	return fmt.Sprintf("%d req/min", n)
}

func describeExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
