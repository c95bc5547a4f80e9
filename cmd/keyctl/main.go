// Command keyctl manages API keys for the fact-check service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ayush/factcheck-agent/internal/auth"
	"github.com/ayush/factcheck-agent/internal/config"
	"github.com/ayush/factcheck-agent/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string
	root := &cobra.Command{
		Use:           "keyctl",
		Short:         "Manage fact-check API keys",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (default: POSTGRES_DSN)")

	open := func(ctx context.Context) (*store.PostgresStore, func(), error) {
		if dsn == "" {
			dsn = config.Load().PostgresDSN
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		s := store.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return s, pool.Close, nil
	}

	root.AddCommand(newCreateCmd(open), newListCmd(open), newRevokeCmd(open))
	return root
}

type opener func(ctx context.Context) (*store.PostgresStore, func(), error)

func newCreateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Mint a new API key and print its token once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			id, token, hash, err := auth.Mint()
			if err != nil {
				return err
			}
			if _, err := s.CreateAPIKey(cmd.Context(), id, args[0], hash); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id:    %s\ntoken: %s\n", id, token)
			fmt.Fprintln(cmd.ErrOrStderr(), "Store the token now; it cannot be shown again.")
			return nil
		},
	}
}

func newListCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			keys, err := s.ListAPIKeys(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLAST USED\tSTATUS")
			for _, k := range keys {
				status := "active"
				if k.Revoked() {
					status = "revoked"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.CreatedAt.Format(time.RFC3339), formatTime(k.LastUsedAt), status)
			}
			return tw.Flush()
		},
	}
}

func newRevokeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := s.RevokeAPIKey(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no api key with id %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
