// Command intakectl is the operator tool for the intake service: it creates
// the database schema and inspects persisted drafts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"caseintake-backend/config"
	"caseintake-backend/models"
	"caseintake-backend/repository"
	"caseintake-backend/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

type options struct {
	databaseURL string
	fieldsFile  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "intakectl",
		Short:         "Operate the case intake service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.fieldsFile, "fields", "", "field vocabulary YAML file (defaults to the built-in vocabulary)")

	root.AddCommand(
		newSchemaCmd(opts),
		newFieldsCmd(opts),
		newProgressCmd(opts),
		newCasesCmd(opts),
	)
	return root
}

func newSchemaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the intake tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.CreateSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ schema ready")
			return nil
		},
	}
}

func newFieldsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "Print the field vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := opts.fieldMap()
			if err != nil {
				return err
			}
			printFields(cmd.OutOrStdout(), fields)
			return nil
		},
	}
}

func newProgressCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <case-id>",
		Short: "Print the completion progress of a stored draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := opts.fieldMap()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			record, err := repository.NewDraftRepository(pool).GetByCaseID(ctx, args[0])
			if err != nil {
				if errors.Is(err, repository.ErrDraftNotFound) {
					return fmt.Errorf("no draft stored for %s", args[0])
				}
				return err
			}
			printProgress(cmd.OutOrStdout(), record.CaseID, record.Data, fields)
			return nil
		},
	}
}

func newCasesCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List the most recently updated case ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			ids, err := repository.NewDraftRepository(pool).ListCaseIDs(ctx, limit)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of cases to list (0 for all)")
	return cmd
}

func (o *options) connect(ctx context.Context) (*pgxpool.Pool, error) {
	connString := o.databaseURL
	if connString == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		connString = cfg.DatabaseURL
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

func (o *options) fieldMap() (*service.FieldMap, error) {
	return service.LoadFieldMap(o.fieldsFile)
}

func printFields(w io.Writer, fields *service.FieldMap) {
	for _, m := range fields.Fields() {
		required := ""
		if m.Required {
			required = " (required)"
		}
		fmt.Fprintf(w, "%-14s %-14s %-9s %s%s\n", m.Key, m.FormPath, m.Kind, m.Label, required)
	}
}

func printProgress(w io.Writer, caseID string, draft models.CaseDraft, fields *service.FieldMap) {
	fmt.Fprintf(w, "%s: %d%%\n", caseID, service.CalculateProgress(draft, fields.Required()))
	if missing := service.MissingLabels(draft, fields); len(missing) > 0 {
		fmt.Fprintf(w, "missing: %s\n", strings.Join(missing, ", "))
		return
	}
	fmt.Fprintln(w, "ready for case plan")
}
