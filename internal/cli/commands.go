package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dapurstok/backend/internal/config"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/httpapi"
	pgstore "dapurstok/backend/internal/store/postgres"
)

func newSyncTemplateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-template <template-id>",
		Short: "Push a template's current ingredients to every deployed recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.components.Close()

			result, err := s.components.Service.SyncTemplateToAllRecipes(s.ctx, args[0])
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if len(result.Failures) > 0 {
				return fmt.Errorf("%d of %d recipes failed to sync", len(result.Failures), result.RecipesTotal)
			}
			return nil
		},
	}
}

func newHealthCheckCommand(opts *RootOptions) *cobra.Command {
	var storeID string
	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Detect and repair drift, unbound ingredients and negative stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.components.Close()

			report, err := s.components.Service.RunHealthCheckAndRepair(s.ctx, storeID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&storeID, "store", "", "limit the check to one store (default: all stores)")
	return cmd
}

func newSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one locked health sweep, skipping if another instance holds the lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.components.Close()

			report, ran, err := s.components.Sweeper.RunOnce(s.ctx)
			if err != nil {
				return err
			}
			if !ran {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "sweep skipped: lock held elsewhere")
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newValidateProductCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-product <product-id>",
		Short: "Show whether a product can be sold right now and why",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.components.Close()

			availability, err := s.components.Service.ValidateProductForPOS(s.ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), availability)
		},
	}
}

func newExportLedgerCommand(opts *RootOptions) *cobra.Command {
	var (
		out    string
		filter domain.LedgerFilter
	)
	cmd := &cobra.Command{
		Use:   "export-ledger",
		Short: "Write ledger entries to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireArg("--out", out); err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.components.Close()

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			n, err := s.components.Service.ExportLedger(s.ctx, f, filter)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d ledger rows to %s\n", n, out)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination .xlsx path")
	cmd.Flags().StringVar(&filter.StoreID, "store", "", "store id (default: configured store)")
	cmd.Flags().StringVar(&filter.TransactionID, "txn", "", "only entries of this transaction")
	cmd.Flags().IntVar(&filter.Limit, "limit", 1000, "newest entries to include")
	return cmd
}

func newAuditLogCommand(opts *RootOptions) *cobra.Command {
	var (
		storeID string
		date    string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "audit-log",
		Short: "List audit entries for one day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.components.Close()

			logs, err := s.components.Service.ListAuditLogs(s.ctx, storeID, date, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), logs)
		},
	}
	cmd.Flags().StringVar(&storeID, "store", "", "store id (default: configured store)")
	cmd.Flags().StringVar(&date, "date", "", "UTC day as YYYY-MM-DD (default: last 24 hours)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	return cmd
}

func newImportCatalogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-catalog <workbook.xlsx>",
		Short: "Upsert central catalog items from an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.components.Close()

			resp, err := s.components.Service.ImportCatalog(s.ctx, f)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required to migrate")
			}
			pg, err := pgstore.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	}
}

func newIssueTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token <subject>",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.AuthSecret) < 32 {
				return errors.New("AUTH_SECRET must be set and at least 32 characters")
			}
			token, expiresAt, err := httpapi.NewAuthenticator(cfg.AuthSecret, ttl).Issue(args[0], role)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"expires_at": expiresAt.Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "cashier", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}
