// Package cli implements dapurctl, the operator command line for recipe
// maintenance and ledger housekeeping.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dapurstok/backend/internal/app"
	"dapurstok/backend/internal/config"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/logging"
	"dapurstok/backend/internal/service"
)

// Builder opens the engine for one command run.
type Builder func(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*app.Components, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Actor      string
	Verbose    bool

	build Builder
}

// NewRootCommand creates the dapurctl root command. A nil build uses app.Build.
func NewRootCommand(build Builder) *cobra.Command {
	if build == nil {
		build = app.Build
	}
	opts := &RootOptions{build: build}

	cmd := &cobra.Command{
		Use:           "dapurctl",
		Short:         "Operate the dapurstok recipe and inventory engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigFile != "" {
				return os.Setenv("CONFIG_FILE", opts.ConfigFile)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file layered under the environment")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "dapurctl", "actor id recorded on audit rows")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level to stderr")

	cmd.AddCommand(newSyncTemplateCommand(opts))
	cmd.AddCommand(newHealthCheckCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newValidateProductCommand(opts))
	cmd.AddCommand(newExportLedgerCommand(opts))
	cmd.AddCommand(newAuditLogCommand(opts))
	cmd.AddCommand(newImportCatalogCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newIssueTokenCommand(opts))

	return cmd
}

// session is one opened engine plus the context commands run under.
type session struct {
	ctx        context.Context
	cfg        config.Config
	components *app.Components
	log        logrus.FieldLogger
}

func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := o.logger(cfg, cmd.ErrOrStderr())

	ctx := service.WithActor(cmd.Context(), domain.Actor{ID: o.Actor, Role: "operator"})
	components, err := o.build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &session{ctx: ctx, cfg: cfg, components: components, log: log}, nil
}

func (o *RootOptions) logger(cfg config.Config, w io.Writer) *logrus.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	log := logging.New(level, cfg.LogFormat)
	log.SetOutput(w)
	return log
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArg(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}
