package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/store/sqlite"
	"github.com/warp/payroll-engine/tax"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "payroll-engine",
		Short:         "Probation tracking, grant allocation and payroll generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("db", "", "SQLite database path (overrides DB_PATH)")
	cmd.PersistentFlags().String("log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTransitionCmd())
	cmd.AddCommand(newPayrollCmd())
	cmd.AddCommand(newTaxCmd())
	return cmd
}

// app holds what every command needs once configuration is resolved.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *sqlite.Store
}

// openApp loads configuration, applies flag overrides, builds the logger
// and opens the store. Callers must call close.
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cmd.Flags().Lookup("port") != nil && cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st}

	if cfg.TaxRulesPath != "" {
		if err := a.importTaxRules(ctx, cfg.TaxRulesPath); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) importTaxRules(ctx context.Context, path string) error {
	years, err := tax.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load tax rules from %s: %w", path, err)
	}
	err = a.store.WithTx(ctx, func(s core.Store) error {
		rs := tax.NewRulesStore(s)
		for _, r := range years {
			if err := rs.Save(ctx, r); err != nil {
				return fmt.Errorf("failed to save tax year %d: %w", r.Year, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range years {
		a.logger.Info("tax rules imported", zap.Int("year", r.Year), zap.String("path", path))
	}
	return nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	a.logger.Sync()
}
