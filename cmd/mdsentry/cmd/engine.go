package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/mdsentry/internal/config"
	"github.com/Aman-CERP/mdsentry/internal/coordinator"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
	"github.com/Aman-CERP/mdsentry/internal/telemetry"
)

// engineOptions selects the optional parts of an engine.
type engineOptions struct {
	// recovery takes the scratch lock and enables emergency backups.
	recovery bool
	// preferences opens the durable preference database.
	preferences bool
	// telemetry records conflict counts unless disabled in config.
	telemetry bool
	prompter  resolution.Prompter
	logger    *slog.Logger
}

// engine bundles a coordinator with the resources it borrows.
type engine struct {
	cfg      *config.Config
	coord    *coordinator.Coordinator
	recovery *recovery.Manager
	prefs    *resolution.SQLiteStore
	stats    *telemetry.SQLiteStore
	metrics  *telemetry.Metrics
}

// loadConfig loads configuration for the directory of the first document,
// or the working directory when none is given.
func loadConfig(docs []string) (*config.Config, error) {
	dir := "."
	if len(docs) > 0 {
		dir = filepath.Dir(docs[0])
	} else if cwd, err := os.Getwd(); err == nil {
		dir = cwd
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openEngine(ctx context.Context, cfg *config.Config, o engineOptions) (*engine, error) {
	if o.logger == nil {
		o.logger = slog.Default()
	}
	e := &engine{cfg: cfg}

	var store resolution.Store
	if o.preferences {
		prefs, err := resolution.OpenSQLiteStore(cfg.Preferences.DBPath)
		if err != nil {
			return nil, err
		}
		e.prefs = prefs
		store = prefs
	}
	policy, err := resolution.NewPolicy(ctx, store, o.logger)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	if o.recovery {
		e.recovery = recovery.NewManager(cfg.Recovery.Dir, recovery.WithLogger(o.logger))
		if err := e.recovery.Open(); err != nil {
			e.recovery = nil
			_ = e.Close()
			return nil, err
		}
		if age := config.Duration(cfg.Recovery.PruneAfter); age > 0 {
			if n, err := e.recovery.Prune(age); err != nil {
				o.logger.Warn("failed to prune emergency backups", slog.String("error", err.Error()))
			} else if n > 0 {
				o.logger.Info("pruned emergency backups", slog.Int("count", n))
			}
		}
	}

	if o.telemetry && !cfg.Telemetry.Disabled {
		// A broken stats database only disables telemetry.
		if stats, err := telemetry.OpenSQLiteStore(cfg.Telemetry.DBPath); err != nil {
			o.logger.Warn("telemetry disabled", slog.String("error", err.Error()))
		} else {
			tcfg := telemetry.DefaultConfig()
			tcfg.FlushInterval = config.Duration(cfg.Telemetry.FlushInterval)
			e.stats = stats
			e.metrics = telemetry.New(stats, tcfg)
		}
	}

	opts := coordinator.Options{
		Config:   cfg,
		Policy:   policy,
		Recovery: e.recovery,
		Prompter: o.prompter,
		Logger:   o.logger,
	}
	if e.metrics != nil {
		opts.Metrics = e.metrics
	}
	coord, err := coordinator.New(opts)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.coord = coord
	return e, nil
}

// register runs crash recovery when enabled and then registers docs.
func (e *engine) register(ctx context.Context, docs []string) error {
	if e.recovery != nil {
		if _, err := e.coord.RunCrashRecovery(ctx); err != nil {
			return err
		}
	}
	for _, doc := range docs {
		abs, err := filepath.Abs(doc)
		if err != nil {
			return fmt.Errorf("invalid document path %s: %w", doc, err)
		}
		if _, err := e.coord.RegisterDocument(ctx, abs); err != nil {
			return err
		}
	}
	return nil
}

// Close releases everything the engine opened, in reverse order.
func (e *engine) Close() error {
	var errs []error
	if e.coord != nil {
		errs = append(errs, e.coord.Close())
	}
	if e.metrics != nil {
		errs = append(errs, e.metrics.Close())
	}
	if e.stats != nil {
		errs = append(errs, e.stats.Close())
	}
	if e.recovery != nil {
		errs = append(errs, e.recovery.Close())
	}
	if e.prefs != nil {
		errs = append(errs, e.prefs.Close())
	}
	return errors.Join(errs...)
}
