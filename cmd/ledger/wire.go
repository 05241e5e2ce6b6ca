package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/warp/retail-ledger/app"
	"github.com/warp/retail-ledger/config"
	"github.com/warp/retail-ledger/factory"
	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/store/jsonfile"
	"github.com/warp/retail-ledger/store/sqlite"
)

// backend is what both store implementations provide.
type backend interface {
	ledger.BackupStore
	app.ReportStore
}

// runtime holds everything a command needs.
type runtime struct {
	cfg     config.Config
	log     *log.Logger
	store   backend
	ledger  *ledger.Ledger
	svc     *app.Service
	catalog *factory.CatalogFactory
	closeFn func() error
}

func openRuntime(ctx context.Context, cfgFile string, flags *pflag.FlagSet) (*runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(cfgFile, flags)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(os.Stderr)
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:     cfg,
		log:     logger,
		catalog: factory.NewCatalogFactory(cfg.BusinessName),
		closeFn: func() error { return nil },
	}
	if err := rt.openStore(); err != nil {
		return nil, err
	}

	rt.ledger = ledger.Open(ctx, rt.store,
		ledger.WithLogger(logger.WithPrefix("ledger")),
		ledger.WithLocation(loc),
	)

	opts := []app.ServiceOption{
		app.WithServiceLogger(logger.WithPrefix("service")),
		app.WithFallbackBusiness(cfg.BusinessName),
		app.WithRecipient(cfg.Recipient),
		app.WithNotifier(app.LogNotifier{Log: logger.WithPrefix("notify")}, cfg.NotifyTimeout),
	}
	rt.svc = app.NewService(rt.ledger, rt.store, opts...)

	if cfg.CatalogPath != "" {
		rt.loadCatalog(ctx, cfg.CatalogPath)
	}
	return rt, nil
}

func (rt *runtime) openStore() error {
	switch rt.cfg.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(rt.cfg.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(rt.cfg.SQLitePath), err)
		}
		s, err := sqlite.New(rt.cfg.SQLitePath,
			sqlite.WithBackupDir(rt.cfg.BackupDir, rt.cfg.BackupKeep),
			sqlite.WithLogger(rt.log.WithPrefix("sqlite")),
		)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		rt.store, rt.closeFn = s, s.Close
		rt.log.Debug("using sqlite store", "path", rt.cfg.SQLitePath)

	default:
		s, err := jsonfile.New(jsonfile.Options{
			Dir:        rt.cfg.DataDir,
			BackupDir:  rt.cfg.BackupDir,
			ReportsDir: rt.cfg.ReportsDir,
			Keep:       rt.cfg.BackupKeep,
			Logger:     rt.log.WithPrefix("jsonfile"),
		})
		if err != nil {
			return fmt.Errorf("open file store: %w", err)
		}
		rt.store = s
		rt.log.Debug("using file store", "path", s.Path())
	}
	return nil
}

// loadCatalog reads the catalog file. A failure is logged and the catalog
// restored from history stays active.
func (rt *runtime) loadCatalog(ctx context.Context, path string) {
	records, err := rt.catalog.LoadFile(path)
	if err != nil {
		rt.log.Error("catalog load failed, keeping current catalog", "path", path, "error", err)
		return
	}
	if _, err := rt.svc.ReloadCatalog(ctx, records); err != nil {
		rt.log.Warn("catalog version not persisted", "error", err)
	}
}

// Close waits for notifications and closes the store.
func (rt *runtime) Close() error {
	rt.svc.Wait()
	return rt.closeFn()
}
