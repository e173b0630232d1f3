package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/catalog"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/extractor"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/metrics"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/orchestrator"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/processstore"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/render"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/source"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/storage/wal"
)

// runtime holds the wired components of one CLI invocation.
type runtime struct {
	orch     *orchestrator.Orchestrator
	store    processstore.Store
	registry *prometheus.Registry
	closers  []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore builds the configured process store, journaled when a journal
// path is set.
func openStore(cfg *Config, logger *slog.Logger) (processstore.Store, []func() error, error) {
	var (
		store   processstore.Store
		closers []func() error
	)
	switch cfg.Store.Driver {
	case "file":
		fs, err := processstore.NewFileStore(cfg.Store.Dir, processstore.WithFileLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case "sqlite":
		ss, err := processstore.NewSQLiteStore(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = ss
		closers = append(closers, ss.Close)
	case "redis":
		rs, err := processstore.NewRedisStore(processstore.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
			TTL:      cfg.Store.Redis.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		store = rs
		closers = append(closers, rs.Close)
	case "memory":
		store = processstore.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.Journal != "" {
		err := os.MkdirAll(filepath.Dir(cfg.Store.Journal), 0755)
		var w *wal.WAL
		if err == nil {
			w, err = wal.NewWAL(cfg.Store.Journal, false)
		}
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("failed to open journal: %w", err)
		}
		store = processstore.NewJournaled(store, w, logger)
		closers = append(closers, w.Close)
	}
	return store, closers, nil
}

// newRuntime wires store, sources, renderer, metrics and orchestrator. The
// orchestrator is not started.
func newRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*runtime, error) {
	store, closers, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{store: store, closers: closers}

	var (
		catalogSource orchestrator.CatalogSource
		orderSource   orchestrator.OrderSource
	)
	if cfg.Demo {
		catalogSource = source.DemoCatalog{}
		orderSource = source.NewDemo(nil)
	} else {
		catalogSource = catalog.FileSource{Path: cfg.Catalog.Path}
		orderSource = source.NewFileSource(cfg.Orders.Path, logger)
	}

	renderOpts := []render.Option{
		render.WithLogger(logger),
		render.WithStoreInitials(cfg.Render.StoreInitials),
	}
	if cfg.Render.S3.Bucket != "" {
		pub, err := render.NewS3Publisher(ctx, cfg.Render.S3)
		if err != nil {
			rt.Close()
			return nil, err
		}
		renderOpts = append(renderOpts, render.WithPublisher(pub))
	}

	var tables *extractor.Tables
	if cfg.Extractor.Tables != "" {
		if tables, err = extractor.LoadTables(cfg.Extractor.Tables); err != nil {
			rt.Close()
			return nil, err
		}
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, orchestrator.WithMetrics(metrics.NewCollector(rt.registry)))
	}

	rt.orch, err = orchestrator.New(orchestrator.Config{
		WorkerCount:   cfg.Worker.WorkerCount,
		QueueSize:     cfg.Worker.QueueSize,
		LookbackDays:  cfg.LookbackDays,
		Tables:        tables,
		TitleFallback: cfg.Extractor.TitleFallback,
	}, orchestrator.Dependencies{
		Store:    store,
		Catalog:  catalogSource,
		Orders:   orderSource,
		Renderer: render.New(cfg.Render.OutputDir, renderOpts...),
	}, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}
