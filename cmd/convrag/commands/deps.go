package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/embedder"
	"github.com/54b3r/convrag/internal/logging"
	"github.com/54b3r/convrag/internal/metrics"
	"github.com/54b3r/convrag/internal/rag"
	"github.com/54b3r/convrag/internal/store"
)

// manifestDisabled is the CONVRAG_MANIFEST_DB value that turns the file
// manifest off.
const manifestDisabled = "disabled"

// deps holds the components shared by the CLI commands. Fields are filled
// according to depsOptions; unused ones stay nil.
type deps struct {
	log         *slog.Logger
	metrics     *metrics.Metrics
	cache       *cache.Cache
	backend     *rag.QdrantBackend
	collections *rag.CollectionManager
	embedCfg    embedder.Config
	gateway     *embedder.Gateway
	engine      *rag.Engine
	indexer     *rag.Indexer
	manifest    *store.SQLiteStore

	closers []func() error
}

// depsOptions selects which optional components buildDeps constructs.
type depsOptions struct {
	// embedding builds the embedding gateway, engine and indexer.
	embedding bool
	// manifest opens the SQLite file manifest.
	manifest bool
	// metrics receives collectors; nil records nothing.
	metrics *metrics.Metrics
}

// buildDeps wires the cache, Qdrant backend and collection manager, plus the
// components opts asks for. The caller must call close.
func buildDeps(ctx context.Context, opts depsOptions) (_ *deps, err error) {
	log := logging.FromContext(ctx)
	d := &deps{log: log, metrics: opts.metrics}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	d.cache = cache.New(ctx, cache.ConfigFromEnv(), logging.Component(log, "cache"), opts.metrics)
	d.closers = append(d.closers, d.cache.Close)

	qcfg := rag.QdrantConfigFromEnv()
	d.backend, err = rag.NewQdrantBackend(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
	}
	d.closers = append(d.closers, d.backend.Close)

	d.embedCfg, err = embedder.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	d.collections = rag.NewCollectionManager(d.backend, d.cache, d.embedCfg.Dimension, logging.Component(log, "collections"))

	if opts.manifest {
		if err := d.openManifest(); err != nil {
			return nil, err
		}
	}

	if !opts.embedding {
		return d, nil
	}

	if err := embedder.ValidateConfig(d.embedCfg, log); err != nil {
		return nil, err
	}
	backend, err := embedder.NewBackend(d.embedCfg)
	if err != nil {
		return nil, err
	}
	d.gateway = embedder.NewGateway(backend, d.cache, d.embedCfg, logging.Component(log, "embedder"), opts.metrics)
	log.Info("embedder initialised",
		slog.String("provider", string(d.embedCfg.Provider)),
		slog.String("model", d.embedCfg.Model),
		slog.Int("dimension", d.embedCfg.Dimension),
	)

	d.engine, err = rag.NewEngine(d.backend, d.collections, d.gateway, d.cache, rag.ConfigFromEnv(),
		logging.Component(log, "engine"), opts.metrics)
	if err != nil {
		return nil, err
	}

	var manifest rag.Manifest
	if d.manifest != nil {
		manifest = d.manifest
	}
	d.indexer, err = rag.NewIndexer(d.backend, d.collections, d.gateway, manifest,
		logging.Component(log, "indexer"), opts.metrics)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// openManifest opens the SQLite manifest unless CONVRAG_MANIFEST_DB is
// "disabled". A manifest that cannot be opened is logged and skipped.
func (d *deps) openManifest() error {
	path := strings.TrimSpace(os.Getenv("CONVRAG_MANIFEST_DB"))
	if path == manifestDisabled {
		d.log.Info("manifest: disabled via CONVRAG_MANIFEST_DB=disabled")
		return nil
	}
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			d.log.Warn("manifest: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
		path = p
	}

	m, err := store.Open(path)
	if err != nil {
		d.log.Warn("manifest: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	d.manifest = m
	d.closers = append(d.closers, m.Close)
	d.log.Debug("manifest: store opened", slog.String("path", path))
	return nil
}

// close releases every opened component in reverse order.
func (d *deps) close() {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if err := errors.Join(errs...); err != nil {
		d.log.Warn("shutdown: close failed", slog.Any("error", err))
	}
}
