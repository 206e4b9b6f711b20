package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shortlist/internal/llmimpl"
	"shortlist/internal/searchimpl"
	"shortlist/pkg/config"
	"shortlist/pkg/enricher"
	"shortlist/pkg/explorer"
	"shortlist/pkg/logx"
	"shortlist/pkg/metrics"
	"shortlist/pkg/persistence"
	"shortlist/pkg/workflow"
)

// knowledgeFile optionally replaces the built-in category knowledge.
const knowledgeFile = "knowledge.yaml"

// app holds the wired components for one CLI process.
type app struct {
	cfg      config.Config
	orch     *workflow.Orchestrator
	store    workflow.Store
	sessions *persistence.SessionStore // nil with the memory store
	registry *prometheus.Registry
	db       *sql.DB
	logger   *logx.Logger
}

// newApp builds the LLM client, search stack, explorer, enricher, store and orchestrator.
func newApp(flags *rootFlags, cfg config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   logx.NewLogger("shortlist"),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(a.registry, cfg.Metrics.Namespace)

	client, err := llmimpl.NewClient(cfg.LLM, recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	searcher := searchimpl.New(cfg.Search)

	expOpts := []explorer.Option{
		explorer.WithOptions(explorer.OptionsFromConfig(&cfg)),
		explorer.WithRecorder(recorder),
	}
	kb, err := loadKnowledge(flags.stateDir())
	if err != nil {
		return nil, err
	}
	if kb != nil {
		expOpts = append(expOpts, explorer.WithKnowledge(kb))
	}
	exp := explorer.New(client, searcher, expOpts...)

	backend := enricher.NewLLMBackend(client, cfg.Enrichment.Workers, enricher.WithSearcher(searcher))
	enr := enricher.New(backend, enricher.OptionsFromConfig(&cfg), recorder)

	if err := a.openStore(); err != nil {
		return nil, err
	}

	settings := workflow.SettingsFromConfig(&cfg)
	settings.InstructionsDir = flags.stateDir()
	a.orch = workflow.NewWithComponents(client, exp, enr, a.store, settings, recorder)

	a.logger.Info("🚀 shortlist %s ready (model %s, search %s)", version, client.GetModelName(), searcher.Name())
	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Session.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(a.cfg.Session.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		db, err := persistence.Open(a.cfg.Session.SQLitePath)
		if err != nil {
			return err
		}
		a.db = db
		a.sessions = persistence.NewSessionStore(db)
		a.store = a.sessions
	default:
		a.store = workflow.NewMemoryStore(a.cfg.Session.TTL)
	}
	return nil
}

// loadKnowledge reads <stateDir>/knowledge.yaml when present.
func loadKnowledge(stateDir string) (*explorer.Knowledge, error) {
	path := filepath.Join(stateDir, knowledgeFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // absent file means built-in knowledge
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	kb, err := explorer.ParseKnowledge(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return kb, nil
}

// serveMetrics exposes the registry on the configured address until ctx is done.
func (a *app) serveMetrics(ctx context.Context) error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("📈 Metrics on http://%s/metrics", a.cfg.Metrics.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}

func (a *app) Close() error {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
