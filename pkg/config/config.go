// Package config provides the process-wide shortlist configuration: a YAML file with
// defaults, .env loading, SHORTLIST_* environment overrides, the LLM model registry and
// secrets resolution.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"shortlist/pkg/limiter"
	"shortlist/pkg/logx"
	"shortlist/pkg/resilience/retry"
)

// ConfigFileName is the default config file inside the state directory.
const ConfigFileName = "config.yaml"

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	logger *logx.Logger
	mu     sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LLMConfig selects and tunes the completion provider.
type LLMConfig struct {
	Provider    string         `yaml:"provider"`
	Model       string         `yaml:"model"`
	Temperature float32        `yaml:"temperature"`
	MaxTokens   int            `yaml:"max_tokens"`
	Timeout     time.Duration  `yaml:"timeout"`
	OllamaHost  string         `yaml:"ollama_host"`
	Retry       retry.Config   `yaml:"retry"`
	RateLimit   limiter.Config `yaml:"rate_limit"`
}

// SearchConfig configures the web search capability.
type SearchConfig struct {
	Provider    string        `yaml:"provider"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxParallel int           `yaml:"max_parallel"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Region      string        `yaml:"region"`
	Retry       retry.Config  `yaml:"retry"`
}

// ExplorerConfig bounds query planning and candidate discovery.
type ExplorerConfig struct {
	MinQueries       int `yaml:"min_queries"`
	MaxQueries       int `yaml:"max_queries"`
	TargetCandidates int `yaml:"target_candidates"`
	MinCandidates    int `yaml:"min_candidates"`
	MaxCandidates    int `yaml:"max_candidates"`
}

// EnrichmentConfig bounds the enrichment run.
type EnrichmentConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Workers   int           `yaml:"workers"`
	Retries   int           `yaml:"retries"`
	BatchSize int           `yaml:"batch_size"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Store      string        `yaml:"store"`
	SQLitePath string        `yaml:"sqlite_path"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Namespace  string `yaml:"namespace"`
}

// LoggingConfig controls log output and debug domains.
type LoggingConfig struct {
	File         string   `yaml:"file"`
	MaxSizeMB    int      `yaml:"max_size_mb"`
	MaxBackups   int      `yaml:"max_backups"`
	MaxAgeDays   int      `yaml:"max_age_days"`
	Debug        bool     `yaml:"debug"`
	DebugDomains []string `yaml:"debug_domains"`
}

// WorkflowConfig tunes the orchestrator and the advise phase.
type WorkflowConfig struct {
	MaxAutoSteps       int  `yaml:"max_auto_steps"`
	DisplayRows        int  `yaml:"display_rows"`
	TopN               int  `yaml:"top_n"`
	ConfirmRefinements bool `yaml:"confirm_refinements"`
	ConfirmFields      bool `yaml:"confirm_fields"`
	MaxQuestions       int  `yaml:"max_questions"`
	MoreOptionsTarget  int  `yaml:"more_options_target"`
	MaxInputChars      int  `yaml:"max_input_chars"`
	TranscriptTokens   int  `yaml:"transcript_tokens"`
}

// Config is the complete shortlist configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Search     SearchConfig     `yaml:"search"`
	Explorer   ExplorerConfig   `yaml:"explorer"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Session    SessionConfig    `yaml:"session"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Model:       DefaultModel,
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     90 * time.Second,
			OllamaHost:  DefaultOllamaHostURL,
			Retry:       retry.DefaultConfig,
			RateLimit:   limiter.Config{MaxConcurrent: 8},
		},
		Search: SearchConfig{
			Provider:    SearchProviderAuto,
			Timeout:     30 * time.Second,
			MaxParallel: 12,
			CacheTTL:    15 * time.Minute,
			Region:      "uk",
			Retry:       retry.SearchConfig,
		},
		Explorer: ExplorerConfig{
			MinQueries:       10,
			MaxQueries:       15,
			TargetCandidates: 30,
			MinCandidates:    20,
			MaxCandidates:    50,
		},
		Enrichment: EnrichmentConfig{
			Timeout:   5 * time.Minute,
			Workers:   8,
			Retries:   1,
			BatchSize: 25,
		},
		Session: SessionConfig{
			TTL:        time.Hour,
			Store:      StoreMemory,
			SQLitePath: filepath.Join(StateDirName, "sessions.db"),
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9464",
			Namespace:  "shortlist",
		},
		Logging: LoggingConfig{
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Workflow: WorkflowConfig{
			MaxAutoSteps:       6,
			DisplayRows:        10,
			TopN:               5,
			ConfirmRefinements: true,
			ConfirmFields:      true,
			MaxQuestions:       3,
			MoreOptionsTarget:  10,
			MaxInputChars:      5000,
			TranscriptTokens:   3000,
		},
	}
}

// GetConfig returns the current global config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting sets the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
}

// LoadConfig loads the YAML file at path into the global singleton. A missing file
// yields defaults; an unparseable one is an error. A .env next to the working directory
// is loaded first so SHORTLIST_* overrides and API keys can live there.
func LoadConfig(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		getLogger().Warn("⚠️  Could not read .env: %v", err)
	}

	loaded, err := loadConfigFromFile(path)
	if err != nil {
		return err
	}
	applyEnvOverrides(loaded)
	applyDefaults(loaded)
	if err := validateConfig(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	config = loaded
	getLogger().Info("✅ Config loaded (model %s via %s, store %s)", loaded.LLM.Model, loaded.LLM.Provider, loaded.Session.Store)
	return nil
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		getLogger().Info("📝 Config file %s not found, using defaults", path)
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config file %s cannot be parsed: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHORTLIST_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SHORTLIST_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv(EnvOllamaHost); v != "" {
		cfg.LLM.OllamaHost = v
	}
	if v := os.Getenv("SHORTLIST_STORE"); v != "" {
		cfg.Session.Store = v
	}
	if v := os.Getenv("SHORTLIST_SQLITE_PATH"); v != "" {
		cfg.Session.SQLitePath = v
	}
	if v := os.Getenv("SHORTLIST_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("SHORTLIST_METRICS_ADDR"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("SHORTLIST_SEARCH_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxParallel = n
		}
	}
	if v := os.Getenv("SHORTLIST_REGION"); v != "" {
		cfg.Search.Region = strings.ToLower(v)
	}
}

// applyDefaults fills zero values so partial files stay usable.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.Provider == "" {
		if provider, err := GetModelProvider(cfg.LLM.Model); err == nil {
			cfg.LLM.Provider = provider
		}
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.LLM.Retry.MaxAttempts <= 0 {
		cfg.LLM.Retry = def.LLM.Retry
	}
	if cfg.LLM.OllamaHost == "" {
		cfg.LLM.OllamaHost = def.LLM.OllamaHost
	}

	if cfg.Search.Timeout <= 0 {
		cfg.Search.Timeout = def.Search.Timeout
	}
	if cfg.Search.MaxParallel <= 0 {
		cfg.Search.MaxParallel = def.Search.MaxParallel
	}
	if cfg.Search.Retry.MaxAttempts <= 0 {
		cfg.Search.Retry = def.Search.Retry
	}

	if cfg.Explorer.MinQueries <= 0 {
		cfg.Explorer.MinQueries = def.Explorer.MinQueries
	}
	if cfg.Explorer.MaxQueries < cfg.Explorer.MinQueries {
		cfg.Explorer.MaxQueries = max(def.Explorer.MaxQueries, cfg.Explorer.MinQueries)
	}
	if cfg.Explorer.TargetCandidates <= 0 {
		cfg.Explorer.TargetCandidates = def.Explorer.TargetCandidates
	}
	if cfg.Explorer.MinCandidates <= 0 {
		cfg.Explorer.MinCandidates = def.Explorer.MinCandidates
	}
	if cfg.Explorer.MaxCandidates < cfg.Explorer.TargetCandidates {
		cfg.Explorer.MaxCandidates = max(def.Explorer.MaxCandidates, cfg.Explorer.TargetCandidates)
	}

	if cfg.Enrichment.Timeout <= 0 {
		cfg.Enrichment.Timeout = def.Enrichment.Timeout
	}
	if cfg.Enrichment.Workers <= 0 {
		cfg.Enrichment.Workers = def.Enrichment.Workers
	}
	if cfg.Enrichment.BatchSize <= 0 {
		cfg.Enrichment.BatchSize = def.Enrichment.BatchSize
	}

	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = def.Session.TTL
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = def.Session.Store
	}
	if cfg.Session.SQLitePath == "" {
		cfg.Session.SQLitePath = def.Session.SQLitePath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = def.Metrics.Namespace
	}

	if cfg.Workflow.MaxAutoSteps <= 0 {
		cfg.Workflow.MaxAutoSteps = def.Workflow.MaxAutoSteps
	}
	if cfg.Workflow.DisplayRows <= 0 {
		cfg.Workflow.DisplayRows = def.Workflow.DisplayRows
	}
	if cfg.Workflow.TopN <= 0 {
		cfg.Workflow.TopN = def.Workflow.TopN
	}
	if cfg.Workflow.MaxQuestions <= 0 {
		cfg.Workflow.MaxQuestions = def.Workflow.MaxQuestions
	}
	if cfg.Workflow.MoreOptionsTarget <= 0 {
		cfg.Workflow.MoreOptionsTarget = def.Workflow.MoreOptionsTarget
	}
	if cfg.Workflow.MaxInputChars <= 0 {
		cfg.Workflow.MaxInputChars = def.Workflow.MaxInputChars
	}
	if cfg.Workflow.TranscriptTokens <= 0 {
		cfg.Workflow.TranscriptTokens = def.Workflow.TranscriptTokens
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	case "":
		return fmt.Errorf("cannot infer provider for model %q; set llm.provider", cfg.LLM.Model)
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	switch cfg.Session.Store {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unsupported session store %q", cfg.Session.Store)
	}
	if cfg.Explorer.MaxQueries > 15 || cfg.Explorer.MinQueries < 2 {
		return fmt.Errorf("explorer queries must stay within 2-15 (got %d-%d)", cfg.Explorer.MinQueries, cfg.Explorer.MaxQueries)
	}
	if cfg.Explorer.MinCandidates > cfg.Explorer.MaxCandidates {
		return fmt.Errorf("explorer min_candidates %d exceeds max_candidates %d", cfg.Explorer.MinCandidates, cfg.Explorer.MaxCandidates)
	}
	switch cfg.Search.Provider {
	case SearchProviderAuto, SearchProviderDuckDuckGo, SearchProviderGoogle:
	default:
		return fmt.Errorf("unsupported search provider %q", cfg.Search.Provider)
	}
	return nil
}
