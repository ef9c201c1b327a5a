package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Project struct {
		Root      string   `yaml:"root"`
		Languages []string `yaml:"languages"`
	} `yaml:"project"`
	AI struct {
		Provider     string `yaml:"provider"`
		Model        string `yaml:"model"`         // embedding model
		SummaryModel string `yaml:"summary_model"` // generation model
		APIKey       string `yaml:"api_key"`
		Dimension    int    `yaml:"dimension"`
		BaseURL      string `yaml:"base_url"`
	} `yaml:"ai"`
	Retrieval struct {
		TopK        int     `yaml:"top_k"`
		GraphHops   int     `yaml:"graph_hops"`
		Decay       float64 `yaml:"decay"`
		BudgetChars int     `yaml:"budget_chars"`
	} `yaml:"retrieval"`
	Router struct {
		ReuseThreshold   float64  `yaml:"reuse_threshold"`
		MergeThreshold   float64  `yaml:"merge_threshold"`
		MergeTopK        int      `yaml:"merge_top_k"`
		MergeBudgetRatio float64  `yaml:"merge_budget_ratio"`
		DebugTriggers    []string `yaml:"debug_triggers"`
	} `yaml:"router"`
	Planner struct {
		MaxSteps            int `yaml:"max_steps"`
		MaxReplans          int `yaml:"max_replans"`
		RetrieveTopK        int `yaml:"retrieve_top_k"`
		RetrieveBudgetChars int `yaml:"retrieve_budget_chars"`
	} `yaml:"planner"`
	Session struct {
		IdleTimeout   time.Duration `yaml:"idle_timeout"`
		HistoryWindow int           `yaml:"history_window"`
	} `yaml:"session"`
	External struct {
		Timeout time.Duration `yaml:"timeout"`
		Retries int           `yaml:"retries"`
		Backoff time.Duration `yaml:"backoff"`
	} `yaml:"external"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Telemetry struct {
		Traces    string `yaml:"traces"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"telemetry"`
	DB string `yaml:"db"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Project.Root = "."
	cfg.Project.Languages = []string{"go", "python"}
	cfg.AI.Provider = "gemini"
	cfg.AI.Model = "gemini-embedding-001"
	cfg.AI.SummaryModel = "gemini-2.5-flash"
	cfg.AI.Dimension = 768
	cfg.Retrieval.TopK = 8
	cfg.Retrieval.GraphHops = 1
	cfg.Retrieval.Decay = 0.5
	cfg.Retrieval.BudgetChars = 12000
	cfg.Router.ReuseThreshold = 0.85
	cfg.Router.MergeThreshold = 0.6
	cfg.Router.MergeTopK = 4
	cfg.Router.MergeBudgetRatio = 0.5
	cfg.Router.DebugTriggers = []string{"think", "debug"}
	cfg.Planner.MaxSteps = 8
	cfg.Planner.MaxReplans = 1
	cfg.Planner.RetrieveTopK = 4
	cfg.Planner.RetrieveBudgetChars = 6000
	cfg.Session.IdleTimeout = 30 * time.Minute
	cfg.Session.HistoryWindow = 10
	cfg.External.Timeout = 30 * time.Second
	cfg.External.Retries = 1
	cfg.External.Backoff = 500 * time.Millisecond
	cfg.Server.Addr = ":8080"
	cfg.Telemetry.Traces = "none"
	cfg.Telemetry.LogLevel = "info"
	cfg.Telemetry.LogFormat = "text"
	cfg.DB = "codask.db"
	return &cfg
}

// LoadConfig reads .env, then the YAML file over the defaults, then CODASK_
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CODASK_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("CODASK_AI_PROVIDER"); v != "" {
		c.AI.Provider = v
	}
	if v := os.Getenv("CODASK_DB"); v != "" {
		c.DB = v
	}
	if v := os.Getenv("CODASK_BASE_URL"); v != "" {
		c.AI.BaseURL = v
	}
	if v := os.Getenv("CODASK_LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
}

// Validate rejects settings the router and planner cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Router.MergeThreshold > c.Router.ReuseThreshold {
		errs = append(errs, fmt.Errorf("router.merge_threshold (%.2f) exceeds router.reuse_threshold (%.2f)",
			c.Router.MergeThreshold, c.Router.ReuseThreshold))
	}
	if c.Router.MergeBudgetRatio <= 0 || c.Router.MergeBudgetRatio > 1 {
		errs = append(errs, fmt.Errorf("router.merge_budget_ratio must be in (0, 1], got %.2f", c.Router.MergeBudgetRatio))
	}
	if c.Planner.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("planner.max_steps must be at least 1, got %d", c.Planner.MaxSteps))
	}
	if c.Planner.MaxReplans < 0 {
		errs = append(errs, fmt.Errorf("planner.max_replans must not be negative"))
	}
	if c.Retrieval.BudgetChars <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.budget_chars must be positive, got %d", c.Retrieval.BudgetChars))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be at least 1"))
	}
	if c.Retrieval.Decay <= 0 || c.Retrieval.Decay > 1 {
		errs = append(errs, fmt.Errorf("retrieval.decay must be in (0, 1], got %.2f", c.Retrieval.Decay))
	}
	switch strings.ToLower(c.Telemetry.Traces) {
	case "", "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("telemetry.traces must be none or stdout, got %q", c.Telemetry.Traces))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
