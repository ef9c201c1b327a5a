package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"codask/internal/answer"
	"codask/internal/assistant"
	"codask/internal/config"
	"codask/internal/detector"
	"codask/internal/index"
	"codask/internal/knowledge"
	"codask/internal/planner"
	"codask/internal/retrieval"
	"codask/internal/retry"
	"codask/internal/router"
	"codask/internal/session"
	"codask/internal/storage"
	"codask/internal/telemetry"
	"codask/internal/vectorindex"
)

// app holds what every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *storage.SQLiteStore
	shutdown func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.DB = dbPath
	}

	tcfg := telemetry.Config{Traces: cfg.Telemetry.Traces, LogLevel: cfg.Telemetry.LogLevel, LogFormat: cfg.Telemetry.LogFormat}
	logger := telemetry.NewLogger(tcfg, os.Stderr)
	slog.SetDefault(logger)
	shutdown, err := telemetry.Init(ctx, tcfg, os.Stderr)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStore(cfg.DB)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &app{cfg: cfg, logger: logger, store: store, shutdown: shutdown}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Warn("flush traces", "error", err)
	}
}

func (a *app) policy() retry.Policy {
	return retry.Policy{Timeout: a.cfg.External.Timeout, Retries: a.cfg.External.Retries, Backoff: a.cfg.External.Backoff}
}

func (a *app) embedder(ctx context.Context) (knowledge.Embedder, error) {
	em, err := knowledge.NewEmbedder(ctx, knowledge.EmbedderOptions{
		Provider:  a.cfg.AI.Provider,
		APIKey:    a.cfg.AI.APIKey,
		Model:     a.cfg.AI.Model,
		Dimension: a.cfg.AI.Dimension,
		BaseURL:   a.cfg.AI.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return em, nil
}

// generator is optional: without one answers fall back to rendered evidence.
func (a *app) generator(ctx context.Context) knowledge.Generator {
	gen, err := knowledge.NewGenerator(ctx, knowledge.GeneratorOptions{
		Provider: a.cfg.AI.Provider,
		APIKey:   a.cfg.AI.APIKey,
		Model:    a.cfg.AI.SummaryModel,
		BaseURL:  a.cfg.AI.BaseURL,
	})
	if err != nil {
		a.logger.Warn("generation model unavailable, answers will list evidence only", "error", err)
		return nil
	}
	return gen
}

// service wires the conversation facade over the indexed snapshot.
func (a *app) service(ctx context.Context) (*assistant.Service, *index.Loaded, error) {
	loaded, err := index.Load(ctx, a.store, a.logger)
	if err != nil {
		return nil, nil, err
	}
	em, err := a.embedder(ctx)
	if err != nil {
		return nil, nil, err
	}
	gen := a.generator(ctx)
	cfg := a.cfg

	vi := vectorindex.New(em, a.store, vectorindex.WithPolicy(a.policy()), vectorindex.WithLogger(a.logger))
	asm := retrieval.NewAssembler(vi, loaded.Catalog, loaded.Graph,
		retrieval.WithDecay(cfg.Retrieval.Decay), retrieval.WithLogger(a.logger))

	rt := router.New(router.Config{
		ReuseThreshold:   cfg.Router.ReuseThreshold,
		MergeThreshold:   cfg.Router.MergeThreshold,
		MergeK:           cfg.Router.MergeTopK,
		MergeBudgetRatio: cfg.Router.MergeBudgetRatio,
		DebugTriggers:    cfg.Router.DebugTriggers,
		Retrieval:        retrieval.Options{K: cfg.Retrieval.TopK, Hops: cfg.Retrieval.GraphHops, Budget: cfg.Retrieval.BudgetChars},
	}, vi, asm, loaded.Catalog, a.logger)

	agent := planner.NewAgent(planner.Config{
		MaxSteps:   cfg.Planner.MaxSteps,
		MaxReplans: cfg.Planner.MaxReplans,
		Retrieve:   retrieval.Options{K: cfg.Planner.RetrieveTopK, Hops: cfg.Retrieval.GraphHops, Budget: cfg.Planner.RetrieveBudgetChars},
		Policy:     a.policy(),
	}, asm, loaded.Catalog, gen, detector.NewPatternDetector(), a.logger)

	synth := answer.NewSynthesizer(gen,
		answer.WithPolicy(a.policy()),
		answer.WithHistoryWindow(cfg.Session.HistoryWindow),
		answer.WithLogger(a.logger))

	sessions := session.NewManager(
		session.WithStore(a.store),
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithLogger(a.logger))

	svc := assistant.New(sessions, rt, agent, synth,
		assistant.WithHistoryWindow(cfg.Session.HistoryWindow),
		assistant.WithLogger(a.logger))
	return svc, loaded, nil
}
