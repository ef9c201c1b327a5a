// Package router decides, per turn, whether the previous context bundle is
// reused, merged with a small incremental retrieval, or replaced.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"codask/internal/catalog"
	"codask/internal/retrieval"
	"codask/internal/session"
	"codask/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reasons recorded on a decision.
const (
	ReasonColdStart      = "cold_start"
	ReasonDebugTrigger   = "debug_trigger"
	ReasonScopeChange    = "scope_change"
	ReasonHighSimilarity = "high_similarity"
	ReasonMidSimilarity  = "mid_similarity"
	ReasonLowSimilarity  = "low_similarity"
	ReasonEmptyPrevious  = "empty_previous"
)

// Embedder computes query fingerprints; implemented by vectorindex.Index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Similarity(a, b []float32) float64
}

type Assembler interface {
	Assemble(ctx context.Context, query string, opts retrieval.Options) (retrieval.Bundle, error)
}

// Mentioner finds code names and files a query refers to; implemented by catalog.Catalog.
type Mentioner interface {
	Mentions(query string) catalog.Mentions
}

type Config struct {
	ReuseThreshold   float64
	MergeThreshold   float64
	MergeK           int
	MergeBudgetRatio float64
	DebugTriggers    []string
	Retrieval        retrieval.Options
}

func DefaultConfig() Config {
	return Config{
		ReuseThreshold:   0.85,
		MergeThreshold:   0.6,
		MergeK:           4,
		MergeBudgetRatio: 0.5,
		DebugTriggers:    []string{"think", "debug"},
		Retrieval:        retrieval.Options{K: 8, Hops: 1, Budget: 12000},
	}
}

// Decision is the routing outcome of one turn.
type Decision struct {
	Mode        session.Mode
	Reason      string
	Bundle      retrieval.Bundle
	Fingerprint session.Fingerprint
	Similarity  float64
	Debug       bool
	Mentions    catalog.Mentions
}

type Router struct {
	cfg       Config
	embedder  Embedder
	assembler Assembler
	mentions  Mentioner
	triggers  []*regexp.Regexp
	logger    *slog.Logger
}

func New(cfg Config, em Embedder, asm Assembler, m Mentioner, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{cfg: cfg, embedder: em, assembler: asm, mentions: m, logger: logger}
	for _, t := range cfg.DebugTriggers {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		r.triggers = append(r.triggers, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(t)+`\b`))
	}
	return r
}

// IsDebug reports whether query contains a debug trigger phrase.
func (r *Router) IsDebug(query string) bool {
	for _, re := range r.triggers {
		if re.MatchString(query) {
			return true
		}
	}
	return false
}

// Route picks the context of the next turn from a snapshot of the session.
// Failures to embed or retrieve are returned with the partial decision so
// the caller can degrade.
func (r *Router) Route(ctx context.Context, snapshot session.State, query string) (Decision, error) {
	ctx, span := telemetry.Tracer("router").Start(ctx, "router.Route")
	defer span.End()

	d := Decision{
		Fingerprint: session.Fingerprint{Query: query},
		Debug:       r.IsDebug(query),
	}
	if r.mentions != nil {
		d.Mentions = r.mentions.Mentions(query)
	}

	err := r.route(ctx, snapshot, query, &d)

	span.SetAttributes(
		attribute.String("router.mode", string(d.Mode)),
		attribute.String("router.reason", d.Reason),
		attribute.Float64("router.similarity", d.Similarity),
		attribute.Bool("router.debug", d.Debug),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
	}
	telemetry.RouterDecisions.WithLabelValues(string(d.Mode), d.Reason).Inc()
	r.logger.Info("context switch",
		"session_id", snapshot.ID, "mode", d.Mode, "reason", d.Reason,
		"similarity", d.Similarity, "debug", d.Debug, "entries", len(d.Bundle.Entries))
	return d, err
}

func (r *Router) route(ctx context.Context, snapshot session.State, query string, d *Decision) error {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		d.Mode, d.Reason = session.ModeRefresh, ReasonColdStart
		if len(snapshot.Turns) > 0 {
			d.Reason = ReasonLowSimilarity
		}
		return fmt.Errorf("fingerprint query: %w", err)
	}
	d.Fingerprint.Embedding = vec

	prev, hasPrev := snapshot.LastTurn()
	switch {
	case !hasPrev:
		return r.refresh(ctx, query, d, ReasonColdStart)
	case d.Debug:
		return r.refresh(ctx, query, d, ReasonDebugTrigger)
	}

	if snapshot.LastFingerprint != nil && len(snapshot.LastFingerprint.Embedding) > 0 {
		d.Similarity = r.embedder.Similarity(vec, snapshot.LastFingerprint.Embedding)
	}

	switch {
	case prev.Bundle.Empty():
		return r.refresh(ctx, query, d, ReasonEmptyPrevious)
	case r.scopeChanged(d.Mentions, prev.Bundle):
		return r.refresh(ctx, query, d, ReasonScopeChange)
	case d.Similarity >= r.cfg.ReuseThreshold:
		d.Mode, d.Reason = session.ModeReuse, ReasonHighSimilarity
		d.Bundle = prev.Bundle.Clone()
		return nil
	case d.Similarity >= r.cfg.MergeThreshold:
		return r.merge(ctx, query, prev.Bundle, d)
	default:
		return r.refresh(ctx, query, d, ReasonLowSimilarity)
	}
}

// scopeChanged reports whether the query names a unit or file that the
// previous bundle does not hold.
func (r *Router) scopeChanged(m catalog.Mentions, prev retrieval.Bundle) bool {
	for _, n := range m.Names {
		if !prev.Mentions(n) {
			return true
		}
	}
	for _, f := range m.Files {
		if !prev.Mentions(f) {
			return true
		}
	}
	return false
}

func (r *Router) refresh(ctx context.Context, query string, d *Decision, reason string) error {
	d.Mode, d.Reason = session.ModeRefresh, reason
	b, err := r.assembler.Assemble(ctx, query, r.cfg.Retrieval)
	if err != nil {
		return err
	}
	d.Bundle = b
	return nil
}

func (r *Router) merge(ctx context.Context, query string, prev retrieval.Bundle, d *Decision) error {
	d.Mode, d.Reason = session.ModeMerge, ReasonMidSimilarity
	opts := r.cfg.Retrieval
	opts.K = r.cfg.MergeK
	opts.Budget = int(float64(r.cfg.Retrieval.Budget) * r.cfg.MergeBudgetRatio)
	fresh, err := r.assembler.Assemble(ctx, query, opts)
	if err != nil {
		return err
	}
	d.Bundle = retrieval.Merge(prev, fresh, r.cfg.Retrieval.Budget)
	return nil
}
