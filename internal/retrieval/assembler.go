// Package retrieval assembles the bounded context bundle of a turn from
// vector hits and their dependency-graph neighbourhood.
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"time"

	"codask/internal/catalog"
	"codask/internal/ir"
	"codask/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Searcher is the vector side of retrieval.
type Searcher interface {
	SearchUnits(ctx context.Context, query string, k int) ([]ir.UnitRef, error)
	SearchIssues(ctx context.Context, query string, k int) ([]ir.UnitRef, error)
}

// UnitSource resolves unit ids; implemented by catalog.Catalog.
type UnitSource interface {
	Unit(id string) (ir.CodeUnit, bool)
	Issues(unitID string) []ir.Issue
}

// Neighborhood is the dependency graph walk; implemented by graph.Graph.
type Neighborhood interface {
	Reachable(seeds []string, maxHops int) map[string]int
}

// Options bound one assembly.
type Options struct {
	K      int
	Hops   int
	Budget int
}

// DefaultDecay is the score multiplier applied per graph hop.
const DefaultDecay = 0.5

// Assembler builds a bounded context bundle from vector hits and their call-graph neighbours.
type Assembler struct {
	search Searcher
	units  UnitSource
	graph  Neighborhood
	decay  float64
	logger *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithDecay sets the per-hop score multiplier for graph-expanded units.
func WithDecay(d float64) AssemblerOption {
	return func(a *Assembler) {
		if d > 0 && d <= 1 {
			a.decay = d
		}
	}
}

func WithLogger(l *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewAssembler(search Searcher, units UnitSource, g Neighborhood, opts ...AssemblerOption) *Assembler {
	a := &Assembler{search: search, units: units, graph: g, decay: DefaultDecay, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the context bundle for query. Given the same index and
// graph state the result is identical across calls.
func (a *Assembler) Assemble(ctx context.Context, query string, opts Options) (Bundle, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer("retrieval").Start(ctx, "retrieval.Assemble",
		trace.WithAttributes(
			attribute.Int("retrieval.k", opts.K),
			attribute.Int("retrieval.hops", opts.Hops),
			attribute.Int("retrieval.budget", opts.Budget),
		))
	defer span.End()

	seeds, err := a.seeds(ctx, query, opts.K)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seed search failed")
		return Bundle{}, err
	}

	refs := a.expand(seeds, opts.Hops)

	entries := make([]Entry, 0, len(refs))
	for _, id := range sortedKeys(refs) {
		unit, ok := a.units.Unit(id)
		if !ok {
			a.logger.Debug("dropping unresolved unit ref", "dangling_reference", id, "source", refs[id].Source)
			continue
		}
		issues := a.units.Issues(id)
		catalog.SortIssues(issues)
		entries = append(entries, Entry{Ref: refs[id], Unit: unit, Issues: issues})
	}

	b := pack(query, entries, opts.Budget)

	span.SetAttributes(
		attribute.Int("bundle.entries", len(b.Entries)),
		attribute.Int("bundle.used", b.Used),
		attribute.Int("bundle.dropped", b.Dropped),
	)
	telemetry.AssembleDuration.Observe(time.Since(start).Seconds())
	telemetry.BundleEntries.Observe(float64(len(b.Entries)))
	return b, nil
}

// seeds runs the unit and issue searches in parallel and merges their
// normalised scores per unit.
func (a *Assembler) seeds(ctx context.Context, query string, k int) (map[string]ir.UnitRef, error) {
	var unitHits, issueHits []ir.UnitRef
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		unitHits, err = a.search.SearchUnits(gctx, query, k)
		return err
	})
	g.Go(func() error {
		var err error
		issueHits, err = a.search.SearchIssues(gctx, query, k)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]ir.UnitRef)
	for _, hits := range [][]ir.UnitRef{normalize(unitHits), normalize(issueHits)} {
		for _, h := range hits {
			h.Source = ir.SourceVector
			h.Hop = 0
			if cur, ok := out[h.UnitID]; !ok || better(h, cur) {
				out[h.UnitID] = h
			}
		}
	}
	return out, nil
}

// expand walks the graph from every seed and scores discovered units with
// seedScore * decay^hop, keeping the best ref per unit.
func (a *Assembler) expand(seeds map[string]ir.UnitRef, hops int) map[string]ir.UnitRef {
	refs := make(map[string]ir.UnitRef, len(seeds))
	for id, r := range seeds {
		refs[id] = r
	}
	if a.graph == nil || hops <= 0 {
		return refs
	}
	for _, seedID := range sortedKeys(seeds) {
		seed := seeds[seedID]
		reach := a.graph.Reachable([]string{seedID}, hops)
		for _, id := range sortedKeys(reach) {
			hop := reach[id]
			if hop == 0 {
				continue
			}
			cand := ir.UnitRef{
				UnitID: id,
				Score:  seed.Score * math.Pow(a.decay, float64(hop)),
				Source: ir.SourceGraph,
				Hop:    hop,
			}
			if cur, ok := refs[id]; !ok || better(cand, cur) {
				refs[id] = cand
			}
		}
	}
	return refs
}

// normalize rescales scores to [0,1]; a single hit or a flat list maps to 1.
func normalize(hits []ir.UnitRef) []ir.UnitRef {
	if len(hits) == 0 {
		return nil
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = math.Min(lo, h.Score)
		hi = math.Max(hi, h.Score)
	}
	out := make([]ir.UnitRef, len(hits))
	for i, h := range hits {
		if hi == lo {
			h.Score = 1
		} else {
			h.Score = (h.Score - lo) / (hi - lo)
		}
		out[i] = h
	}
	return out
}
