package graph

import "codask/internal/ir"

// Stats summarises the linked graph.
type Stats struct {
	Nodes      int                      `json:"nodes"`
	Edges      int                      `json:"edges"`
	ByKind     map[ir.EdgeKind]int      `json:"by_kind"`
	Unresolved map[UnresolvedReason]int `json:"unresolved"`
}

func (g *Graph) Stats() Stats {
	s := Stats{
		Nodes:      len(g.Nodes),
		Edges:      len(g.Edges),
		ByKind:     make(map[ir.EdgeKind]int),
		Unresolved: g.UnresolvedReasonCounts(),
	}
	for _, e := range g.Edges {
		s.ByKind[e.Kind]++
	}
	return s
}

func (g *Graph) UnresolvedReasonCounts() map[UnresolvedReason]int {
	counts := make(map[UnresolvedReason]int)
	if g == nil {
		return counts
	}
	for _, u := range g.Unresolved {
		reason := u.Reason
		if reason == "" {
			reason = ReasonNoCandidate
		}
		counts[reason]++
	}
	return counts
}
