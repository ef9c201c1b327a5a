// Package graph holds the call/import dependency graph between code units.
// Cycles are valid; every traversal is bounded by a visited set.
package graph

import (
	"path"
	"sort"
	"strings"

	"codask/internal/ir"
)

// Graph manages nodes and their relationships.
type Graph struct {
	Nodes      map[string]*Node
	Edges      []ir.Edge
	Unresolved []Unresolved

	out       map[string][]ir.Edge
	in        map[string][]ir.Edge
	edgeSeen  map[ir.Edge]bool
	nameIndex map[string][]string
	pkgIndex  map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:     make(map[string]*Node),
		out:       make(map[string][]ir.Edge),
		in:        make(map[string][]ir.Edge),
		edgeSeen:  make(map[ir.Edge]bool),
		nameIndex: make(map[string][]string),
		pkgIndex:  make(map[string][]string),
	}
}

// Build adds every unit and links calls and imports by name.
func Build(units []ir.CodeUnit) *Graph {
	g := NewGraph()
	for _, u := range units {
		g.AddUnit(u)
	}
	g.LinkRelations()
	return g
}

// AddUnit adds a unit as a node and indexes its name and package.
func (g *Graph) AddUnit(unit ir.CodeUnit) {
	if unit.ID == "" {
		return
	}
	if _, exists := g.Nodes[unit.ID]; exists {
		return
	}
	g.Nodes[unit.ID] = &Node{
		ID:       unit.ID,
		Name:     unit.Name,
		Package:  unit.Package,
		FilePath: unit.FilePath,
		Calls:    unit.Calls,
		Imports:  unit.Imports,
		Content:  unit.Content,
	}
	g.nameIndex[unit.Name] = append(g.nameIndex[unit.Name], unit.ID)
	if unit.Package != "" {
		key := unit.Package + "." + unit.Name
		g.nameIndex[key] = append(g.nameIndex[key], unit.ID)
		g.pkgIndex[unit.Package] = append(g.pkgIndex[unit.Package], unit.ID)
	}
}

// AddEdge inserts a resolved edge. Duplicates and self loops are ignored.
func (g *Graph) AddEdge(e ir.Edge) {
	if e.From == e.To || g.edgeSeen[e] {
		return
	}
	g.edgeSeen[e] = true
	g.Edges = append(g.Edges, e)
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
}

// LinkRelations resolves call names and imported-package references to node IDs.
func (g *Graph) LinkRelations() {
	for _, id := range g.sortedNodeIDs() {
		node := g.Nodes[id]
		for _, callee := range node.Calls {
			targets, reason := g.resolveTarget(callee, node)
			if reason != "" {
				g.Unresolved = append(g.Unresolved, Unresolved{From: id, Target: callee, Reason: reason})
			}
			for _, to := range targets {
				g.AddEdge(ir.Edge{From: id, To: to, Kind: ir.EdgeCalls})
			}
		}
		g.linkImports(node)
	}
	g.sortEdges()
}

// resolveTarget prefers a candidate in the caller's file, then its package,
// and falls back to every unit of that name.
func (g *Graph) resolveTarget(name string, from *Node) ([]string, UnresolvedReason) {
	candidates := g.nameIndex[name]
	if len(candidates) == 0 {
		return nil, ReasonNoCandidate
	}
	if len(candidates) == 1 {
		return candidates, ""
	}
	var sameFile, samePkg []string
	for _, id := range candidates {
		n := g.Nodes[id]
		if n.FilePath == from.FilePath {
			sameFile = append(sameFile, id)
		}
		if n.Package != "" && n.Package == from.Package {
			samePkg = append(samePkg, id)
		}
	}
	if len(sameFile) > 0 {
		return sameFile, ""
	}
	if len(samePkg) > 0 {
		return samePkg, ""
	}
	return candidates, ReasonAmbiguous
}

// linkImports adds an imports edge to every unit of an imported package that
// the node references by qualified name (pkg.Name) without calling it.
func (g *Graph) linkImports(node *Node) {
	if node.Content == "" {
		return
	}
	for _, imp := range node.Imports {
		pkg := importPackage(imp)
		for _, target := range g.pkgIndex[pkg] {
			t := g.Nodes[target]
			if !strings.Contains(node.Content, pkg+"."+t.Name) {
				continue
			}
			if g.edgeSeen[ir.Edge{From: node.ID, To: target, Kind: ir.EdgeCalls}] {
				continue
			}
			g.AddEdge(ir.Edge{From: node.ID, To: target, Kind: ir.EdgeImports})
		}
	}
}

// importPackage maps "codask/internal/catalog" to "catalog" and "app.utils" to "utils".
func importPackage(imp string) string {
	imp = path.Base(imp)
	if idx := strings.LastIndex(imp, "."); idx != -1 {
		imp = imp[idx+1:]
	}
	return imp
}

// Outgoing returns the edges leaving id.
func (g *Graph) Outgoing(id string) []ir.Edge {
	return append([]ir.Edge(nil), g.out[id]...)
}

// Incoming returns the edges entering id.
func (g *Graph) Incoming(id string) []ir.Edge {
	return append([]ir.Edge(nil), g.in[id]...)
}

// GetDependencies returns the IDs the given node depends on.
func (g *Graph) GetDependencies(id string) []string {
	var deps []string
	for _, e := range g.out[id] {
		deps = append(deps, e.To)
	}
	return dedupeSorted(deps)
}

// GetDependents returns the IDs that depend on the given node.
func (g *Graph) GetDependents(id string) []string {
	var deps []string
	for _, e := range g.in[id] {
		deps = append(deps, e.From)
	}
	return dedupeSorted(deps)
}

// Neighbors returns callers and callees of id, sorted and deduplicated.
func (g *Graph) Neighbors(id string) []string {
	var ids []string
	for _, e := range g.out[id] {
		ids = append(ids, e.To)
	}
	for _, e := range g.in[id] {
		ids = append(ids, e.From)
	}
	return dedupeSorted(ids)
}

// Reachable runs a breadth-first walk in both directions from seeds and
// returns the hop distance of every node within maxHops (seeds at 0).
func (g *Graph) Reachable(seeds []string, maxHops int) map[string]int {
	depth := make(map[string]int, len(seeds))
	queue := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if _, seen := depth[id]; seen {
			continue
		}
		depth[id] = 0
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := depth[cur]
		if d >= maxHops {
			continue
		}
		for _, next := range g.Neighbors(cur) {
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = d + 1
			queue = append(queue, next)
		}
	}
	return depth
}

func (g *Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) sortEdges() {
	less := func(edges []ir.Edge) func(i, j int) bool {
		return func(i, j int) bool {
			if edges[i].From != edges[j].From {
				return edges[i].From < edges[j].From
			}
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			return edges[i].Kind < edges[j].Kind
		}
	}
	sort.Slice(g.Edges, less(g.Edges))
	for id := range g.out {
		es := g.out[id]
		sort.Slice(es, less(es))
	}
	for id := range g.in {
		es := g.in[id]
		sort.Slice(es, less(es))
	}
}

// FromEdges rebuilds a graph from persisted units and edges without re-linking.
func FromEdges(units []ir.CodeUnit, edges []ir.Edge) *Graph {
	g := NewGraph()
	for _, u := range units {
		g.AddUnit(u)
	}
	for _, e := range edges {
		g.AddEdge(e)
	}
	g.sortEdges()
	return g
}

func dedupeSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
