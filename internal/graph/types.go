package graph

type UnresolvedReason string

const (
	// ReasonNoCandidate: the callee is not a unit of this repository (stdlib, third party).
	ReasonNoCandidate UnresolvedReason = "no_candidate"
	// ReasonAmbiguous: several units share the name and none is local to the caller.
	// Every candidate is linked; the record is kept for diagnostics.
	ReasonAmbiguous UnresolvedReason = "ambiguous"
)

// Unresolved records a call name that could not be bound to exactly one unit.
type Unresolved struct {
	From   string           `json:"from"`
	Target string           `json:"target"`
	Reason UnresolvedReason `json:"reason"`
}

// Node is the graph-side view of a code unit: enough to resolve names.
// The unit itself stays in the catalog.
type Node struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Package  string   `json:"package"`
	FilePath string   `json:"file_path"`
	Calls    []string `json:"calls,omitempty"`
	Imports  []string `json:"imports,omitempty"`
	Content  string   `json:"-"`
}
