// Package catalog is the in-memory code unit store: units, their issues and
// the lookups the query path needs. It is filled once per analysis run and is
// read-only while queries are served.
package catalog

import (
	"path/filepath"
	"sort"
	"sync"

	"codask/internal/ir"
)

type Catalog struct {
	mu     sync.RWMutex
	units  map[string]ir.CodeUnit
	issues map[string]ir.Issue
	byUnit map[string][]string
	byName map[string][]string
	byFile map[string][]string
}

func New() *Catalog {
	return &Catalog{
		units:  make(map[string]ir.CodeUnit),
		issues: make(map[string]ir.Issue),
		byUnit: make(map[string][]string),
		byName: make(map[string][]string),
		byFile: make(map[string][]string),
	}
}

// Add stores units and issues. Issues whose unit is unknown are ignored and
// counted in the return value.
func (c *Catalog) Add(units []ir.CodeUnit, issues []ir.Issue) (orphans int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range units {
		if _, exists := c.units[u.ID]; exists {
			continue
		}
		c.units[u.ID] = u
		c.byName[u.Name] = append(c.byName[u.Name], u.ID)
		file := filepath.ToSlash(u.FilePath)
		c.byFile[file] = append(c.byFile[file], u.ID)
	}
	for _, is := range issues {
		if _, ok := c.units[is.UnitID]; !ok {
			orphans++
			continue
		}
		if _, exists := c.issues[is.ID]; exists {
			continue
		}
		c.issues[is.ID] = is
		c.byUnit[is.UnitID] = append(c.byUnit[is.UnitID], is.ID)
	}
	return orphans
}

// Remove deletes a unit and its issues. It reports whether the unit existed.
func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.units[id]
	if !ok {
		return false
	}
	delete(c.units, id)
	for _, iid := range c.byUnit[id] {
		delete(c.issues, iid)
	}
	delete(c.byUnit, id)
	c.byName[u.Name] = without(c.byName[u.Name], id)
	file := filepath.ToSlash(u.FilePath)
	c.byFile[file] = without(c.byFile[file], id)
	return true
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (c *Catalog) Unit(id string) (ir.CodeUnit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[id]
	return u, ok
}

func (c *Catalog) Issue(id string) (ir.Issue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	is, ok := c.issues[id]
	return is, ok
}

// Issues returns the issues of a unit, highest severity first.
func (c *Catalog) Issues(unitID string) []ir.Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ir.Issue, 0, len(c.byUnit[unitID]))
	for _, iid := range c.byUnit[unitID] {
		out = append(out, c.issues[iid])
	}
	SortIssues(out)
	return out
}

// Units returns every unit ordered by id.
func (c *Catalog) Units() []ir.CodeUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ir.CodeUnit, 0, len(c.units))
	for _, u := range c.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllIssues returns every issue ordered by severity, then id.
func (c *Catalog) AllIssues() []ir.Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ir.Issue, 0, len(c.issues))
	for _, is := range c.issues {
		out = append(out, is)
	}
	SortIssues(out)
	return out
}

func (c *Catalog) ByName(name string) []ir.CodeUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collect(c.byName[name])
}

func (c *Catalog) ByFile(path string) []ir.CodeUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collect(c.byFile[filepath.ToSlash(path)])
}

// HasName reports whether any unit is called name.
func (c *Catalog) HasName(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName[name]) > 0
}

// FileFor resolves a path or a path suffix (e.g. "config.go") to a known file.
func (c *Catalog) FileFor(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	path = filepath.ToSlash(path)
	if len(c.byFile[path]) > 0 {
		return path, true
	}
	var matches []string
	for f, ids := range c.byFile {
		if len(ids) > 0 && (f == path || hasPathSuffix(f, path)) {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

func hasPathSuffix(file, suffix string) bool {
	if len(suffix) >= len(file) {
		return false
	}
	return file[len(file)-len(suffix):] == suffix && file[len(file)-len(suffix)-1] == '/'
}

func (c *Catalog) collect(ids []string) []ir.CodeUnit {
	out := make([]ir.CodeUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := c.units[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].StartLine < out[j].StartLine
	})
	return out
}

// IssueFilter selects issues; zero fields match everything.
type IssueFilter struct {
	Category    ir.Category
	MinSeverity ir.Severity
	FilePath    string
}

func (f IssueFilter) match(is ir.Issue) bool {
	if f.Category != "" && is.Category != f.Category {
		return false
	}
	if f.MinSeverity != "" && is.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if f.FilePath != "" && filepath.ToSlash(is.Location.FilePath) != filepath.ToSlash(f.FilePath) {
		return false
	}
	return true
}

func (c *Catalog) FindIssues(f IssueFilter) []ir.Issue {
	var out []ir.Issue
	for _, is := range c.AllIssues() {
		if f.match(is) {
			out = append(out, is)
		}
	}
	return out
}

type Stats struct {
	Units      int                 `json:"units"`
	Files      int                 `json:"files"`
	Issues     int                 `json:"issues"`
	ByCategory map[ir.Category]int `json:"by_category"`
	BySeverity map[ir.Severity]int `json:"by_severity"`
}

func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		Units:      len(c.units),
		Issues:     len(c.issues),
		ByCategory: make(map[ir.Category]int),
		BySeverity: make(map[ir.Severity]int),
	}
	for _, ids := range c.byFile {
		if len(ids) > 0 {
			s.Files++
		}
	}
	for _, is := range c.issues {
		s.ByCategory[is.Category]++
		s.BySeverity[is.Severity]++
	}
	return s
}

// SortIssues orders issues by severity (high first), then id.
func SortIssues(issues []ir.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if ri, rj := issues[i].Severity.Rank(), issues[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return issues[i].ID < issues[j].ID
	})
}
