package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/symspace/internal/ir"
)

// CycleWarning represents a potential firing cycle between rules.
//
// Cycles are warnings, not errors, because they are often intentional:
// counters, iterative refinement and feedback loops all re-trigger
// themselves and terminate through a guard or the run budget.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles reports groups of rules that can re-trigger each other.
//
// Rule A feeds rule B when one of A's set or remove effects writes an
// attribute that one of B's match clauses (including those under a
// negation) reads. Strongly connected components of that graph with more
// than one rule, or a rule feeding itself, are reported in declaration
// order.
func AnalyzeCycles(rules []ir.Rule) []CycleWarning {
	if len(rules) == 0 {
		return []CycleWarning{}
	}

	order := make([]string, len(rules))
	for i, r := range rules {
		order[i] = r.Name
	}
	graph := buildDependencyGraph(rules)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(order, graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps rule name → rules its effects can enable.
type dependencyGraph map[string][]string

func buildDependencyGraph(rules []ir.Rule) dependencyGraph {
	graph := make(dependencyGraph, len(rules))

	// attribute → rules whose pattern reads it
	readers := make(map[ir.Symbol][]string)
	for _, r := range rules {
		for _, attr := range readAttrs(r.Clauses) {
			if !slices.Contains(readers[attr], r.Name) {
				readers[attr] = append(readers[attr], r.Name)
			}
		}
	}

	for _, r := range rules {
		if graph[r.Name] == nil {
			graph[r.Name] = []string{}
		}
		for _, a := range r.Actions {
			if a.Kind != ir.ActionSet && a.Kind != ir.ActionRemove {
				continue
			}
			for _, target := range readers[a.Attr] {
				if !slices.Contains(graph[r.Name], target) {
					graph[r.Name] = append(graph[r.Name], target)
				}
			}
		}
	}
	return graph
}

func readAttrs(clauses []ir.Clause) []ir.Symbol {
	var attrs []ir.Symbol
	for _, c := range clauses {
		switch c.Kind {
		case ir.ClauseMatch:
			attrs = append(attrs, c.Attr)
		case ir.ClauseNot:
			attrs = append(attrs, readAttrs(c.Body)...)
		}
	}
	return attrs
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting nodes in the given order so results are deterministic.
func tarjanSCC(nodes []string, graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	// Present each component starting from its earliest-declared rule.
	pos := make(map[string]int, len(nodes))
	for i, n := range nodes {
		pos[n] = i
	}
	for _, scc := range sccs {
		slices.SortFunc(scc, func(a, b string) int { return pos[a] - pos[b] })
	}
	slices.SortFunc(sccs, func(a, b []string) int { return pos[a[0]] - pos[b[0]] })
	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-triggering rule detected: %s → %s", name, name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) && neighbor != current {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
