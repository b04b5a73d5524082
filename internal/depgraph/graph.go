// Package depgraph tracks which files include which.
//
// The graph is kept acyclic at all times: an edge that would close a cycle
// is rejected and remembered, never inserted. Outgoing edges of a file are
// replaced as a set on every re-parse so no stale edge survives.
package depgraph

import (
	"errors"
	"sort"
)

// ErrCyclicDependency is returned by TopologicalOrder if the graph ever
// contains a cycle.
var ErrCyclicDependency = errors.New("include graph contains a cycle")

// Kind is the flavour of include that produced an edge.
type Kind string

const (
	KindDocument Kind = "document-include"
	KindSection  Kind = "section-include"
	KindItem     Kind = "item-include"
)

// Edge is a directed "From includes To" reference.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind Kind   `json:"kind"`
}

// Cycle describes a rejected edge and the cycle it would have closed.
// Members starts at Edge.To and ends at Edge.From.
type Cycle struct {
	Edge    Edge     `json:"edge"`
	Members []string `json:"members"`
}

type edgeKey struct {
	from, to string
}

// Graph is a directed include graph. Not safe for concurrent use; the
// coordinator serializes access.
type Graph struct {
	out map[string]map[string]Kind
	in  map[string]map[string]struct{}

	rejected   map[edgeKey]Cycle
	suppressed map[edgeKey]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		out:        make(map[string]map[string]Kind),
		in:         make(map[string]map[string]struct{}),
		rejected:   make(map[edgeKey]Cycle),
		suppressed: make(map[edgeKey]struct{}),
	}
}

// SetEdges atomically replaces every outgoing edge of from with edges.
// Edges whose From differs from from are ignored. It returns the cycles
// rejected by this call; an edge that was already rejected and is still
// rejected is not reported again.
func (g *Graph) SetEdges(from string, edges []Edge) []Cycle {
	wanted := make(map[string]Kind, len(edges))
	targets := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.From != from {
			continue
		}
		if _, dup := wanted[e.To]; dup {
			continue
		}
		wanted[e.To] = e.Kind
		targets = append(targets, e.To)
	}
	sort.Strings(targets)

	// A suppressed edge whose reference vanished from the source is forgotten,
	// so re-adding the reference later is treated as a fresh edge.
	for k := range g.suppressed {
		if k.from == from {
			if _, still := wanted[k.to]; !still {
				delete(g.suppressed, k)
			}
		}
	}

	for to := range g.out[from] {
		g.unlink(from, to)
	}

	var fresh []Cycle
	for _, to := range targets {
		k := edgeKey{from, to}
		if _, ok := g.suppressed[k]; ok {
			continue
		}
		edge := Edge{From: from, To: to, Kind: wanted[to]}
		if members := g.WouldCycle(from, to); members != nil {
			c := Cycle{Edge: edge, Members: members}
			if _, seen := g.rejected[k]; !seen {
				fresh = append(fresh, c)
			}
			g.rejected[k] = c
			continue
		}
		delete(g.rejected, k)
		g.link(edge)
	}

	for k := range g.rejected {
		if k.from != from {
			continue
		}
		if _, still := wanted[k.to]; !still {
			delete(g.rejected, k)
		}
	}

	return fresh
}

// WouldCycle reports the cycle that adding from->to would close, or nil.
// The returned membership starts at to and ends at from.
func (g *Graph) WouldCycle(from, to string) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var stack []string
	var found []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		stack = append(stack, n)

		next := g.sortedTargets(n)
		if n == from {
			next = append([]string{to}, next...)
		}
		for _, m := range next {
			switch color[m] {
			case gray:
				for i, s := range stack {
					if s == m {
						found = append([]string(nil), stack[i:]...)
						return true
					}
				}
			case white:
				if visit(m) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	if visit(to) {
		return found
	}
	return nil
}

// DetectCycle returns the cycle membership created by from's edges,
// including edges that were rejected on the last SetEdges, or nil.
func (g *Graph) DetectCycle(from string) []string {
	var targets []string
	for k := range g.rejected {
		if k.from == from {
			targets = append(targets, k.to)
		}
	}
	sort.Strings(targets)
	for _, to := range targets {
		if members := g.WouldCycle(from, to); members != nil {
			return members
		}
	}
	return nil
}

// ImpactedBy returns every file that transitively includes path, sorted.
func (g *Graph) ImpactedBy(path string) []string {
	seen := map[string]bool{path: true}
	queue := []string{path}
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for parent := range g.in[n] {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			out = append(out, parent)
			queue = append(queue, parent)
		}
	}
	sort.Strings(out)
	return out
}

// Reachable returns roots plus every file they transitively include.
func (g *Graph) Reachable(roots ...string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		for to := range g.out[n] {
			stack = append(stack, to)
		}
	}
	return seen
}

// TopologicalOrder returns every node with included files before the files
// that include them, so invalidation can cascade outward.
func (g *Graph) TopologicalOrder() ([]string, error) {
	nodes := g.Nodes()
	remaining := make(map[string]int, len(nodes))
	var ready []string
	for _, n := range nodes {
		remaining[n] = len(g.out[n])
		if remaining[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		parents := make([]string, 0, len(g.in[n]))
		for p := range g.in[n] {
			parents = append(parents, p)
		}
		sort.Strings(parents)
		for _, p := range parents {
			remaining[p]--
			if remaining[p] == 0 {
				ready = append(ready, p)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

// RemoveEdge deletes from->to and suppresses it until the reference
// disappears from from's content. Returns false if the edge was absent.
func (g *Graph) RemoveEdge(from, to string) bool {
	k := edgeKey{from, to}
	_, had := g.out[from][to]
	_, wasRejected := g.rejected[k]
	if !had && !wasRejected {
		return false
	}
	g.unlink(from, to)
	delete(g.rejected, k)
	g.suppressed[k] = struct{}{}
	return true
}

// RemoveAllFor drops every edge touching path, in either direction, along
// with any rejection recorded for it. Suppressions of path's own references
// go too; a suppression of another file's reference to path stays until that
// reference disappears from the includer.
func (g *Graph) RemoveAllFor(path string) {
	for to := range g.out[path] {
		g.unlink(path, to)
	}
	for from := range g.in[path] {
		g.unlink(from, path)
	}
	for k := range g.rejected {
		if k.from == path || k.to == path {
			delete(g.rejected, k)
		}
	}
	for k := range g.suppressed {
		if k.from == path {
			delete(g.suppressed, k)
		}
	}
}

// HasEdge reports whether from->to is in the graph.
func (g *Graph) HasEdge(from, to string) bool {
	_, ok := g.out[from][to]
	return ok
}

// Outgoing returns the edges leaving from, sorted by target.
func (g *Graph) Outgoing(from string) []Edge {
	out := make([]Edge, 0, len(g.out[from]))
	for _, to := range g.sortedTargets(from) {
		out = append(out, Edge{From: from, To: to, Kind: g.out[from][to]})
	}
	return out
}

// Incoming returns the edges arriving at to, sorted by source.
func (g *Graph) Incoming(to string) []Edge {
	froms := make([]string, 0, len(g.in[to]))
	for f := range g.in[to] {
		froms = append(froms, f)
	}
	sort.Strings(froms)
	out := make([]Edge, 0, len(froms))
	for _, f := range froms {
		out = append(out, Edge{From: f, To: to, Kind: g.out[f][to]})
	}
	return out
}

// Edges returns all edges sorted by (From, To).
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, from := range g.sortedSources() {
		out = append(out, g.Outgoing(from)...)
	}
	return out
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, targets := range g.out {
		n += len(targets)
	}
	return n
}

// Rejected returns the currently rejected edges, sorted by edge.
func (g *Graph) Rejected() []Cycle {
	out := make([]Cycle, 0, len(g.rejected))
	for _, c := range g.rejected {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Edge.From != out[j].Edge.From {
			return out[i].Edge.From < out[j].Edge.From
		}
		return out[i].Edge.To < out[j].Edge.To
	})
	return out
}

// Nodes returns every path that appears as an edge endpoint, sorted.
func (g *Graph) Nodes() []string {
	set := make(map[string]struct{})
	for from, targets := range g.out {
		set[from] = struct{}{}
		for to := range targets {
			set[to] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) link(e Edge) {
	if g.out[e.From] == nil {
		g.out[e.From] = make(map[string]Kind)
	}
	g.out[e.From][e.To] = e.Kind
	if g.in[e.To] == nil {
		g.in[e.To] = make(map[string]struct{})
	}
	g.in[e.To][e.From] = struct{}{}
}

func (g *Graph) unlink(from, to string) {
	delete(g.out[from], to)
	if len(g.out[from]) == 0 {
		delete(g.out, from)
	}
	delete(g.in[to], from)
	if len(g.in[to]) == 0 {
		delete(g.in, to)
	}
}

func (g *Graph) sortedTargets(from string) []string {
	out := make([]string, 0, len(g.out[from]))
	for to := range g.out[from] {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) sortedSources() []string {
	out := make([]string, 0, len(g.out))
	for from := range g.out {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}
