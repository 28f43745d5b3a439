package depgraph

import (
	"fmt"

	"github.com/getsolus/eopkg2stone/pkg/catalog"
)

// Graph is a directed dependency graph over package names. Nodes are stored
// in an arena slice and addressed by stable integer indices assigned on first
// insertion; a name maps to exactly one index for the graph's lifetime.
// Edges point from the requiring package to its requirement. Cycles and
// self-loops are allowed.
type Graph struct {
	nodes   []string
	lookup  map[string]int
	out     [][]int
	edgeSet map[edge]struct{}
}

type edge struct {
	from, to int
}

func New() *Graph {
	return &Graph{
		lookup:  make(map[string]int),
		edgeSet: make(map[edge]struct{}),
	}
}

// AddNode returns the index for name, inserting a new node when the name is
// not yet known.
func (g *Graph) AddNode(name string) int {
	if i, ok := g.lookup[name]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, name)
	g.out = append(g.out, nil)
	g.lookup[name] = i
	return i
}

// Lookup returns the index for name without inserting.
func (g *Graph) Lookup(name string) (int, bool) {
	i, ok := g.lookup[name]
	return i, ok
}

// AddEdge records a "from depends on to" edge between existing node indices.
// Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to int) {
	e := edge{from: from, to: to}
	if _, ok := g.edgeSet[e]; ok {
		return
	}
	g.edgeSet[e] = struct{}{}
	g.out[from] = append(g.out[from], to)
}

// HasEdge reports whether a "from depends on to" edge exists.
func (g *Graph) HasEdge(from, to string) bool {
	fi, ok := g.lookup[from]
	if !ok {
		return false
	}
	ti, ok := g.lookup[to]
	if !ok {
		return false
	}
	_, ok = g.edgeSet[edge{from: fi, to: ti}]
	return ok
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns all node names in insertion order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, len(g.nodes))
	copy(nodes, g.nodes)
	return nodes
}

// UnknownPackageError reports a bootstrap or dependency name with no catalog
// entry. Closure building cannot complete past one.
type UnknownPackageError struct {
	Name string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package %q", e.Name)
}

// Build computes the transitive runtime-dependency closure of the bootstrap
// set. It expands a frontier in rounds: each round resolves every frontier
// name against the catalog, inserts its node and its dependency edges, and
// enqueues only names never enqueued before. Keying expansion on first
// enqueue bounds the work to one round per distinct reachable package, so
// the loop terminates even when the dependency data contains cycles.
//
// Any unknown name aborts with *UnknownPackageError and no graph is returned.
func Build(c *catalog.Catalog, bootstrap []string) (*Graph, error) {
	g := New()

	seen := make(map[string]struct{}, len(bootstrap))
	frontier := make([]string, 0, len(bootstrap))
	for _, name := range bootstrap {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		frontier = append(frontier, name)
	}

	for len(frontier) > 0 {
		var next []string
		for _, name := range frontier {
			pkg, ok := c.Get(name)
			if !ok {
				return nil, &UnknownPackageError{Name: name}
			}
			from := g.AddNode(pkg.Name)
			for _, dep := range pkg.RuntimeDependencies {
				to := g.AddNode(dep)
				g.AddEdge(from, to)
				if _, ok := seen[dep]; ok {
					continue
				}
				seen[dep] = struct{}{}
				next = append(next, dep)
			}
		}
		frontier = next
	}
	return g, nil
}

// Sequence returns a total, deterministic permutation of all node names.
// The order is indegree-driven (Kahn) with the lowest node index released
// first among ties; when a cycle leaves no zero-indegree node, the lowest
// unvisited index is released to break it. Fetch order does not need to
// respect dependency direction, only to cover every node exactly once and
// be reproducible for a given graph.
func (g *Graph) Sequence() []string {
	n := len(g.nodes)
	indeg := make([]int, n)
	for e := range g.edgeSet {
		if e.from == e.to {
			continue // self-loops never gate ordering
		}
		indeg[e.to]++
	}

	order := make([]string, 0, n)
	visited := make([]bool, n)
	for len(order) < n {
		pick := -1
		for i := 0; i < n; i++ {
			if !visited[i] && indeg[i] == 0 {
				pick = i
				break
			}
		}
		if pick < 0 {
			// Cycle: every remaining node has an unvisited requirer.
			for i := 0; i < n; i++ {
				if !visited[i] {
					pick = i
					break
				}
			}
		}
		visited[pick] = true
		order = append(order, g.nodes[pick])
		for _, to := range g.out[pick] {
			if !visited[to] {
				indeg[to]--
			}
		}
	}
	return order
}
