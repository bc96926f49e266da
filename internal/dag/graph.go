package dag

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"trainpipe/internal/core"
)

type edgeIndex struct {
	from int
	to   int
}

// Graph is an immutable, validated step graph.
//
// Nodes keep their declaration order; that order breaks ties wherever more
// than one step could run next. Graph is safe for concurrent reads.
type Graph struct {
	nodesByName map[string]*Node
	nodes       []*Node // declaration order

	edges []edgeIndex // sorted

	outgoing [][]int // by index, sorted ascending
	incoming [][]int // by index, sorted ascending
	indeg    []int

	hash PlanHash
}

// NewGraph builds and validates a Graph.
//
// It rejects:
//   - an empty step list
//   - empty or duplicate step names, or steps without a program
//   - edges referencing unknown steps
//   - duplicate edges and self-loops
//   - any cycle (direct or indirect)
func NewGraph(steps []core.Step, edges []Edge) (*Graph, error) {
	if len(steps) == 0 {
		return nil, invalidf("no steps")
	}

	nodesByName := make(map[string]*Node, len(steps))
	nodes := make([]*Node, 0, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return nil, invalidf("step name is required")
		}
		if s.Program == "" {
			return nil, invalidf("step %q: program is required", s.Name)
		}
		if _, exists := nodesByName[s.Name]; exists {
			return nil, invalidf("duplicate step name: %q", s.Name)
		}
		node := &Node{Name: s.Name, Step: cloneStep(s), DefinitionHash: computeStepDefHash(s), index: i}
		nodesByName[s.Name] = node
		nodes = append(nodes, node)
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		fromNode, okFrom := nodesByName[e.From]
		toNode, okTo := nodesByName[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown step (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown step (to): %q", e.To)
		}
		if fromNode == toNode {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}
		pair := edgeIndex{from: fromNode.index, to: toNode.index}
		if _, exists := seen[pair]; exists {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &Graph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.hash = g.computePlanHash()
	return g, nil
}

// Chain builds a Graph in which every step depends on the one before it.
func Chain(steps ...core.Step) (*Graph, error) {
	edges := make([]Edge, 0, len(steps))
	for i := 1; i < len(steps); i++ {
		edges = append(edges, Edge{From: steps[i-1].Name, To: steps[i].Name})
	}
	return NewGraph(steps, edges)
}

// Hash returns the plan identity of this graph.
func (g *Graph) Hash() PlanHash { return g.hash }

// Node returns a node by step name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Edges returns the dependency edges in canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Upstream returns the direct dependencies of name in declaration order.
func (g *Graph) Upstream(name string) []string {
	n, ok := g.nodesByName[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.incoming[n.index]))
	for _, p := range g.incoming[n.index] {
		out = append(out, g.nodes[p].Name)
	}
	return out
}

// TopologicalOrder returns the deterministic execution order of step names.
// Among steps whose dependencies are met, the earliest declared comes first.
func (g *Graph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

// Steps returns the steps in topological order.
func (g *Graph) Steps() []core.Step {
	order := g.topoOrderIndices()
	out := make([]core.Step, 0, len(order))
	for _, idx := range order {
		out = append(out, cloneStep(g.nodes[idx].Step))
	}
	return out
}

func (g *Graph) computePlanHash() PlanHash {
	h := sha256.New()

	writeCount(h, len(g.nodes))
	for _, n := range g.nodes {
		writeField(h, []byte(n.Name))
		writeField(h, []byte(n.DefinitionHash))
	}

	writeCount(h, len(g.edges))
	for _, e := range g.edges {
		writeCount(h, e.from)
		writeCount(h, e.to)
	}

	return PlanHash(hex.EncodeToString(h.Sum(nil)))
}

func cloneStep(s core.Step) core.Step {
	out := s
	out.Args = append([]string(nil), s.Args...)
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}
