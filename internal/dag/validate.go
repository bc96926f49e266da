package dag

// validateAcyclic rejects cyclic graphs. On failure the error names one cycle.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.cyclePath())
}

// topoOrderIndices returns the topological order of node indices. Among
// ready nodes the lowest declaration index always goes first. Nodes on a
// cycle never become ready and are left out.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)
	placed := make([]bool, len(g.nodes))

	out := make([]int, 0, len(g.nodes))
	for len(out) < len(g.nodes) {
		next := -1
		for i, d := range indeg {
			if d == 0 && !placed[i] {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		placed[next] = true
		out = append(out, next)
		for _, m := range g.outgoing[next] {
			indeg[m]--
		}
	}
	return out
}

// cyclePath returns one cycle as step names, first name repeated at the end.
//
// Every node left out of the topological order has a predecessor that was
// also left out, so walking predecessors from such a node must revisit one.
// The walk always takes the lowest-indexed candidate, which keeps the result
// stable for a given graph.
func (g *Graph) cyclePath() []string {
	ordered := make([]bool, len(g.nodes))
	for _, i := range g.topoOrderIndices() {
		ordered[i] = true
	}
	cur := -1
	for i := range g.nodes {
		if !ordered[i] {
			cur = i
			break
		}
	}
	if cur < 0 {
		return nil
	}

	seenAt := make(map[int]int)
	var walk []int
	for {
		if pos, ok := seenAt[cur]; ok {
			walk = append(walk[pos:], cur)
			break
		}
		seenAt[cur] = len(walk)
		walk = append(walk, cur)
		next := -1
		for _, p := range g.incoming[cur] {
			if !ordered[p] {
				next = p
				break
			}
		}
		if next < 0 {
			return nil
		}
		cur = next
	}

	// walk follows edges backwards.
	out := make([]string, len(walk))
	for i, idx := range walk {
		out[len(walk)-1-i] = g.nodes[idx].Name
	}
	return out
}
