package dag

// ReadySteps returns the steps eligible to run, in topological order.
//
// A step is ready iff it is PENDING and all its dependencies are SUCCEEDED or
// REUSED. The function is pure: it mutates neither graph nor state.
func ReadySteps(g *Graph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, idx := range g.topoOrderIndices() {
		node := g.nodes[idx]
		if st, ok := state[node.Name]; !ok || st != StepPending {
			continue
		}
		depsOK := true
		for _, p := range g.incoming[idx] {
			if !IsSuccessful(state[g.nodes[p].Name]) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}
	return ready
}
