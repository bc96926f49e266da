package dag

// Plan carries decisions made before a run starts.
type Plan struct {
	// Reuse lists steps already satisfied by an earlier run.
	Reuse map[string]bool

	// ResumedFrom is the run ID the reused steps come from.
	ResumedFrom string
}

// Reused returns the reused step names in topological order.
func (p *Plan) Reused(g *Graph) []string {
	if p == nil || g == nil {
		return nil
	}
	var out []string
	for _, name := range g.TopologicalOrder() {
		if p.Reuse[name] {
			out = append(out, name)
		}
	}
	return out
}

// ResumePlan builds a plan that reuses the steps an earlier run completed.
//
// Only a prefix of the topological order is reused: walking the order, a
// step is reused while it succeeded before and all of its dependencies are
// reused; the first step that does not qualify ends the prefix. ResumePlan
// returns nil when nothing can be reused.
func ResumePlan(g *Graph, runID string, succeeded map[string]bool) *Plan {
	if g == nil || len(succeeded) == 0 {
		return nil
	}
	reuse := make(map[string]bool)
	for _, name := range g.TopologicalOrder() {
		if !succeeded[name] {
			break
		}
		ok := true
		for _, p := range g.Upstream(name) {
			if !reuse[p] {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		reuse[name] = true
	}
	if len(reuse) == 0 {
		return nil
	}
	return &Plan{Reuse: reuse, ResumedFrom: runID}
}
