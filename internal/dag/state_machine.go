package dag

import "fmt"

// IsTerminal reports whether the state is final for this run.
func IsTerminal(s StepState) bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped, StepReused:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s StepState) bool {
	switch s {
	case StepSucceeded, StepReused:
		return true
	default:
		return false
	}
}

// Transition performs a validated transition for a single step.
//
// The caller supplies the expected prior state so races are observable. The
// map is mutated only if the transition is valid.
func Transition(state ExecutionState, name string, from, to StepState) error {
	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown step in state: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	state[name] = to
	return nil
}

func isAllowedTransition(from, to StepState) bool {
	switch from {
	case StepPending:
		return to == StepRunning || to == StepReused || to == StepSkipped
	case StepRunning:
		// SKIPPED covers a step interrupted before its process started.
		return to == StepSucceeded || to == StepFailed || to == StepSkipped
	default:
		return false
	}
}

// FailAndPropagate moves name from RUNNING to FAILED and marks every
// transitive dependent that is still PENDING as SKIPPED.
//
// It returns the newly skipped steps in declaration order. A dependent found
// RUNNING is an invariant violation.
func FailAndPropagate(g *Graph, state ExecutionState, name string) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown step: %q", name)
	}
	cur, ok := state[name]
	if !ok {
		return nil, fmt.Errorf("unknown step in state: %q", name)
	}
	if cur != StepRunning && cur != StepFailed {
		return nil, fmt.Errorf("cannot fail %q from state %s", name, cur)
	}
	state[name] = StepFailed

	// Collect every transitive dependent first, then act on them in
	// declaration order.
	reached := make([]bool, len(g.nodes))
	queue := append([]int(nil), g.outgoing[node.index]...)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if reached[u] {
			continue
		}
		reached[u] = true
		queue = append(queue, g.outgoing[u]...)
	}

	var skipped []string
	for i, n := range g.nodes {
		if !reached[i] {
			continue
		}
		st, ok := state[n.Name]
		if !ok {
			return nil, fmt.Errorf("missing state for %q", n.Name)
		}
		switch st {
		case StepPending:
			state[n.Name] = StepSkipped
			skipped = append(skipped, n.Name)
		case StepRunning:
			return nil, fmt.Errorf("invariant violation: dependent %q is RUNNING during failure propagation", n.Name)
		}
	}
	return skipped, nil
}

// SkipPending marks every PENDING step SKIPPED and returns them in
// declaration order. Used when a run is interrupted.
func SkipPending(g *Graph, state ExecutionState) []string {
	var skipped []string
	for _, n := range g.nodes {
		if state[n.Name] == StepPending {
			state[n.Name] = StepSkipped
			skipped = append(skipped, n.Name)
		}
	}
	return skipped
}
