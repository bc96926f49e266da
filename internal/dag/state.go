package dag

// StepState is the runtime state of a step within one run.
type StepState string

const (
	StepPending   StepState = "PENDING"
	StepRunning   StepState = "RUNNING"
	StepSucceeded StepState = "SUCCEEDED"
	StepFailed    StepState = "FAILED"
	StepSkipped   StepState = "SKIPPED"
	// StepReused marks a step satisfied by an earlier run (resume).
	StepReused StepState = "REUSED"
)

// ExecutionState maps step name to its current state.
type ExecutionState map[string]StepState

// NewExecutionState returns a state with every step of g PENDING.
func NewExecutionState(g *Graph) ExecutionState {
	st := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		st[n.Name] = StepPending
	}
	return st
}
