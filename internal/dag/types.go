package dag

import "trainpipe/internal/core"

// PlanHash is the stable identity of a Graph.
//
// It is computed from step definitions and dependency edges, so two runs of
// the same recipe with the same configuration share a PlanHash.
type PlanHash string

// StepDefHash is the identity of a single step definition.
type StepDefHash string

// Edge represents a dependency relation: To runs only after From succeeded.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Node is an immutable node in the Graph.
type Node struct {
	Name           string
	Step           core.Step
	DefinitionHash StepDefHash
	index          int
}

func (h PlanHash) String() string { return string(h) }

func (h StepDefHash) String() string { return string(h) }
