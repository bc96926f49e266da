package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"trainpipe/internal/core"
	"trainpipe/internal/dag"
)

const (
	planFormatText = "text"
	planFormatYAML = "yaml"
	planFormatJSON = "json"
)

type planDocument struct {
	PlanHash string      `json:"plan_hash" yaml:"plan_hash"`
	Steps    []core.Step `json:"steps" yaml:"steps"`
	Edges    []dag.Edge  `json:"edges" yaml:"edges"`
}

// writePlan renders the steps of g in execution order.
//
// The text form is a runnable shell script: one shell-quoted command per
// step, preceded by a comment naming it.
func writePlan(w io.Writer, g *dag.Graph, format string) error {
	switch format {
	case "", planFormatText:
		if _, err := fmt.Fprintf(w, "# plan %s\n", g.Hash()); err != nil {
			return err
		}
		for _, step := range g.Steps() {
			if _, err := fmt.Fprintf(w, "# %s\n%s\n", step.Name, step.String()); err != nil {
				return err
			}
		}
		return nil
	case planFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newPlanDocument(g)); err != nil {
			return err
		}
		return enc.Close()
	case planFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newPlanDocument(g))
	default:
		return invalidInvocationf("invalid --format %q (expected text|yaml|json)", format)
	}
}

func newPlanDocument(g *dag.Graph) planDocument {
	return planDocument{
		PlanHash: string(g.Hash()),
		Steps:    g.Steps(),
		Edges:    g.Edges(),
	}
}
