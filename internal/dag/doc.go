// Package dag models a pipeline as a validated graph of steps and runs it.
//
// It is split into:
//   - Immutable definition (Graph): steps, dependency edges and a stable PlanHash
//   - Mutable execution state (ExecutionState): per-run step statuses
//
// Steps run one at a time. A failing step stops everything downstream of it.
package dag
