package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder builds the layered execution graph from job descriptors. It
// validates dependencies, detects cycles and assigns Kahn-style topological
// layers so the executor can run each layer in parallel.
type DAGBuilder struct {
	// jobs maps job ids to their descriptors
	jobs map[string]*JobDescriptor

	// dependents maps a job id to the jobs depending on it
	dependents map[string][]string

	// inDegree tracks the number of unresolved dependencies per job
	inDegree map[string]int

	// layers maps layer index to job ids at that layer
	layers [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		jobs:       make(map[string]*JobDescriptor),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// Build computes the topological layers of the given jobs. Layer ordering is
// deterministic: within a layer job ids are sorted.
func (b *DAGBuilder) Build(jobs []JobDescriptor) ([][]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if err := b.initialize(jobs); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLayers(); err != nil {
		return nil, err
	}
	return b.layers, nil
}

// initialize indexes jobs and builds the dependency adjacency.
func (b *DAGBuilder) initialize(jobs []JobDescriptor) error {
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			return NewInternalError("job has empty id", nil).WithCode(ErrCodeValidation)
		}
		if _, exists := b.jobs[job.ID]; exists {
			return NewInternalError(fmt.Sprintf("duplicate job id: %s", job.ID), nil).
				WithCode(ErrCodeValidation)
		}
		b.jobs[job.ID] = job
		b.inDegree[job.ID] = 0
	}

	for _, job := range b.jobs {
		for _, dep := range job.DependsOn {
			if _, exists := b.jobs[dep]; !exists {
				return NewInternalError(
					fmt.Sprintf("job %s depends on unknown job %s", job.ID, dep), nil).
					WithCode(ErrCodeValidation).WithJob(job.ID)
			}
			b.dependents[dep] = append(b.dependents[dep], job.ID)
			b.inDegree[job.ID]++
		}
	}
	return nil
}

// detectCycles runs depth-first search over the dependency graph.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range b.dependents[id] {
			if !visited[dep] {
				if err := visit(dep, path); err != nil {
					return err
				}
			} else if onStack[dep] {
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), dep)
				return NewUserInputError(
					fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")), nil).
					WithCode(ErrCodeCycleDetected)
			}
		}
		onStack[id] = false
		return nil
	}

	for _, id := range b.sortedJobIDs() {
		if !visited[id] {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeLayers runs Kahn's algorithm tracking the layer each job lands on.
func (b *DAGBuilder) computeLayers() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	var current []string
	for _, id := range b.sortedJobIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}
	if len(current) == 0 {
		return NewInternalError("no root jobs found", nil).WithCode(ErrCodeCycleDetected)
	}

	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		b.layers = append(b.layers, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dep := range b.dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if processed != len(b.jobs) {
		return NewInternalError("not all jobs reached a layer", nil).WithCode(ErrCodeInternal)
	}
	return nil
}

func (b *DAGBuilder) sortedJobIDs() []string {
	ids := make([]string, 0, len(b.jobs))
	for id := range b.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToDOT renders the job graph in DOT format for Graphviz.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for layer, ids := range b.layers {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_layer_%d {\n", layer))
		sb.WriteString(fmt.Sprintf("    label=\"Layer %d\";\n", layer))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			job := b.jobs[id]
			label := fmt.Sprintf("%s\\n%s", job.Producer, formatIndices(job.Indices))
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\"];\n", id, label))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range b.sortedJobIDs() {
		for _, dep := range b.jobs[id].DependsOn {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatIndices renders a coordinate map deterministically, sorted by
// dimension name.
func formatIndices(indices map[string]int) string {
	if len(indices) == 0 {
		return ""
	}
	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, indices[name]))
	}
	return strings.Join(parts, ",")
}
