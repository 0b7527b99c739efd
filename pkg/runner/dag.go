// Package runner implements the workflow runner: DAG
// construction from step dependsOn edges, Kahn's-algorithm topological
// grouping, and the workflow-level state machine driving one run.
package runner

import (
	"sort"

	flowerrors "github.com/flowengine/flowengine/pkg/errors"
	"github.com/flowengine/flowengine/pkg/executor"
)

// BuildGroups computes the parallel-group execution order for a set of
// steps using Kahn's topological layering: group 0 holds every step
// with no dependencies, group k+1 holds every step whose dependencies
// are all satisfied by groups 0..k. Step order within a group is
// stable (input order), 
func BuildGroups(steps []executor.Step) ([][]executor.Step, error) {
	byID := make(map[string]executor.Step, len(steps))
	indexOf := make(map[string]int, len(steps))
	for i, s := range steps {
		byID[s.ID] = s
		indexOf[s.ID] = i
	}

	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &flowerrors.ConfigError{Key: "steps." + s.ID + ".dependsOn", Reason: "references unknown step " + dep}
			}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	remaining := len(steps)
	var groups [][]executor.Step
	frontier := make([]string, 0)
	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			frontier = append(frontier, s.ID)
		}
	}

	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return indexOf[frontier[i]] < indexOf[frontier[j]] })

		group := make([]executor.Step, 0, len(frontier))
		for _, id := range frontier {
			group = append(group, byID[id])
		}
		groups = append(groups, group)
		remaining -= len(frontier)

		var next []string
		for _, id := range frontier {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	if remaining > 0 {
		return nil, &flowerrors.ConfigError{Key: "steps", Reason: "dependsOn graph contains a cycle"}
	}
	return groups, nil
}

// ValidateUniqueIDs enforces "step ids unique across the
// workflow" invariant.
func ValidateUniqueIDs(steps []executor.Step) error {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return &flowerrors.ValidationError{Field: "steps", Message: "step id must not be empty"}
		}
		if seen[s.ID] {
			return &flowerrors.ValidationError{Field: "steps", Message: "duplicate step id: " + s.ID}
		}
		seen[s.ID] = true
	}
	return nil
}
