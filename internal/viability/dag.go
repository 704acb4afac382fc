// File: internal/viability/dag.go
package viability

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

// graph is the adjacency view of a plan's instructions, keyed by id.
// Instruction order is preserved in ids so findings are reported
// deterministically.
type graph struct {
	ids     []string
	nodes   map[string]*schemas.Instruction
	forward map[string][]string // id -> ids it depends on (resolved only)
	reverse map[string][]string // id -> ids that depend on it
}

func buildGraph(instructions []schemas.Instruction) *graph {
	g := &graph{
		ids:     make([]string, 0, len(instructions)),
		nodes:   make(map[string]*schemas.Instruction, len(instructions)),
		forward: make(map[string][]string, len(instructions)),
		reverse: make(map[string][]string, len(instructions)),
	}
	for i := range instructions {
		in := &instructions[i]
		if _, seen := g.nodes[in.ID]; seen {
			continue // duplicate ids reported separately
		}
		g.ids = append(g.ids, in.ID)
		g.nodes[in.ID] = in
	}
	for _, id := range g.ids {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				continue // dangling edges reported separately
			}
			g.forward[id] = append(g.forward[id], dep)
			g.reverse[dep] = append(g.reverse[dep], id)
		}
	}
	return g
}

// checkGraph reports duplicate ids, dangling dependencies and the first
// dependency cycle found. A cycle violation carries exactly the cycle's
// member ids.
func checkGraph(instructions []schemas.Instruction, g *graph) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation

	seen := make(map[string]bool, len(instructions))
	for i := range instructions {
		in := &instructions[i]
		if seen[in.ID] {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleGraph,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityCritical,
				Message:        fmt.Sprintf("Duplicate instruction id %q", in.ID),
				Remediation:    "Give every instruction a unique id",
			})
		}
		seen[in.ID] = true

		for _, dep := range in.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleGraph,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityCritical,
					Message:        fmt.Sprintf("Instruction %q depends on unknown instruction %q", in.ID, dep),
					Remediation:    "Remove the dependency or add the missing instruction",
				})
			}
		}
	}

	if cycle := findCycle(g); len(cycle) > 0 {
		path := append(append([]string{}, cycle...), cycle[0])
		violations = append(violations, schemas.ViabilityViolation{
			RuleID:         ruleGraph,
			InstructionIDs: cycle,
			Severity:       schemas.SeverityCritical,
			Message:        "Circular dependency detected: " + strings.Join(path, " -> "),
			Remediation:    "Break the cycle so the instructions form a DAG",
		})
	}

	return violations
}

// findCycle runs a colored DFS over the dependency edges and returns the
// members of the first cycle encountered, in dependency order. Returns nil
// for an acyclic graph.
func findCycle(g *graph) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.ids))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.forward[id] {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back edge; slice the stack from the first
				// occurrence of dep to recover the exact cycle.
				for i, on := range stack {
					if on == dep {
						cycle = append(cycle, stack[i:]...)
						break
					}
				}
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// transitiveDeps returns the set of ids reachable from id over resolved
// dependency edges, excluding id itself. Safe on cyclic graphs.
func transitiveDeps(g *graph, id string) map[string]bool {
	reached := make(map[string]bool)
	queue := append([]string{}, g.forward[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if reached[next] || next == id {
			continue
		}
		reached[next] = true
		queue = append(queue, g.forward[next]...)
	}
	return reached
}

// topologicalLevels assigns each instruction the length of its longest
// dependency chain: roots sit at level 0, every other node at one past the
// maximum of its dependencies. Call only on acyclic graphs.
func topologicalLevels(g *graph) map[string]int {
	levels := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		levels[id] = 0
	}
	for changed := true; changed; {
		changed = false
		for _, id := range g.ids {
			want := 0
			for _, dep := range g.forward[id] {
				if levels[dep]+1 > want {
					want = levels[dep] + 1
				}
			}
			if want > levels[id] {
				levels[id] = want
				changed = true
			}
		}
	}
	return levels
}
