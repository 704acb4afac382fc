// File: internal/viability/metrics.go
package viability

import "github.com/xkilldash9x/planforge-cli/api/schemas"

// computeMetrics derives the graph-shape metrics for an acyclic plan. Pass
// acyclic=false to get counts only; path and width need a valid topology.
func computeMetrics(instructions []schemas.Instruction, g *graph, acyclic bool) schemas.PlanMetrics {
	m := schemas.PlanMetrics{
		InstructionCount: len(g.ids),
	}

	for _, id := range g.ids {
		m.EdgeCount += len(g.forward[id])
		if len(g.forward[id]) == 0 {
			m.RootCount++
		}
		if len(g.reverse[id]) == 0 {
			m.LeafCount++
		}
	}
	for i := range instructions {
		m.EstimatedTokens += instructions[i].EstimatedTokens
	}

	if !acyclic || len(g.ids) == 0 {
		return m
	}

	levels := topologicalLevels(g)
	widths := make(map[int]int)
	maxLevel := 0
	for _, level := range levels {
		widths[level]++
		if level > maxLevel {
			maxLevel = level
		}
	}

	m.CriticalPathLength = maxLevel + 1
	for _, width := range widths {
		if width > m.MaxWidth {
			m.MaxWidth = width
		}
	}
	if m.CriticalPathLength > 0 {
		m.ParallelizationRatio = float64(m.MaxWidth) / float64(m.CriticalPathLength)
	}
	return m
}
