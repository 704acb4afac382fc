// File: api/schemas/viability.go
package schemas

// ViabilitySeverity grades a viability violation.
type ViabilitySeverity string

const (
	// SeverityCritical blocks approval; the plan must be refined.
	SeverityCritical ViabilitySeverity = "critical"
	// SeverityWarning should be addressed but does not block.
	SeverityWarning ViabilitySeverity = "warning"
)

// ViabilityViolation is one finding from the deterministic plan checks.
// InstructionIDs carries every instruction implicated by the finding; for a
// dependency cycle it is exactly the cycle's members.
type ViabilityViolation struct {
	RuleID         string            `json:"rule_id"`
	InstructionIDs []string          `json:"instruction_ids,omitempty"`
	Severity       ViabilitySeverity `json:"severity"`
	Message        string            `json:"message"`
	Remediation    string            `json:"remediation"`
}

// PlanMetrics describes the shape of the instruction graph. All values are
// advisory signals for guardrails and reporting, never hard failures.
type PlanMetrics struct {
	InstructionCount     int     `json:"instruction_count"`
	EdgeCount            int     `json:"edge_count"`
	RootCount            int     `json:"root_count"`
	LeafCount            int     `json:"leaf_count"`
	CriticalPathLength   int     `json:"critical_path_length"`
	MaxWidth             int     `json:"max_width"`
	ParallelizationRatio float64 `json:"parallelization_ratio"`
	EstimatedTokens      int     `json:"estimated_tokens"`
}

// ViabilityResult is the outcome of running every viability rule against a
// plan. Passed is true iff no violation is critical. Score starts at 1.0 and
// loses 0.2 per critical and 0.05 per warning, clamped to [0, 1].
type ViabilityResult struct {
	Passed     bool                 `json:"passed"`
	Violations []ViabilityViolation `json:"violations"`
	Score      float64              `json:"score"`
	Metrics    PlanMetrics          `json:"metrics"`
}

// CriticalCount returns the number of critical violations.
func (r *ViabilityResult) CriticalCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning violations.
func (r *ViabilityResult) WarningCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityWarning {
			n++
		}
	}
	return n
}
