// File: internal/viability/validator.go

// Package viability runs the deterministic structural checks that gate every
// generated plan before any model reviews it. The checks are pure functions
// of the plan plus a file-existence oracle: same plan, same verdict.
package viability

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

// Rule identifiers, stable across releases so downstream tooling can key on
// them.
const (
	ruleTestCoverage = "VIABILITY-001" // code edits without a verifying test run
	ruleGraph        = "VIABILITY-002" // duplicate ids, dangling deps, cycles
	ruleGrounding    = "VIABILITY-003" // plan grounded on files that are gone
	ruleComplexity   = "VIABILITY-004" // oversized edits, unselective searches
	ruleParams       = "VIABILITY-005" // missing required parameters
	ruleDataflow     = "VIABILITY-006" // consumed data without an upstream producer
	ruleTDD          = "VIABILITY-007" // edit precedes every test instruction
	ruleResultFields = "VIABILITY-008" // reference to a field nothing produces
	ruleSchema       = "VIABILITY-009" // parameter present with the wrong type
	ruleContext      = "VIABILITY-011" // execution with no context upstream, or unused context
	ruleEstimates    = "VIABILITY-012" // missing estimated_tokens
	ruleAgentTask    = "VIABILITY-013" // delegated-task schema problems
	ruleEmpty        = "VIABILITY-014" // plan with no instructions
)

// Score penalties per violation severity. Passed tracks criticals only; the
// score is a refinement signal, not the gate.
const (
	criticalPenalty = 0.2
	warningPenalty  = 0.05
)

// Validator runs every viability rule against a plan.
type Validator struct {
	exists FileExistsFunc
	logger *zap.Logger
}

// New builds a validator. The oracle may be nil, in which case grounding
// falls back to the snapshot's own claims.
func New(exists FileExistsFunc, logger *zap.Logger) *Validator {
	return &Validator{
		exists: exists,
		logger: logger.Named("viability"),
	}
}

// Validate runs the full rule set and computes the score and graph metrics.
// The only error path is the file oracle failing; every plan defect comes
// back as a violation, not an error.
func (v *Validator) Validate(ctx context.Context, plan *schemas.Plan) (*schemas.ViabilityResult, error) {
	instructions := plan.Instructions()

	// An empty plan fails on its own; nothing else is worth checking.
	if len(instructions) == 0 {
		result := &schemas.ViabilityResult{
			Violations: []schemas.ViabilityViolation{{
				RuleID:      ruleEmpty,
				Severity:    schemas.SeverityCritical,
				Message:     "Plan contains no instructions",
				Remediation: "Generate at least one instruction",
			}},
		}
		finalize(result)
		return result, nil
	}

	g := buildGraph(instructions)

	var violations []schemas.ViabilityViolation
	graphViolations := checkGraph(instructions, g)
	violations = append(violations, graphViolations...)

	violations = append(violations, checkTestCoverage(instructions)...)
	violations = append(violations, checkComplexity(instructions)...)
	violations = append(violations, checkRequiredParams(instructions)...)
	violations = append(violations, checkParamTypes(instructions)...)
	violations = append(violations, checkTokenEstimates(instructions)...)
	violations = append(violations, checkAgentTasks(instructions)...)

	// Dataflow and ordering rules assume a well-formed graph. On a broken one
	// their findings would be noise, so they are skipped; the graph violations
	// already block the plan.
	structuralOK := len(graphViolations) == 0
	if structuralOK {
		violations = append(violations, checkDataflow(instructions, g)...)
		violations = append(violations, checkDeclaredDataflow(instructions, g)...)
		violations = append(violations, checkTestOrdering(instructions)...)
		violations = append(violations, checkContextGathering(instructions, g)...)
	} else {
		v.logger.Debug("Skipping dataflow and ordering rules on structurally broken graph",
			zap.Int("graph_violations", len(graphViolations)))
	}

	groundingViolations, err := checkGrounding(ctx, plan, v.exists)
	if err != nil {
		return nil, err
	}
	violations = append(violations, groundingViolations...)

	result := &schemas.ViabilityResult{
		Violations: violations,
		Metrics:    computeMetrics(instructions, g, structuralOK),
	}
	finalize(result)

	v.logger.Info("Plan viability evaluated",
		zap.Bool("passed", result.Passed),
		zap.Float64("score", result.Score),
		zap.Int("criticals", result.CriticalCount()),
		zap.Int("warnings", result.WarningCount()),
		zap.Int("instructions", result.Metrics.InstructionCount),
	)
	return result, nil
}

// finalize derives Passed and Score from the collected violations.
func finalize(result *schemas.ViabilityResult) {
	score := 1.0
	score -= criticalPenalty * float64(result.CriticalCount())
	score -= warningPenalty * float64(result.WarningCount())
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	result.Score = score
	result.Passed = result.CriticalCount() == 0
}
