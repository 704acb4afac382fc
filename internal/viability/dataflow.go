// File: internal/viability/dataflow.go
package viability

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

// varRefPattern matches ${instruction-id.field} references inside parameter
// values. The id charset mirrors what the generator is allowed to emit.
var varRefPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\.([a-zA-Z0-9_]+)\}`)

// stepResultFields is the closed set of fields an executed instruction
// exposes to later instructions.
var stepResultFields = map[string]bool{
	"output":    true,
	"stdout":    true,
	"stderr":    true,
	"exit_code": true,
	"artifacts": true,
	"metadata":  true,
}

type varRef struct {
	id    string
	field string
}

// extractVarRefs scans the raw params for result references.
func extractVarRefs(in *schemas.Instruction) []varRef {
	if len(in.Params) == 0 {
		return nil
	}
	matches := varRefPattern.FindAllStringSubmatch(string(in.Params), -1)
	refs := make([]varRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, varRef{id: m[1], field: m[2]})
	}
	return refs
}

// paramsReferenceResults reports whether the instruction's params contain at
// least one ${id.field} reference.
func paramsReferenceResults(in *schemas.Instruction) bool {
	return len(in.Params) > 0 && varRefPattern.MatchString(string(in.Params))
}

// checkDataflow verifies that every ${id.field} reference names an
// instruction the referencing instruction actually depends on, and that the
// field is one the executor will populate. A reference without a dependency
// edge can run before its producer; that blocks. References to ids that do
// not exist at all are left to the graph rule.
func checkDataflow(instructions []schemas.Instruction, g *graph) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation
	for i := range instructions {
		in := &instructions[i]
		deps := make(map[string]bool, len(in.DependsOn))
		for _, dep := range in.DependsOn {
			deps[dep] = true
		}

		for _, ref := range extractVarRefs(in) {
			if _, exists := g.nodes[ref.id]; !exists {
				continue
			}
			if ref.id == in.ID {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleDataflow,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityCritical,
					Message:        fmt.Sprintf("Instruction %q references its own result ${%s.%s}", in.ID, ref.id, ref.field),
					Remediation:    "Reference a prior instruction's result instead",
				})
				continue
			}
			if !deps[ref.id] {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleDataflow,
					InstructionIDs: []string{in.ID, ref.id},
					Severity:       schemas.SeverityCritical,
					Message:        fmt.Sprintf("Instruction %q references ${%s.%s} but does not depend on %q", in.ID, ref.id, ref.field, ref.id),
					Remediation:    fmt.Sprintf("Add %q to the depends_on list of %q", ref.id, in.ID),
				})
			}
			if !stepResultFields[ref.field] {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleResultFields,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityWarning,
					Message:        fmt.Sprintf("Instruction %q references unknown result field %q; available fields: %s", in.ID, ref.field, strings.Join(sortedResultFields(), ", ")),
					Remediation:    "Reference one of the fields instructions actually produce",
				})
			}
		}
	}
	return violations
}

// checkDeclaredDataflow verifies the declared variable contract: every name
// an instruction consumes must be produced by something in its transitive
// dependency set. A consumer without an upstream producer would run on data
// that never exists; that blocks.
func checkDeclaredDataflow(instructions []schemas.Instruction, g *graph) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation
	for i := range instructions {
		in := &instructions[i]
		if len(in.Consumes) == 0 {
			continue
		}
		deps := transitiveDeps(g, in.ID)
		for _, name := range in.Consumes {
			if !producedUpstream(g, deps, name) {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleDataflow,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityCritical,
					Message:        fmt.Sprintf("Instruction %q consumes %q but nothing in its dependency chain produces it", in.ID, name),
					Remediation:    fmt.Sprintf("Depend on an instruction that lists %q in produces, or drop the consumption", name),
				})
			}
		}
	}
	return violations
}

// producedUpstream reports whether any instruction in the dependency set
// declares the named variable in produces. Iterates in declaration order so
// the check stays deterministic.
func producedUpstream(g *graph, deps map[string]bool, name string) bool {
	for _, id := range g.ids {
		if !deps[id] {
			continue
		}
		for _, produced := range g.nodes[id].Produces {
			if produced == name {
				return true
			}
		}
	}
	return false
}

// checkTestOrdering flags code edits whose verifying test appears only after
// the edit in declaration order. Writing the test first keeps the edit
// honest; the signal is advisory.
func checkTestOrdering(instructions []schemas.Instruction) []schemas.ViabilityViolation {
	isTestOp := func(op schemas.OpCode) bool {
		return op == schemas.OpGenerateTest || op.IsTestVerification()
	}

	var violations []schemas.ViabilityViolation
	for i := range instructions {
		if instructions[i].Op != schemas.OpEditCode {
			continue
		}
		before, after := false, false
		for j := range instructions {
			if !isTestOp(instructions[j].Op) {
				continue
			}
			if j < i {
				before = true
			}
			if j > i {
				after = true
			}
		}
		if after && !before {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleTDD,
				InstructionIDs: []string{instructions[i].ID},
				Severity:       schemas.SeverityWarning,
				Message:        fmt.Sprintf("Instruction %q edits code before any test is written or run", instructions[i].ID),
				Remediation:    "Move or add a test instruction ahead of the edit",
			})
		}
	}
	return violations
}

// checkContextGathering flags execution instructions that run blind: no
// dependencies at all, or a dependency chain containing no context-gathering
// instruction.
func checkContextGathering(instructions []schemas.Instruction, g *graph) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation
	for i := range instructions {
		in := &instructions[i]
		if !in.Op.IsExecution() {
			continue
		}

		if len(in.DependsOn) == 0 {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleContext,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityWarning,
				Message:        fmt.Sprintf("Execution instruction %q has no dependencies; it runs with no gathered context", in.ID),
				Remediation:    "Depend on a search or read instruction that establishes context",
			})
			continue
		}

		grounded := false
		for dep := range transitiveDeps(g, in.ID) {
			if node, ok := g.nodes[dep]; ok && node.Op.IsContext() {
				grounded = true
				break
			}
		}
		if !grounded {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleContext,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityWarning,
				Message:        fmt.Sprintf("Execution instruction %q has no context-gathering instruction anywhere in its dependency chain", in.ID),
				Remediation:    "Insert a SEARCH_* or READ_FILES step upstream of the execution",
			})
		}
	}

	// The mirror image: a context instruction no later instruction depends on
	// gathered context nobody reads.
	for i := range instructions {
		in := &instructions[i]
		if !in.Op.IsContext() {
			continue
		}
		if len(g.reverse[in.ID]) == 0 {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleContext,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityWarning,
				Message:        fmt.Sprintf("Context instruction %q is not used by any later instruction", in.ID),
				Remediation:    "Make a later instruction depend on it, or drop it",
			})
		}
	}
	return violations
}

func sortedResultFields() []string {
	return []string{"output", "stdout", "stderr", "exit_code", "artifacts", "metadata"}
}
