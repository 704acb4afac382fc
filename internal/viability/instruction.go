// File: internal/viability/instruction.go
package viability

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

// maxEditFiles is the file count above which an EDIT_CODE instruction is
// flagged as too broad for a single delegated task.
const maxEditFiles = 3

// minSearchQueryLen is the shortest code-search query considered selective
// enough to be useful.
const minSearchQueryLen = 3

// estimateRequiredOps lists the opcodes that must carry a token estimate so
// budget guardrails have something to add up.
var estimateRequiredOps = map[schemas.OpCode]bool{
	schemas.OpEditCode:       true,
	schemas.OpReadFiles:      true,
	schemas.OpSearchCode:     true,
	schemas.OpSearchSemantic: true,
	schemas.OpGenerateTest:   true,
}

// legacyAgentParams are param keys from a retired task schema. Their presence
// means the generator regressed to the old format.
var legacyAgentParams = []string{"action", "content_description"}

// checkTestCoverage flags plans that edit code without a single RUN_TEST
// verifying the result.
func checkTestCoverage(instructions []schemas.Instruction) []schemas.ViabilityViolation {
	var editIDs []string
	hasRunTest := false
	for i := range instructions {
		switch instructions[i].Op {
		case schemas.OpEditCode:
			editIDs = append(editIDs, instructions[i].ID)
		case schemas.OpRunTest:
			hasRunTest = true
		}
	}
	if len(editIDs) == 0 || hasRunTest {
		return nil
	}
	return []schemas.ViabilityViolation{{
		RuleID:         ruleTestCoverage,
		InstructionIDs: editIDs,
		Severity:       schemas.SeverityCritical,
		Message:        "Plan edits code but contains no RUN_TEST instruction to verify the changes",
		Remediation:    "Add a RUN_TEST instruction that exercises the edited code",
	}}
}

// checkComplexity flags instructions whose scope makes failure likely: edits
// spread over too many files and search queries too short to be selective.
func checkComplexity(instructions []schemas.Instruction) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation
	for i := range instructions {
		in := &instructions[i]
		switch in.Op {
		case schemas.OpEditCode:
			task, err := in.AgentTask()
			if err != nil {
				continue // params problems are reported by the schema rules
			}
			if len(task.Files) > maxEditFiles {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleComplexity,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityWarning,
					Message:        fmt.Sprintf("Instruction %q edits %d files; more than %d in one step is hard to review and revert", in.ID, len(task.Files), maxEditFiles),
					Remediation:    "Split the edit into smaller instructions, one concern each",
				})
			}
		case schemas.OpSearchCode:
			params, err := in.ParamMap()
			if err != nil {
				continue
			}
			if query, ok := params["query"].(string); ok && len(strings.TrimSpace(query)) > 0 && len(strings.TrimSpace(query)) < minSearchQueryLen {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleComplexity,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityWarning,
					Message:        fmt.Sprintf("Instruction %q search query %q is too short to be selective", in.ID, query),
					Remediation:    "Use a query of at least three characters",
				})
			}
		}
	}
	return violations
}

// checkRequiredParams enforces the per-opcode parameter contract. Missing
// required parameters block approval: an instruction that cannot say what it
// operates on cannot be executed.
func checkRequiredParams(instructions []schemas.Instruction) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation

	missing := func(in *schemas.Instruction, what string) {
		violations = append(violations, schemas.ViabilityViolation{
			RuleID:         ruleParams,
			InstructionIDs: []string{in.ID},
			Severity:       schemas.SeverityCritical,
			Message:        fmt.Sprintf("Instruction %q (%s) is missing required parameter: %s", in.ID, in.Op, what),
			Remediation:    fmt.Sprintf("Provide %s in the instruction params", what),
		})
	}

	for i := range instructions {
		in := &instructions[i]
		if !in.Op.Valid() {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleParams,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityCritical,
				Message:        fmt.Sprintf("Instruction %q uses unknown opcode %q", in.ID, in.Op),
				Remediation:    "Use one of the supported opcodes",
			})
			continue
		}

		params, err := in.ParamMap()
		if err != nil {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleParams,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityCritical,
				Message:        fmt.Sprintf("Instruction %q params are not a JSON object", in.ID),
				Remediation:    "Encode instruction params as a JSON object",
			})
			continue
		}

		switch in.Op {
		case schemas.OpSearchSemantic, schemas.OpSearchCode:
			if !hasNonEmptyString(params, "query") {
				missing(in, "query")
			}
		case schemas.OpReadFiles:
			if !hasNonEmptyList(params, "paths") && !paramsReferenceResults(in) {
				missing(in, "paths (or a ${id.field} reference to a prior result)")
			}
		case schemas.OpEditCode:
			if !hasNonEmptyString(params, "goal") && !hasNonEmptyList(params, "files") {
				missing(in, "goal or files")
			}
		case schemas.OpRunTest, schemas.OpGenerateTest:
			if !hasNonEmptyString(params, "target") && !hasNonEmptyString(params, "behavior") && !paramsReferenceResults(in) {
				missing(in, "target, behavior, or a ${id.field} reference")
			}
		case schemas.OpRunCommand:
			if !hasNonEmptyString(params, "command") {
				missing(in, "command")
			}
		case schemas.OpVerifyExists:
			if !hasNonEmptyString(params, "path") {
				missing(in, "path")
			}
		}
	}
	return violations
}

// checkParamTypes flags parameters present with the wrong JSON type. These
// are schema violations rather than omissions, so they warn instead of block:
// the generator supplied the information, just in a shape executors must coerce.
func checkParamTypes(instructions []schemas.Instruction) []schemas.ViabilityViolation {
	wantString := map[string]bool{"query": true, "command": true, "path": true, "goal": true, "target": true, "behavior": true}
	wantList := map[string]bool{"paths": true, "files": true, "context_files": true, "constraints": true}

	var violations []schemas.ViabilityViolation
	for i := range instructions {
		in := &instructions[i]
		params, err := in.ParamMap()
		if err != nil {
			continue
		}
		for key, value := range params {
			bad := false
			var want string
			switch {
			case wantString[key]:
				_, ok := value.(string)
				bad = !ok
				want = "string"
			case wantList[key]:
				_, ok := value.([]any)
				bad = !ok
				want = "array"
			}
			if bad {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleSchema,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityWarning,
					Message:        fmt.Sprintf("schema_violation: instruction %q parameter %q should be a %s", in.ID, key, want),
					Remediation:    fmt.Sprintf("Encode %q as a JSON %s", key, want),
				})
			}
		}
	}
	return violations
}

// checkTokenEstimates flags context-heavy and generative instructions that
// omit estimated_tokens, which starves the token budget guardrail.
func checkTokenEstimates(instructions []schemas.Instruction) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation
	for i := range instructions {
		in := &instructions[i]
		if estimateRequiredOps[in.Op] && in.EstimatedTokens <= 0 {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleEstimates,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityWarning,
				Message:        fmt.Sprintf("Instruction %q (%s) has no estimated_tokens", in.ID, in.Op),
				Remediation:    "Add an estimated_tokens value so budget tracking stays accurate",
			})
		}
	}
	return violations
}

// checkAgentTasks validates the delegated-task schema on EDIT_CODE and
// GENERATE_TEST instructions. A missing goal blocks; missing advisory fields
// warn; legacy param keys from the retired schema block because executors no
// longer understand them.
func checkAgentTasks(instructions []schemas.Instruction) []schemas.ViabilityViolation {
	var violations []schemas.ViabilityViolation
	for i := range instructions {
		in := &instructions[i]
		if in.Op != schemas.OpEditCode && in.Op != schemas.OpGenerateTest {
			continue
		}

		params, err := in.ParamMap()
		if err != nil {
			continue // already reported by the required-params rule
		}

		for _, legacy := range legacyAgentParams {
			if _, present := params[legacy]; present {
				violations = append(violations, schemas.ViabilityViolation{
					RuleID:         ruleAgentTask,
					InstructionIDs: []string{in.ID},
					Severity:       schemas.SeverityCritical,
					Message:        fmt.Sprintf("Instruction %q uses retired parameter %q", in.ID, legacy),
					Remediation:    "Regenerate the instruction with the goal/role/context_files task schema",
				})
			}
		}

		if !hasNonEmptyString(params, "goal") && !hasNonEmptyString(params, "task") {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleAgentTask,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityCritical,
				Message:        fmt.Sprintf("Instruction %q (%s) has no goal; a delegated task must state what to achieve", in.ID, in.Op),
				Remediation:    "Add a goal describing the intended outcome",
			})
		}

		var missingAdvisory []string
		if !hasNonEmptyString(params, "role") {
			missingAdvisory = append(missingAdvisory, "role")
		}
		if !hasNonEmptyList(params, "context_files") {
			missingAdvisory = append(missingAdvisory, "context_files")
		}
		if !hasNonEmptyList(params, "constraints") {
			missingAdvisory = append(missingAdvisory, "constraints")
		}
		if len(missingAdvisory) > 0 {
			violations = append(violations, schemas.ViabilityViolation{
				RuleID:         ruleAgentTask,
				InstructionIDs: []string{in.ID},
				Severity:       schemas.SeverityWarning,
				Message:        fmt.Sprintf("Instruction %q task omits advisory fields: %s", in.ID, strings.Join(missingAdvisory, ", ")),
				Remediation:    "Populate role, context_files and constraints to focus the delegated agent",
			})
		}
	}
	return violations
}

func hasNonEmptyString(params map[string]any, key string) bool {
	s, ok := params[key].(string)
	return ok && strings.TrimSpace(s) != ""
}

func hasNonEmptyList(params map[string]any, key string) bool {
	list, ok := params[key].([]any)
	return ok && len(list) > 0
}
