// File: api/schemas/plan.go
package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlanTier selects how much effort the generator spends on a plan.
type PlanTier string

const (
	TierQuick    PlanTier = "quick"    // Minimal context gathering, short plans.
	TierStandard PlanTier = "standard" // Default depth.
	TierDeep     PlanTier = "deep"     // Exhaustive context gathering and verification steps.
)

// OpCode identifies the kind of work an instruction performs. The set is
// closed: the viability validator rejects any plan using an unknown opcode.
type OpCode string

const (
	OpSearchSemantic  OpCode = "SEARCH_SEMANTIC"
	OpSearchCode      OpCode = "SEARCH_CODE"
	OpReadFiles       OpCode = "READ_FILES"
	OpGetDependencies OpCode = "GET_DEPENDENCIES"
	OpDefineTask      OpCode = "DEFINE_TASK"
	OpVerifyTask      OpCode = "VERIFY_TASK"
	OpEditCode        OpCode = "EDIT_CODE"
	OpRunCommand      OpCode = "RUN_COMMAND"
	OpGenerateTest    OpCode = "GENERATE_TEST"
	OpRunTest         OpCode = "RUN_TEST"
	OpVerifyExists    OpCode = "VERIFY_EXISTS"
)

// AllOpCodes lists every valid opcode in declaration order.
var AllOpCodes = []OpCode{
	OpSearchSemantic, OpSearchCode, OpReadFiles, OpGetDependencies,
	OpDefineTask, OpVerifyTask, OpEditCode, OpRunCommand,
	OpGenerateTest, OpRunTest, OpVerifyExists,
}

// Valid reports whether the opcode is a member of the closed set.
func (op OpCode) Valid() bool {
	for _, known := range AllOpCodes {
		if op == known {
			return true
		}
	}
	return false
}

// IsContext reports whether the opcode gathers context rather than mutating
// anything. Context ops are expected to precede execution ops in the graph.
func (op OpCode) IsContext() bool {
	switch op {
	case OpSearchSemantic, OpSearchCode, OpReadFiles, OpGetDependencies:
		return true
	}
	return false
}

// IsExecution reports whether the opcode mutates the workspace or runs commands.
func (op OpCode) IsExecution() bool {
	switch op {
	case OpEditCode, OpRunCommand, OpGenerateTest, OpRunTest:
		return true
	}
	return false
}

// IsTestVerification reports whether the opcode mechanically verifies work.
func (op OpCode) IsTestVerification() bool {
	return op == OpRunTest || op == OpVerifyTask
}

// FileAction declares what an instruction intends to do with a referenced path.
type FileAction string

const (
	FileCreate FileAction = "create"
	FileModify FileAction = "modify"
	FileRead   FileAction = "read"
	FileDelete FileAction = "delete"
)

// FileReference names a file an instruction touches and how.
type FileReference struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
}

// AgentTaskParams is the params schema required for EDIT_CODE and
// GENERATE_TEST instructions: a delegated task with an explicit goal.
type AgentTaskParams struct {
	Goal         string   `json:"goal"`
	Role         string   `json:"role,omitempty"`
	ContextFiles []string `json:"context_files,omitempty"`
	Files        []string `json:"files,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
}

// Instruction is the atomic unit of planned work and the node of the
// dependency graph. IDs are unique across the whole plan; DependsOn edges
// must resolve to existing IDs and must not form a cycle.
type Instruction struct {
	ID              string          `json:"id"`
	Op              OpCode          `json:"op"`
	Description     string          `json:"description,omitempty"`
	DependsOn       []string        `json:"depends_on,omitempty"`
	Produces        []string        `json:"produces,omitempty"`
	Consumes        []string        `json:"consumes,omitempty"`
	FileRefs        []FileReference `json:"file_refs,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	EstimatedTokens int             `json:"estimated_tokens,omitempty"`
	Testable        bool            `json:"testable,omitempty"`
}

// AgentTask decodes the instruction params as an AgentTaskParams value.
func (in *Instruction) AgentTask() (*AgentTaskParams, error) {
	if len(in.Params) == 0 {
		return nil, fmt.Errorf("instruction %q has no params", in.ID)
	}
	var task AgentTaskParams
	if err := json.Unmarshal(in.Params, &task); err != nil {
		return nil, fmt.Errorf("instruction %q params do not match the agent task schema: %w", in.ID, err)
	}
	return &task, nil
}

// ParamMap decodes the instruction params into a generic map for key and
// type inspection. A missing params block decodes to an empty map.
func (in *Instruction) ParamMap() (map[string]any, error) {
	if len(in.Params) == 0 || string(in.Params) == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(in.Params, &m); err != nil {
		return nil, fmt.Errorf("instruction %q params are not a JSON object: %w", in.ID, err)
	}
	return m, nil
}

// VerifiedFile records the existence check for one path in the grounding
// snapshot taken when the plan was generated.
type VerifiedFile struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// GroundingSnapshot captures which files the generator believed existed at
// generation time. The validator re-checks the claims against an injected
// file oracle.
type GroundingSnapshot struct {
	VerifiedFiles []VerifiedFile `json:"verified_files,omitempty"`
	CapturedAt    time.Time      `json:"captured_at,omitzero"`
}

// Phase groups instructions for presentation. Validation and scheduling
// operate on the flattened instruction graph, never on phase boundaries.
type Phase struct {
	Name         string        `json:"name"`
	Instructions []Instruction `json:"instructions"`
}

// Plan is the complete output of one generation attempt. Plans are immutable
// once produced; each refinement iteration yields a new Plan value.
type Plan struct {
	Title     string            `json:"title"`
	Tier      PlanTier          `json:"tier,omitempty"`
	Phases    []Phase           `json:"phases"`
	Risks     []string          `json:"risks,omitempty"`
	Grounding GroundingSnapshot `json:"grounding,omitzero"`
}

// Instructions returns the plan's instructions flattened across phases, in
// declaration order.
func (p *Plan) Instructions() []Instruction {
	var out []Instruction
	for _, phase := range p.Phases {
		out = append(out, phase.Instructions...)
	}
	return out
}

// InstructionByID returns the instruction with the given id, or nil.
func (p *Plan) InstructionByID(id string) *Instruction {
	for pi := range p.Phases {
		for ii := range p.Phases[pi].Instructions {
			if p.Phases[pi].Instructions[ii].ID == id {
				return &p.Phases[pi].Instructions[ii]
			}
		}
	}
	return nil
}

// FileReferences returns every file reference across all instructions,
// flattened in instruction order.
func (p *Plan) FileReferences() []FileReference {
	var refs []FileReference
	for _, in := range p.Instructions() {
		refs = append(refs, in.FileRefs...)
	}
	return refs
}
