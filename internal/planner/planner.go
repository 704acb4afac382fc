// File: internal/planner/planner.go

// Package planner implements the plan-generating collaborator on top of an
// LLM client. It owns the prompt contract: the opcode set, the parameter
// schemas and the graph rules the model must follow.
package planner

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemPrompt = `You are a senior software engineer producing executable work plans.

Output a single JSON object with this shape and nothing else:
{
  "title": string,
  "phases": [{"name": string, "instructions": [Instruction]}],
  "risks": [string]
}

An Instruction is:
{
  "id": string (unique, kebab-case),
  "op": one of SEARCH_SEMANTIC | SEARCH_CODE | READ_FILES | GET_DEPENDENCIES | DEFINE_TASK | VERIFY_TASK | EDIT_CODE | RUN_COMMAND | GENERATE_TEST | RUN_TEST | VERIFY_EXISTS,
  "description": string,
  "depends_on": [instruction ids],
  "file_refs": [{"path": string, "action": "create"|"modify"|"read"|"delete"}],
  "params": object,
  "estimated_tokens": integer
}

Hard rules:
- depends_on must reference existing ids and must not form a cycle.
- SEARCH_SEMANTIC and SEARCH_CODE require params.query.
- READ_FILES requires params.paths (or a ${id.field} reference to a prior result).
- EDIT_CODE and GENERATE_TEST require params.goal, plus role, context_files and constraints.
- RUN_COMMAND requires params.command. VERIFY_EXISTS requires params.path.
- Any ${id.field} reference requires id in that instruction's depends_on; valid fields are output, stdout, stderr, exit_code, artifacts, metadata.
- Every plan that contains EDIT_CODE must contain a RUN_TEST verifying it.
- Gather context (SEARCH_*, READ_FILES) before executing anything.
- Set estimated_tokens on search, read and generation instructions.`

// Planner generates plans through an injected LLM client.
type Planner struct {
	client schemas.LLMClient
	logger *zap.Logger
}

// New builds a planner.
func New(client schemas.LLMClient, logger *zap.Logger) *Planner {
	return &Planner{client: client, logger: logger.Named("planner")}
}

// GeneratePlan produces one plan attempt. Model failures and unparseable
// responses come back marked transient so the orchestrator can retry them;
// only context cancellation is fatal here.
func (p *Planner) GeneratePlan(ctx context.Context, req schemas.GenerateRequest) (*schemas.GenerateResponse, error) {
	userPrompt, err := p.buildUserPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build generation prompt: %w", err)
	}

	result, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         modelTierFor(req.Tier),
		Options: schemas.GenerationOptions{
			Temperature:     0.4,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schemas.Transient(fmt.Errorf("plan generation call failed: %w", err))
	}

	plan, err := llmutil.ParseJSONResponse[schemas.Plan](result.Text)
	if err != nil {
		p.logger.Warn("Generator returned an unparseable plan", zap.Error(err))
		return nil, schemas.Transient(fmt.Errorf("plan generation produced invalid JSON: %w", err))
	}

	plan.Tier = req.Tier
	plan.Grounding = req.Grounding

	p.logger.Info("Plan generated",
		zap.String("title", plan.Title),
		zap.Int("instructions", len(plan.Instructions())),
		zap.Int64("tokens", result.Usage.TotalTokens),
	)

	return &schemas.GenerateResponse{Plan: *plan, Usage: result.Usage}, nil
}

// buildUserPrompt assembles the task, the grounding snapshot and, when
// refining, the prior plan with the accumulated feedback.
func (p *Planner) buildUserPrompt(req schemas.GenerateRequest) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Task:\n%s\n", req.Task)
	fmt.Fprintf(&b, "\nPlanning tier: %s\n", tierOrDefault(req.Tier))

	if len(req.Grounding.VerifiedFiles) > 0 {
		b.WriteString("\nVerified workspace files (path: exists):\n")
		for _, f := range req.Grounding.VerifiedFiles {
			fmt.Fprintf(&b, "- %s: %t\n", f.Path, f.Exists)
		}
	}

	if req.PriorPlan != nil {
		prior, err := json.MarshalIndent(req.PriorPlan, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode prior plan: %w", err)
		}
		b.WriteString("\nYou are refining a previous plan. Previous plan:\n")
		b.Write(prior)
		b.WriteString("\n")
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\nReviewer feedback to address:\n%s\n", req.Feedback)
	}

	b.WriteString("\nProduce the improved plan as a single JSON object.")
	return b.String(), nil
}

// modelTierFor maps plan effort to model capability: quick plans take the
// fast model, everything deeper takes the powerful one.
func modelTierFor(tier schemas.PlanTier) schemas.ModelTier {
	if tier == schemas.TierQuick {
		return schemas.ModelTierFast
	}
	return schemas.ModelTierPowerful
}

func tierOrDefault(tier schemas.PlanTier) schemas.PlanTier {
	if tier == "" {
		return schemas.TierStandard
	}
	return tier
}
