// File: internal/reviewer/reviewer.go

// Package reviewer implements the plan-scoring collaborator. It runs only
// after the deterministic viability checks pass, so it judges quality and
// intent rather than structure.
package reviewer

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

const systemPrompt = `You are a principal engineer reviewing an execution plan before it runs.

Judge whether the plan would actually accomplish the task: coverage of the
requirements, ordering, missing verification, risky steps. Do not re-check
structural properties like dependency cycles; those are verified elsewhere.

Output a single JSON object and nothing else:
{
  "score": number between 0.0 and 1.0,
  "feedback": string (actionable, addressed to the plan author),
  "gaps": [{"description": string, "severity": "critical"|"warning"}],
  "unclear_areas": [{"area": string, "question": string}],
  "mandatory_flags": [zero or more of "security_sensitive", "data_deletion", "breaking_api", "ambiguous_goal", "missing_context", "low_confidence"]
}

Raise a mandatory flag whenever the plan touches credentials or secrets,
deletes data, changes a public API, or the task is too ambiguous to plan
without asking the requester. Flags force human approval regardless of score.`

// Reviewer scores plans through an injected LLM client.
type Reviewer struct {
	client           schemas.LLMClient
	approveThreshold float64
	logger           *zap.Logger
}

// New builds a reviewer. The threshold feeds the review's Passed bit.
func New(client schemas.LLMClient, approveThreshold float64, logger *zap.Logger) *Reviewer {
	return &Reviewer{
		client:           client,
		approveThreshold: approveThreshold,
		logger:           logger.Named("reviewer"),
	}
}

// ReviewPlan scores one plan against its task. Like generation, model and
// parse failures are transient; the orchestrator decides how many to absorb.
func (r *Reviewer) ReviewPlan(ctx context.Context, task string, plan *schemas.Plan) (*schemas.ReviewResponse, error) {
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan for review: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\nPlan to review:\n", task)
	b.Write(planJSON)
	b.WriteString("\n\nReview the plan and answer with the JSON object.")

	result, err := r.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.ModelTierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schemas.Transient(fmt.Errorf("plan review call failed: %w", err))
	}

	review, err := llmutil.ParseJSONResponse[schemas.ReviewResult](result.Text)
	if err != nil {
		r.logger.Warn("Reviewer returned an unparseable result", zap.Error(err))
		return nil, schemas.Transient(fmt.Errorf("plan review produced invalid JSON: %w", err))
	}

	review.Score = clampScore(review.Score)
	review.Passed = review.CalculatePassed(r.approveThreshold)

	r.logger.Info("Plan reviewed",
		zap.Float64("score", review.Score),
		zap.Bool("passed", review.Passed),
		zap.Int("gaps", len(review.Gaps)),
		zap.Int("mandatory_flags", len(review.MandatoryFlags)),
		zap.Int64("tokens", result.Usage.TotalTokens),
	)

	return &schemas.ReviewResponse{Review: *review, Usage: result.Usage}, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
