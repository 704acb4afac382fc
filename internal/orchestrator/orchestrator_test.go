// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/config"
	"github.com/xkilldash9x/planforge-cli/internal/guardrail"
	"github.com/xkilldash9x/planforge-cli/internal/viability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- In-memory store --

type memStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string][]byte)}
}

func (s *memStore) Load(_ context.Context, id string) (*schemas.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	var session schemas.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *memStore) Save(_ context.Context, session *schemas.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.sessions[session.ID] = data
	return nil
}

func (s *memStore) List(_ context.Context) ([]schemas.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schemas.SessionSummary
	for id, data := range s.sessions {
		var session schemas.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, err
		}
		out = append(out, schemas.SessionSummary{ID: id, State: session.State})
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

// -- Scripted collaborators --

type genStep struct {
	plan schemas.Plan
	err  error
}

type scriptedGenerator struct {
	mu       sync.Mutex
	steps    []genStep
	requests []schemas.GenerateRequest
}

func (g *scriptedGenerator) GeneratePlan(_ context.Context, req schemas.GenerateRequest) (*schemas.GenerateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.steps) == 0 {
		return nil, errors.New("scripted generator exhausted")
	}
	step := g.steps[0]
	g.steps = g.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &schemas.GenerateResponse{
		Plan:  step.plan,
		Usage: schemas.TokenUsage{PromptTokens: 700, CompletionTokens: 300, TotalTokens: 1000},
	}, nil
}

type reviewStep struct {
	review schemas.ReviewResult
	err    error
}

type scriptedReviewer struct {
	mu    sync.Mutex
	steps []reviewStep
}

func (r *scriptedReviewer) ReviewPlan(_ context.Context, _ string, _ *schemas.Plan) (*schemas.ReviewResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.steps) == 0 {
		return nil, errors.New("scripted reviewer exhausted")
	}
	step := r.steps[0]
	r.steps = r.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &schemas.ReviewResponse{
		Review: step.review,
		Usage:  schemas.TokenUsage{TotalTokens: 200},
	}, nil
}

// -- Fixtures --

func viablePlan(title string) schemas.Plan {
	return schemas.Plan{
		Title: title,
		Phases: []schemas.Phase{{
			Name: "context",
			Instructions: []schemas.Instruction{{
				ID:              "survey",
				Op:              schemas.OpSearchCode,
				Params:          []byte(`{"query":"func main"}`),
				EstimatedTokens: 300,
			}},
		}},
	}
}

// brokenPlan fails viability: it depends on an instruction that does not exist.
func brokenPlan() schemas.Plan {
	return schemas.Plan{
		Title: "broken",
		Phases: []schemas.Phase{{
			Name: "context",
			Instructions: []schemas.Instruction{{
				ID:              "survey",
				Op:              schemas.OpSearchCode,
				DependsOn:       []string{"ghost"},
				Params:          []byte(`{"query":"func main"}`),
				EstimatedTokens: 300,
			}},
		}},
	}
}

func passingReview(score float64) schemas.ReviewResult {
	return schemas.ReviewResult{Score: score, Passed: true, Feedback: "good"}
}

func failingReview(score float64) schemas.ReviewResult {
	return schemas.ReviewResult{
		Score:    score,
		Passed:   false,
		Feedback: "not enough verification",
		Gaps:     []schemas.Gap{{Description: "no rollback step", Severity: schemas.SeverityWarning}},
	}
}

type fixture struct {
	orch      *Orchestrator
	store     *memStore
	generator *scriptedGenerator
	reviewer  *scriptedReviewer
}

func newFixture(t *testing.T, guardCfg config.GuardrailsConfig, orchCfg config.OrchestratorConfig) *fixture {
	t.Helper()
	if guardCfg.MaxIterations == 0 {
		guardCfg.MaxIterations = 10
	}
	if guardCfg.MaxTotalTokens == 0 {
		guardCfg.MaxTotalTokens = 500_000
	}
	if guardCfg.ExecutionTimeout == 0 {
		guardCfg.ExecutionTimeout = 10 * time.Minute
	}
	if guardCfg.IterationSoftLimit == 0 {
		guardCfg.IterationSoftLimit = 7
	}
	if guardCfg.LowScoreThreshold == 0 {
		guardCfg.LowScoreThreshold = 0.5
	}
	if guardCfg.ApproveThreshold == 0 {
		guardCfg.ApproveThreshold = 0.85
	}
	if guardCfg.ExcellentScore == 0 {
		guardCfg.ExcellentScore = 0.95
	}

	store := newMemStore()
	generator := &scriptedGenerator{}
	reviewer := &scriptedReviewer{}
	validator := viability.New(nil, zap.NewNop())
	guards := guardrail.New(guardCfg, zap.NewNop())

	orch, err := New(store, generator, reviewer, validator, guards, orchCfg, zap.NewNop())
	require.NoError(t, err)
	return &fixture{orch: orch, store: store, generator: generator, reviewer: reviewer}
}

// -- Tests --

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, config.OrchestratorConfig{}, zap.NewNop())
	require.Error(t, err)
}

func TestStartSessionApprovesOnFirstPass(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{{plan: viablePlan("first")}}
	f.reviewer.steps = []reviewStep{{review: passingReview(0.9)}}

	session, err := f.orch.StartSession(context.Background(), "wire up pagination", schemas.TierStandard)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateApproved, session.State)
	require.NotNil(t, session.FinalPlan)
	assert.Equal(t, "first", session.FinalPlan.Title)
	assert.Equal(t, 1, session.Guardrails.Iterations)
	assert.Equal(t, int64(1200), session.Guardrails.TotalTokens)
	assert.Equal(t, int64(1000), session.Guardrails.Tokens.Generation)
	assert.Equal(t, int64(200), session.Guardrails.Tokens.Review)
	require.Len(t, session.History, 1)
	assert.Equal(t, schemas.OutcomeApprove, session.History[0].Outcome)
}

func TestStartSessionRefinesOnViabilityFailure(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{
		{plan: brokenPlan()},
		{plan: viablePlan("fixed")},
	}
	f.reviewer.steps = []reviewStep{{review: passingReview(0.9)}}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateApproved, session.State)
	assert.Equal(t, 2, session.Guardrails.Iterations)
	require.Len(t, session.History, 2)
	assert.Nil(t, session.History[0].Review, "structurally broken plans must not reach the reviewer")
	assert.Equal(t, schemas.OutcomeRefine, session.History[0].Outcome)

	// The second generation request must carry the violations as feedback.
	require.Len(t, f.generator.requests, 2)
	assert.Contains(t, f.generator.requests[1].Feedback, "VIABILITY-002")
	require.NotNil(t, f.generator.requests[1].PriorPlan)
	assert.Equal(t, "broken", f.generator.requests[1].PriorPlan.Title)
}

func TestStartSessionRefinesOnLowScoreThenApproves(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{
		{plan: viablePlan("draft")},
		{plan: viablePlan("improved")},
	}
	f.reviewer.steps = []reviewStep{
		{review: failingReview(0.6)},
		{review: passingReview(0.9)},
	}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateApproved, session.State)
	assert.Equal(t, 2, session.Guardrails.Iterations)
	require.Len(t, f.generator.requests, 2)
	assert.Contains(t, f.generator.requests[1].Feedback, "no rollback step")
}

// A perfect score with a mandatory flag still pauses; approval never bypasses
// the human gate.
func TestMandatoryFlagForcesNeedsInput(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{{plan: viablePlan("risky")}}
	f.reviewer.steps = []reviewStep{{review: schemas.ReviewResult{
		Score:          1.0,
		Passed:         true,
		MandatoryFlags: []schemas.MandatoryFlag{schemas.FlagDataDeletion},
	}}}

	session, err := f.orch.StartSession(context.Background(), "drop the old archive", schemas.TierStandard)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateNeedsInput, session.State)
	assert.Nil(t, session.FinalPlan)
	require.Len(t, session.HumanInputs, 1)
	assert.NotEmpty(t, session.HumanInputs[0].Question)
	require.Len(t, session.History, 1)
	assert.Equal(t, schemas.OutcomePause, session.History[0].Outcome)
}

func TestResumeAfterNeedsInput(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{{plan: viablePlan("risky")}}
	f.reviewer.steps = []reviewStep{{review: schemas.ReviewResult{
		Score:          0.9,
		Passed:         true,
		MandatoryFlags: []schemas.MandatoryFlag{schemas.FlagSecuritySensitive},
	}}}

	paused, err := f.orch.StartSession(context.Background(), "rotate signing keys", schemas.TierStandard)
	require.NoError(t, err)
	require.Equal(t, schemas.StateNeedsInput, paused.State)
	pausedIterations := paused.Guardrails.Iterations

	// Arm the collaborators for the resumed pass. The reviewer no longer
	// flags after the human approved the approach.
	f.generator.steps = []genStep{{plan: viablePlan("risky-approved")}}
	f.reviewer.steps = []reviewStep{{review: passingReview(0.9)}}

	resumed, err := f.orch.Resume(context.Background(), paused.ID, "approved, proceed with the rotation")
	require.NoError(t, err)

	assert.Equal(t, schemas.StateApproved, resumed.State)
	// The resume itself costs nothing; only the new generation increments.
	assert.Equal(t, pausedIterations+1, resumed.Guardrails.Iterations)
	require.Len(t, resumed.HumanInputs, 1)
	assert.Equal(t, "approved, proceed with the rotation", resumed.HumanInputs[0].Answer)

	// The answer reaches the generator as feedback.
	require.Len(t, f.generator.requests, 2)
	assert.Contains(t, f.generator.requests[1].Feedback, "approved, proceed with the rotation")
}

func TestResumeRejectsNonResumableStates(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{{plan: viablePlan("p")}}
	f.reviewer.steps = []reviewStep{{review: passingReview(0.9)}}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)
	require.Equal(t, schemas.StateApproved, session.State)

	_, err = f.orch.Resume(context.Background(), session.ID, "more input")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be resumed")
}

// Iteration ceiling with a hopeless score: MaxTurns, never another iteration.
func TestMaxIterationsWithLowScore(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{MaxIterations: 2, IterationSoftLimit: 2}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{
		{plan: viablePlan("one")},
		{plan: viablePlan("two")},
	}
	f.reviewer.steps = []reviewStep{
		{review: failingReview(0.3)},
		{review: failingReview(0.3)},
	}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)

	// Stagnation fires at the soft limit with a hopeless best score; either
	// way the loop must not run a third iteration.
	assert.Contains(t, []schemas.SessionState{schemas.StateMaxTurns, schemas.StateHardStopped}, session.State)
	assert.Equal(t, 2, session.Guardrails.Iterations)
	assert.Nil(t, session.FinalPlan)
	assert.Empty(t, f.generator.steps, "both scripted generations consumed")
}

func TestMaxIterationsWithUsablePlanIsBestEffort(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{MaxIterations: 2}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{
		{plan: viablePlan("one")},
		{plan: viablePlan("two")},
	}
	f.reviewer.steps = []reviewStep{
		{review: failingReview(0.6)},
		{review: failingReview(0.7)},
	}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateBestEffort, session.State)
	require.NotNil(t, session.FinalPlan)
	assert.Equal(t, "two", session.FinalPlan.Title, "best-effort plan is the highest scoring one")
	assert.InDelta(t, 0.7, session.Guardrails.BestScore, 1e-9)
	assert.Equal(t, 2, session.Guardrails.BestIteration)
}

func TestTokenBudgetHardStops(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{MaxTotalTokens: 1000}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{{plan: viablePlan("one")}}
	f.reviewer.steps = []reviewStep{{review: failingReview(0.6)}}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)

	assert.Equal(t, schemas.StateHardStopped, session.State)
	assert.Equal(t, string(guardrail.VerdictTokenBudget), session.StateDetail)
}

func TestTransientGeneratorFailuresAreRetried(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{MaxCollaboratorRetries: 2})
	f.generator.steps = []genStep{
		{err: schemas.Transient(errors.New("rate limited"))},
		{err: schemas.Transient(errors.New("rate limited"))},
		{plan: viablePlan("third time lucky")},
	}
	f.reviewer.steps = []reviewStep{{review: passingReview(0.9)}}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, schemas.StateApproved, session.State)
	assert.Equal(t, 1, session.Guardrails.Iterations, "retries stay within one iteration")
}

func TestExhaustedRetriesFailTheSession(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{MaxCollaboratorRetries: 2})
	f.generator.steps = []genStep{
		{err: schemas.Transient(errors.New("down"))},
		{err: schemas.Transient(errors.New("down"))},
		{err: schemas.Transient(errors.New("down"))},
	}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.Error(t, err)
	assert.Equal(t, schemas.StateFailed, session.State)
	assert.Contains(t, session.FailureError, "generation failed")
}

func TestFatalGeneratorErrorFailsImmediately(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{MaxCollaboratorRetries: 2})
	f.generator.steps = []genStep{{err: errors.New("invalid API key")}}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.Error(t, err)
	assert.Equal(t, schemas.StateFailed, session.State)
	assert.Len(t, f.generator.requests, 1, "fatal errors are not retried")
}

// An unpassed review at or above the excellent score still approves; spending
// more iterations polishing a near-perfect plan is waste.
func TestExcellentScoreShortCircuits(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	f.generator.steps = []genStep{{plan: viablePlan("excellent")}}
	f.reviewer.steps = []reviewStep{{review: schemas.ReviewResult{Score: 0.96, Passed: false}}}

	session, err := f.orch.StartSession(context.Background(), "task", schemas.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, schemas.StateApproved, session.State)
}

func TestStartSessionRejectsEmptyTask(t *testing.T) {
	f := newFixture(t, config.GuardrailsConfig{}, config.OrchestratorConfig{})
	_, err := f.orch.StartSession(context.Background(), "   ", schemas.TierStandard)
	require.Error(t, err)
}
