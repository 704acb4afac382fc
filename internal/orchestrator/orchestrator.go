// File: internal/orchestrator/orchestrator.go

// Package orchestrator drives the generate -> validate -> review -> refine
// loop for one session at a time. All collaborators are injected interfaces;
// the orchestrator owns only the state machine and its bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/config"
	"github.com/xkilldash9x/planforge-cli/internal/guardrail"
	"github.com/xkilldash9x/planforge-cli/internal/viability"
)

// Orchestrator coordinates the planning loop over injected collaborators.
type Orchestrator struct {
	store     schemas.SessionStore
	generator schemas.Generator
	reviewer  schemas.Reviewer
	validator *viability.Validator
	guards    *guardrail.Engine
	cfg       config.OrchestratorConfig
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires an orchestrator. Every collaborator is required.
func New(
	store schemas.SessionStore,
	generator schemas.Generator,
	reviewer schemas.Reviewer,
	validator *viability.Validator,
	guards *guardrail.Engine,
	cfg config.OrchestratorConfig,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("orchestrator requires a session store")
	}
	if generator == nil {
		return nil, fmt.Errorf("orchestrator requires a generator")
	}
	if reviewer == nil {
		return nil, fmt.Errorf("orchestrator requires a reviewer")
	}
	if validator == nil {
		return nil, fmt.Errorf("orchestrator requires a validator")
	}
	if guards == nil {
		return nil, fmt.Errorf("orchestrator requires a guardrail engine")
	}
	return &Orchestrator{
		store:     store,
		generator: generator,
		reviewer:  reviewer,
		validator: validator,
		guards:    guards,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// lockFor serializes all work on one session id within this process. The
// store's iteration check catches writers in other processes.
func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	return lock
}

// StartSession creates a new session for the task and runs the loop until it
// reaches a terminal state or suspends for input.
func (o *Orchestrator) StartSession(ctx context.Context, task string, tier schemas.PlanTier) (*schemas.Session, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("task must not be empty")
	}
	if tier == "" {
		tier = schemas.PlanTier(o.cfg.DefaultTier)
	}

	now := time.Now().UTC()
	session := &schemas.Session{
		ID:        uuid.NewString(),
		Task:      task,
		State:     schemas.StateCreated,
		CreatedAt: now,
		Guardrails: schemas.GuardrailState{
			StartedAt: now,
		},
	}
	if err := o.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	o.logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("tier", string(tier)),
	)
	return o.runLocked(ctx, session.ID, tier, "")
}

// Resume re-enters a suspended session with the caller's answer. Answering a
// question does not consume an iteration by itself; the next generation does.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, answer string) (*schemas.Session, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("resume requires an answer")
	}

	lock := o.lockFor(sessionID)
	lock.Lock()
	session, err := o.store.Load(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if !session.State.CanResume() {
		lock.Unlock()
		return nil, fmt.Errorf("session %q is %s and cannot be resumed", sessionID, session.State)
	}

	// Attach the answer to the question the session paused on.
	if n := len(session.HumanInputs); n > 0 && session.HumanInputs[n-1].Answer == "" {
		session.HumanInputs[n-1].Answer = answer
	} else {
		session.HumanInputs = append(session.HumanInputs, schemas.HumanInputRecord{
			Answer:    answer,
			Iteration: session.Guardrails.Iterations,
			At:        time.Now().UTC(),
		})
	}
	session.State = schemas.StateRefining
	session.StateDetail = ""
	saveErr := o.store.Save(ctx, session)
	lock.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}

	o.logger.Info("Session resumed", zap.String("session_id", sessionID))

	tier := schemas.TierStandard
	if plan := session.LatestPlan(); plan != nil && plan.Tier != "" {
		tier = plan.Tier
	}
	feedback := "Human guidance: " + answer
	if n := len(session.History); n > 0 && session.History[n-1].Review != nil {
		feedback = session.History[n-1].Review.ExtractFeedback() + "\n\n" + feedback
	}
	return o.runLocked(ctx, sessionID, tier, feedback)
}

// Status loads a session without advancing it.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*schemas.Session, error) {
	return o.store.Load(ctx, sessionID)
}

// List returns the store's session summaries.
func (o *Orchestrator) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	return o.store.List(ctx)
}

func (o *Orchestrator) runLocked(ctx context.Context, sessionID string, tier schemas.PlanTier, feedback string) (*schemas.Session, error) {
	lock := o.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State.IsTerminal() {
		return session, nil
	}
	return o.run(ctx, session, tier, feedback)
}

// run is the transition loop. It returns when the session reaches a terminal
// state, suspends for input, or persisting fails.
func (o *Orchestrator) run(ctx context.Context, session *schemas.Session, tier schemas.PlanTier, feedback string) (*schemas.Session, error) {
	priorPlan := session.LatestPlan()

	for {
		if err := ctx.Err(); err != nil {
			return session, err
		}

		if verdict := o.guards.CheckCeilings(&session.Guardrails, time.Now()); verdict != guardrail.VerdictContinue {
			o.finalizeCeiling(session, verdict)
			if err := o.store.Save(ctx, session); err != nil {
				return session, err
			}
			return session, nil
		}
		if o.guards.NearSoftLimit(&session.Guardrails) {
			o.logger.Warn("Session is nearing its iteration ceiling",
				zap.String("session_id", session.ID),
				zap.Int("iterations", session.Guardrails.Iterations),
			)
		}

		// -- Generate --
		session.State = schemas.StateGenerating
		session.Guardrails.Iterations++
		iteration := session.Guardrails.Iterations
		if err := o.store.Save(ctx, session); err != nil {
			return session, err
		}

		genResp, err := withRetries(ctx, o, "generation", func() (*schemas.GenerateResponse, error) {
			return o.generator.GeneratePlan(ctx, schemas.GenerateRequest{
				Task:      session.Task,
				Tier:      tier,
				PriorPlan: priorPlan,
				Feedback:  feedback,
			})
		})
		if err != nil {
			return o.fail(ctx, session, fmt.Errorf("plan generation failed: %w", err))
		}
		session.Guardrails.AddTokens(genResp.Usage.TotalTokens, 0)
		plan := genResp.Plan
		priorPlan = &plan

		// -- Validate --
		session.State = schemas.StateValidating
		viaResult, err := o.validator.Validate(ctx, &plan)
		if err != nil {
			return o.fail(ctx, session, fmt.Errorf("viability validation failed: %w", err))
		}

		record := schemas.IterationRecord{
			Iteration: iteration,
			Plan:      plan,
			Viability: *viaResult,
			At:        time.Now().UTC(),
		}

		if !viaResult.Passed {
			// Structural failures never reach the reviewer; their violations
			// become the refinement feedback.
			feedback = violationFeedback(viaResult)
			record.Outcome = schemas.OutcomeRefine
			session.History = append(session.History, record)
			session.State = schemas.StateRefining
			session.StateDetail = fmt.Sprintf("%d viability violations", len(viaResult.Violations))
			if err := o.store.Save(ctx, session); err != nil {
				return session, err
			}
			o.logger.Info("Plan failed viability, refining",
				zap.String("session_id", session.ID),
				zap.Int("iteration", iteration),
				zap.Int("criticals", viaResult.CriticalCount()),
			)
			continue
		}

		// -- Review --
		session.State = schemas.StateReviewing
		if err := o.store.Save(ctx, session); err != nil {
			return session, err
		}

		revResp, err := withRetries(ctx, o, "review", func() (*schemas.ReviewResponse, error) {
			return o.reviewer.ReviewPlan(ctx, session.Task, &plan)
		})
		if err != nil {
			return o.fail(ctx, session, fmt.Errorf("plan review failed: %w", err))
		}
		session.Guardrails.AddTokens(0, revResp.Usage.TotalTokens)
		review := revResp.Review
		record.Review = &review

		if review.Score > session.Guardrails.BestScore {
			session.Guardrails.BestScore = review.Score
			session.Guardrails.BestIteration = iteration
		}

		// -- Decide --
		flags := o.guards.MandatoryFlags(session.Task, &plan, &review)
		guardCfg := o.guards.Config()

		switch {
		case len(flags) > 0:
			// Mandatory flags force the pause even at a perfect score.
			record.Outcome = schemas.OutcomePause
			session.History = append(session.History, record)
			question := pendingQuestion(&review, flags)
			session.HumanInputs = append(session.HumanInputs, schemas.HumanInputRecord{
				Question:  question,
				Iteration: iteration,
				At:        time.Now().UTC(),
			})
			session.State = schemas.StateNeedsInput
			session.StateDetail = question
			if err := o.store.Save(ctx, session); err != nil {
				return session, err
			}
			o.logger.Info("Session paused for human input",
				zap.String("session_id", session.ID),
				zap.Int("iteration", iteration),
				zap.Any("flags", flags),
			)
			return session, nil

		case review.Passed || review.Score >= guardCfg.ExcellentScore:
			record.Outcome = schemas.OutcomeApprove
			session.History = append(session.History, record)
			session.State = schemas.StateApproved
			session.StateDetail = fmt.Sprintf("approved at iteration %d with score %.2f", iteration, review.Score)
			session.FinalPlan = &plan
			if err := o.store.Save(ctx, session); err != nil {
				return session, err
			}
			o.logger.Info("Plan approved",
				zap.String("session_id", session.ID),
				zap.Int("iteration", iteration),
				zap.Float64("score", review.Score),
			)
			return session, nil

		default:
			record.Outcome = schemas.OutcomeRefine
			session.History = append(session.History, record)
			feedback = review.ExtractFeedback()
			session.State = schemas.StateRefining
			session.StateDetail = fmt.Sprintf("score %.2f below threshold %.2f", review.Score, guardCfg.ApproveThreshold)
			if err := o.store.Save(ctx, session); err != nil {
				return session, err
			}
			o.logger.Info("Plan needs refinement",
				zap.String("session_id", session.ID),
				zap.Int("iteration", iteration),
				zap.Float64("score", review.Score),
			)
		}
	}
}

// withRetries runs a collaborator call, absorbing up to MaxCollaboratorRetries
// transient failures. Fatal errors and exhausted retries propagate.
func withRetries[T any](ctx context.Context, o *Orchestrator, name string, call func() (T, error)) (T, error) {
	var zero T
	attempts := 1 + o.cfg.MaxCollaboratorRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !schemas.IsTransient(err) || ctx.Err() != nil {
			return zero, err
		}
		o.logger.Warn("Transient collaborator failure, retrying",
			zap.String("collaborator", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// finalizeCeiling maps a guardrail verdict onto a terminal state. Hitting the
// iteration ceiling with a salvageable best plan degrades to best-effort;
// every other ceiling is a hard stop.
func (o *Orchestrator) finalizeCeiling(session *schemas.Session, verdict guardrail.Verdict) {
	session.StateDetail = string(verdict)
	if verdict == guardrail.VerdictMaxIterations {
		best := session.BestPlan()
		if best != nil && session.Guardrails.BestScore >= o.guards.Config().LowScoreThreshold {
			session.State = schemas.StateBestEffort
			session.FinalPlan = best
			o.logger.Info("Iteration ceiling reached, emitting best-effort plan",
				zap.String("session_id", session.ID),
				zap.Float64("best_score", session.Guardrails.BestScore),
				zap.Int("best_iteration", session.Guardrails.BestIteration),
			)
			return
		}
		session.State = schemas.StateMaxTurns
		o.logger.Warn("Iteration ceiling reached with no usable plan",
			zap.String("session_id", session.ID))
		return
	}
	session.State = schemas.StateHardStopped
	o.logger.Warn("Session hard-stopped",
		zap.String("session_id", session.ID),
		zap.String("verdict", string(verdict)),
	)
}

func (o *Orchestrator) fail(ctx context.Context, session *schemas.Session, cause error) (*schemas.Session, error) {
	session.State = schemas.StateFailed
	session.FailureError = cause.Error()
	if saveErr := o.store.Save(ctx, session); saveErr != nil {
		o.logger.Error("Failed to persist failed session", zap.Error(saveErr))
	}
	o.logger.Error("Session failed",
		zap.String("session_id", session.ID),
		zap.Error(cause),
	)
	return session, cause
}

// violationFeedback renders viability violations as refinement feedback for
// the generator.
func violationFeedback(result *schemas.ViabilityResult) string {
	var b strings.Builder
	b.WriteString("The plan failed structural validation. Fix every violation:\n")
	for _, v := range result.Violations {
		fmt.Fprintf(&b, "- [%s %s] %s", v.RuleID, v.Severity, v.Message)
		if v.Remediation != "" {
			fmt.Fprintf(&b, " (%s)", v.Remediation)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// pendingQuestion picks the question to surface while paused: the reviewer's
// first open question if there is one, otherwise a summary of the flags that
// forced the pause.
func pendingQuestion(review *schemas.ReviewResult, flags []schemas.MandatoryFlag) string {
	if len(review.UnclearAreas) > 0 {
		return review.UnclearAreas[0].Question
	}
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = string(f)
	}
	return fmt.Sprintf("This plan requires explicit approval (%s). Approve or describe the changes needed.",
		strings.Join(names, ", "))
}
