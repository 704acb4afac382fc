// File: internal/guardrail/engine.go

// Package guardrail enforces the hard ceilings and mandatory-approval policy
// that bound the refinement loop. The engine is deterministic and stateless;
// all counters live in the session's GuardrailState.
package guardrail

import (
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/config"
)

// Verdict is the engine's ruling on whether the loop may run another
// iteration.
type Verdict string

const (
	VerdictContinue        Verdict = "continue"
	VerdictMaxIterations   Verdict = "max_iterations_exceeded"
	VerdictTokenBudget     Verdict = "token_budget_exceeded"
	VerdictTimeout         Verdict = "execution_timeout_exceeded"
	VerdictScoreStagnation Verdict = "score_stagnation"
)

// Built-in policy lists used when the configuration leaves them empty.
var (
	defaultSecurityKeywords = []string{
		"credential", "auth", "encrypt", "secret", "token",
		"password", "api_key", "private_key", "certificate",
	}
	defaultSensitiveFileGlobs = []string{
		"*.env", "*.env.*", "*secret*", "*credential*",
		"*.pem", "*.key", "**/secrets/**",
	}
	defaultBreakingAPIPatterns = []string{
		"pub fn", "pub struct", "pub enum", "pub trait",
	}
	defaultDataDeletionPatterns = []string{
		"DROP TABLE", "DELETE FROM", "TRUNCATE", "rm -rf", "shutil.rmtree",
	}
)

// Engine evaluates guardrail policy for one configured ceiling set.
type Engine struct {
	cfg    config.GuardrailsConfig
	logger *zap.Logger
}

// New builds an engine, substituting built-in policy lists for any the
// configuration leaves empty.
func New(cfg config.GuardrailsConfig, logger *zap.Logger) *Engine {
	if len(cfg.SecurityKeywords) == 0 {
		cfg.SecurityKeywords = defaultSecurityKeywords
	}
	if len(cfg.SensitiveFileGlobs) == 0 {
		cfg.SensitiveFileGlobs = defaultSensitiveFileGlobs
	}
	if len(cfg.BreakingAPIPatterns) == 0 {
		cfg.BreakingAPIPatterns = defaultBreakingAPIPatterns
	}
	if len(cfg.DataDeletionPatterns) == 0 {
		cfg.DataDeletionPatterns = defaultDataDeletionPatterns
	}
	return &Engine{cfg: cfg, logger: logger.Named("guardrail")}
}

// Config returns the effective configuration after default substitution.
func (e *Engine) Config() config.GuardrailsConfig { return e.cfg }

// CheckCeilings rules on whether another iteration may start. Ceilings are
// checked in severity order; once iterations reach the maximum the verdict is
// MaxIterations no matter what the scores look like.
func (e *Engine) CheckCeilings(state *schemas.GuardrailState, now time.Time) Verdict {
	if state.Iterations >= e.cfg.MaxIterations {
		return VerdictMaxIterations
	}
	if state.TotalTokens >= e.cfg.MaxTotalTokens {
		return VerdictTokenBudget
	}
	if !state.StartedAt.IsZero() && state.Elapsed(now) >= e.cfg.ExecutionTimeout {
		return VerdictTimeout
	}
	if e.stagnating(state) {
		return VerdictScoreStagnation
	}
	return VerdictContinue
}

// stagnating reports whether the session has burned past the soft iteration
// limit while its best review score stays below the low-score threshold.
// Further refinement of a plan that bad is waste; stop hard instead.
func (e *Engine) stagnating(state *schemas.GuardrailState) bool {
	return state.Iterations >= e.cfg.IterationSoftLimit &&
		state.Iterations > 0 &&
		state.BestScore > 0 &&
		state.BestScore < e.cfg.LowScoreThreshold
}

// NearSoftLimit reports whether the session should be warned that the
// iteration budget is running out.
func (e *Engine) NearSoftLimit(state *schemas.GuardrailState) bool {
	return state.Iterations >= e.cfg.IterationSoftLimit
}

// MandatoryFlags scans the task, the plan and the review for conditions that
// force human approval. Reviewer-raised flags pass through; the engine adds
// its own findings from the deterministic pattern scans. The returned slice
// is deduplicated and order-stable.
func (e *Engine) MandatoryFlags(task string, plan *schemas.Plan, review *schemas.ReviewResult) []schemas.MandatoryFlag {
	seen := make(map[schemas.MandatoryFlag]bool)
	var flags []schemas.MandatoryFlag
	add := func(f schemas.MandatoryFlag) {
		if !seen[f] {
			seen[f] = true
			flags = append(flags, f)
		}
	}

	if review != nil {
		for _, f := range review.MandatoryFlags {
			add(f)
		}
	}

	if e.taskMentionsSecurity(task) {
		add(schemas.FlagSecuritySensitive)
	}
	if plan != nil {
		if e.planTouchesSensitiveFiles(plan) {
			add(schemas.FlagSecuritySensitive)
		}
		if e.planMatchesPatterns(plan, e.cfg.DataDeletionPatterns) {
			add(schemas.FlagDataDeletion)
		}
		if e.planMatchesPatterns(plan, e.cfg.BreakingAPIPatterns) {
			add(schemas.FlagBreakingAPI)
		}
	}

	if len(flags) > 0 {
		e.logger.Info("Mandatory approval conditions detected",
			zap.Int("flag_count", len(flags)))
	}
	return flags
}

func (e *Engine) taskMentionsSecurity(task string) bool {
	lower := strings.ToLower(task)
	for _, keyword := range e.cfg.SecurityKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func (e *Engine) planTouchesSensitiveFiles(plan *schemas.Plan) bool {
	for _, ref := range plan.FileReferences() {
		if ref.Action == schemas.FileRead {
			continue // reading a sensitive file is not a mutation
		}
		for _, glob := range e.cfg.SensitiveFileGlobs {
			if matchSensitiveGlob(glob, ref.Path) {
				return true
			}
		}
	}
	return false
}

// matchSensitiveGlob matches a glob against the full path and against its
// base name, with **/x/** treated as "any path segment equals x".
func matchSensitiveGlob(glob, path string) bool {
	if strings.Contains(glob, "**") {
		segment := strings.Trim(strings.ReplaceAll(glob, "**", ""), "/")
		for _, part := range strings.Split(filepath.ToSlash(path), "/") {
			if part == segment {
				return true
			}
		}
		return false
	}
	if ok, _ := filepath.Match(glob, filepath.Base(path)); ok {
		return true
	}
	ok, _ := filepath.Match(glob, filepath.ToSlash(path))
	return ok
}

// planMatchesPatterns scans instruction descriptions, goals and commands for
// any of the given literal patterns, case-insensitively.
func (e *Engine) planMatchesPatterns(plan *schemas.Plan, patterns []string) bool {
	for _, in := range plan.Instructions() {
		haystack := strings.ToLower(in.Description + " " + string(in.Params))
		for _, pattern := range patterns {
			if strings.Contains(haystack, strings.ToLower(pattern)) {
				return true
			}
		}
	}
	return false
}
