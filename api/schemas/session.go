// File: api/schemas/session.go
package schemas

import "time"

// SessionState is the closed set of states the orchestration state machine
// moves through. Transitions are driven exclusively by the orchestrator; the
// session store only persists snapshots.
type SessionState string

const (
	StateCreated    SessionState = "created"
	StateGenerating SessionState = "generating"
	StateValidating SessionState = "validating"
	StateReviewing  SessionState = "reviewing"
	StateRefining   SessionState = "refining"

	// Terminal states. No further transitions occur once reached.
	StateApproved    SessionState = "approved"
	StateMaxTurns    SessionState = "max_turns"
	StateHardStopped SessionState = "hard_stopped"
	StateBestEffort  SessionState = "best_effort"
	StateFailed      SessionState = "failed"

	// StateNeedsInput suspends the session until feedback is supplied.
	StateNeedsInput SessionState = "needs_input"
)

// IsTerminal reports whether no further transitions are possible.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateApproved, StateMaxTurns, StateHardStopped, StateBestEffort, StateFailed:
		return true
	}
	return false
}

// CanResume reports whether a resume call with feedback may re-enter the
// loop. Only suspended sessions resume; hard stops in particular never do.
func (s SessionState) CanResume() bool {
	return s == StateNeedsInput
}

// TokenBreakdown attributes consumed tokens to the collaborator that spent
// them.
type TokenBreakdown struct {
	Generation int64 `json:"generation"`
	Review     int64 `json:"review"`
}

// Total returns the combined token count.
func (t TokenBreakdown) Total() int64 { return t.Generation + t.Review }

// GuardrailState holds the per-session counters compared against configured
// ceilings on every transition decision.
type GuardrailState struct {
	Iterations    int            `json:"iterations"`
	TotalTokens   int64          `json:"total_tokens"`
	Tokens        TokenBreakdown `json:"token_breakdown"`
	StartedAt     time.Time      `json:"started_at"`
	BestScore     float64        `json:"best_score"`
	BestIteration int            `json:"best_iteration"`
}

// AddTokens records token usage against a collaborator.
func (g *GuardrailState) AddTokens(generation, review int64) {
	g.Tokens.Generation += generation
	g.Tokens.Review += review
	g.TotalTokens = g.Tokens.Total()
}

// Elapsed returns the wall time since the session started.
func (g *GuardrailState) Elapsed(now time.Time) time.Duration {
	return now.Sub(g.StartedAt)
}

// IterationOutcome records what a single iteration decided.
type IterationOutcome string

const (
	OutcomeRefine  IterationOutcome = "refine"
	OutcomeApprove IterationOutcome = "approve"
	OutcomePause   IterationOutcome = "pause"
	OutcomeStop    IterationOutcome = "stop"
)

// IterationRecord is one entry of a session's ordered history: the plan a
// generation attempt produced, its structural check result, and the review
// when viability passed.
type IterationRecord struct {
	Iteration int              `json:"iteration"`
	Plan      Plan             `json:"plan"`
	Viability ViabilityResult  `json:"viability"`
	Review    *ReviewResult    `json:"review,omitempty"`
	Outcome   IterationOutcome `json:"outcome"`
	At        time.Time        `json:"at"`
}

// HumanInputRecord pairs a question the session paused on with the answer
// supplied at resume time.
type HumanInputRecord struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`
}

// Session is the persisted, resumable record of one task's planning attempts.
type Session struct {
	ID           string             `json:"id"`
	Task         string             `json:"task"`
	State        SessionState       `json:"state"`
	StateDetail  string             `json:"state_detail,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Guardrails   GuardrailState     `json:"guardrails"`
	History      []IterationRecord  `json:"history"`
	HumanInputs  []HumanInputRecord `json:"human_inputs,omitempty"`
	FinalPlan    *Plan              `json:"final_plan,omitempty"`
	FailureError string             `json:"failure_error,omitempty"`
}

// LatestPlan returns the plan from the most recent iteration, or nil.
func (s *Session) LatestPlan() *Plan {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1].Plan
}

// BestPlan returns the highest-scoring reviewed plan seen so far, or nil if
// no iteration reached review.
func (s *Session) BestPlan() *Plan {
	var best *Plan
	bestScore := -1.0
	for i := range s.History {
		rec := &s.History[i]
		if rec.Review != nil && rec.Review.Score > bestScore {
			bestScore = rec.Review.Score
			best = &rec.Plan
		}
	}
	return best
}

// SessionSummary is the listing shape returned by session stores.
type SessionSummary struct {
	ID         string       `json:"id"`
	Task       string       `json:"task"`
	State      SessionState `json:"state"`
	Iterations int          `json:"iterations"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
