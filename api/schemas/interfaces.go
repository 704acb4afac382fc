// File: api/schemas/interfaces.go
package schemas

import "context"

// -- Session Store Interface --

// SessionStore defines a generic interface for persisting orchestration
// sessions. This abstraction keeps the orchestrator independent of the
// specific backend (file tree, PostgreSQL, in-memory).
type SessionStore interface {
	// Load retrieves a session by id.
	Load(ctx context.Context, id string) (*Session, error)
	// Save persists a session snapshot. Implementations must detect a
	// concurrent writer that advanced the same session's iteration counter
	// and reject the write rather than losing it.
	Save(ctx context.Context, session *Session) error
	// List returns summaries of all stored sessions, newest first.
	List(ctx context.Context) ([]SessionSummary, error)
	// Close releases backend resources.
	Close() error
}

// -- External Collaborator Interfaces --

// GenerateRequest carries everything the plan generator needs for one
// attempt: the task, optionally the prior plan plus accumulated feedback
// when refining.
type GenerateRequest struct {
	Task      string            `json:"task"`
	Tier      PlanTier          `json:"tier"`
	Grounding GroundingSnapshot `json:"grounding,omitzero"`
	PriorPlan *Plan             `json:"prior_plan,omitempty"`
	Feedback  string            `json:"feedback,omitempty"`
}

// GenerateResponse is one generation attempt's output with its token cost.
type GenerateResponse struct {
	Plan  Plan       `json:"plan"`
	Usage TokenUsage `json:"usage"`
}

// Generator produces structured plans from a natural-language task. It is an
// opaque external collaborator; failures are classified transient or fatal
// via IsTransient.
type Generator interface {
	GeneratePlan(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// ReviewResponse is one review's output with its token cost.
type ReviewResponse struct {
	Review ReviewResult `json:"review"`
	Usage  TokenUsage   `json:"usage"`
}

// Reviewer scores a structurally valid plan and flags conditions that
// require human approval. Called only after viability passes.
type Reviewer interface {
	ReviewPlan(ctx context.Context, task string, plan *Plan) (*ReviewResponse, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier selects a large language model by a speed/capability preference.
type ModelTier string

const (
	ModelTierFast     ModelTier = "fast"     // Prefers a faster, less capable model.
	ModelTierPowerful ModelTier = "powerful" // Prefers a more capable, slower model.
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// TokenUsage reports the token cost of one model call.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// GenerationResult is the model's text output with its reported usage.
type GenerationResult struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// LLMClient defines a standard interface for interacting with a Large
// Language Model, abstracting the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	// Close cleans up any resources held by the client.
	Close() error
}
