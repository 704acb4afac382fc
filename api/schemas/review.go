// File: api/schemas/review.go
package schemas

import (
	"fmt"
	"strings"
)

// MandatoryFlag marks a reviewer finding that forces human approval before
// the plan can be accepted, regardless of score.
type MandatoryFlag string

const (
	FlagSecuritySensitive MandatoryFlag = "security_sensitive"
	FlagDataDeletion      MandatoryFlag = "data_deletion"
	FlagBreakingAPI       MandatoryFlag = "breaking_api"
	FlagAmbiguousGoal     MandatoryFlag = "ambiguous_goal"
	FlagMissingContext    MandatoryFlag = "missing_context"
	FlagLowConfidence     MandatoryFlag = "low_confidence"
)

// Gap is a shortcoming the reviewer found in the plan.
type Gap struct {
	Description string            `json:"description"`
	Severity    ViabilitySeverity `json:"severity"`
}

// UnclearArea is a part of the plan the reviewer could not assess without
// more information from the caller.
type UnclearArea struct {
	Area     string `json:"area"`
	Question string `json:"question"`
}

// ReviewResult is the qualitative judgment of an external reviewer over a
// structurally valid plan.
type ReviewResult struct {
	Score          float64         `json:"score"`
	Passed         bool            `json:"passed"`
	Feedback       string          `json:"feedback"`
	Gaps           []Gap           `json:"gaps,omitempty"`
	UnclearAreas   []UnclearArea   `json:"unclear_areas,omitempty"`
	MandatoryFlags []MandatoryFlag `json:"mandatory_flags,omitempty"`
}

// CalculatePassed recomputes Passed from the score threshold and gap
// severities: a critical gap fails the review even above threshold.
func (r *ReviewResult) CalculatePassed(threshold float64) bool {
	if r.Score < threshold {
		return false
	}
	for _, g := range r.Gaps {
		if g.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// ExtractFeedback flattens the review into a single refinement prompt block:
// the overall feedback followed by each gap and open question.
func (r *ReviewResult) ExtractFeedback() string {
	var b strings.Builder
	if r.Feedback != "" {
		b.WriteString(r.Feedback)
	}
	for _, g := range r.Gaps {
		fmt.Fprintf(&b, "\n- [%s gap] %s", g.Severity, g.Description)
	}
	for _, u := range r.UnclearAreas {
		fmt.Fprintf(&b, "\n- [unclear: %s] %s", u.Area, u.Question)
	}
	return strings.TrimSpace(b.String())
}
