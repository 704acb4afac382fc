// File: internal/reviewer/reviewer_test.go
package reviewer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

type fakeClient struct {
	response string
	err      error
	lastReq  schemas.GenerationRequest
}

func (f *fakeClient) Generate(_ context.Context, req schemas.GenerationRequest) (*schemas.GenerationResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &schemas.GenerationResult{
		Text:  f.response,
		Usage: schemas.TokenUsage{TotalTokens: 90},
	}, nil
}

func (f *fakeClient) Close() error { return nil }

func TestReviewPlanParsesAndDerivesPassed(t *testing.T) {
	client := &fakeClient{response: `{
		"score": 0.9,
		"feedback": "solid plan",
		"gaps": [],
		"mandatory_flags": []
	}`}
	r := New(client, 0.85, zap.NewNop())

	resp, err := r.ReviewPlan(context.Background(), "add retries", &schemas.Plan{Title: "p"})
	require.NoError(t, err)

	assert.InDelta(t, 0.9, resp.Review.Score, 1e-9)
	assert.True(t, resp.Review.Passed)
	assert.Equal(t, int64(90), resp.Usage.TotalTokens)
	assert.Contains(t, client.lastReq.UserPrompt, "add retries")
}

func TestReviewPlanCriticalGapFailsAboveThreshold(t *testing.T) {
	client := &fakeClient{response: `{
		"score": 0.95,
		"feedback": "looks fine except...",
		"gaps": [{"description": "never verifies the migration", "severity": "critical"}]
	}`}
	r := New(client, 0.85, zap.NewNop())

	resp, err := r.ReviewPlan(context.Background(), "migrate the schema", &schemas.Plan{})
	require.NoError(t, err)
	assert.False(t, resp.Review.Passed)
}

func TestReviewPlanClampsOutOfRangeScore(t *testing.T) {
	client := &fakeClient{response: `{"score": 1.7, "feedback": "enthusiastic"}`}
	r := New(client, 0.85, zap.NewNop())

	resp, err := r.ReviewPlan(context.Background(), "t", &schemas.Plan{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Review.Score)
}

func TestReviewPlanMandatoryFlagsPassThrough(t *testing.T) {
	client := &fakeClient{response: `{
		"score": 1.0,
		"feedback": "perfect, but it rotates credentials",
		"mandatory_flags": ["security_sensitive"]
	}`}
	r := New(client, 0.85, zap.NewNop())

	resp, err := r.ReviewPlan(context.Background(), "rotate keys", &schemas.Plan{})
	require.NoError(t, err)
	assert.Equal(t, []schemas.MandatoryFlag{schemas.FlagSecuritySensitive}, resp.Review.MandatoryFlags)
}

func TestReviewPlanErrorsAreTransient(t *testing.T) {
	r := New(&fakeClient{err: errors.New("503")}, 0.85, zap.NewNop())
	_, err := r.ReviewPlan(context.Background(), "t", &schemas.Plan{})
	require.Error(t, err)
	assert.True(t, schemas.IsTransient(err))

	r = New(&fakeClient{response: "not json"}, 0.85, zap.NewNop())
	_, err = r.ReviewPlan(context.Background(), "t", &schemas.Plan{})
	require.Error(t, err)
	assert.True(t, schemas.IsTransient(err))
}
