// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/observability"
	"github.com/xkilldash9x/planforge-cli/internal/render"
)

func TestNewRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "resume")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "version")

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
}

func TestRunCommandRejectsUnknownTier(t *testing.T) {
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"run", "--tier", "ludicrous", "do the thing"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}

func TestReportOutcomeNeedsInput(t *testing.T) {
	renderer, err := render.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	a := &app{renderer: renderer}

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)

	session := &schemas.Session{
		ID:          "sess-9",
		State:       schemas.StateNeedsInput,
		StateDetail: "This plan requires explicit approval (data_deletion).",
	}
	require.NoError(t, reportOutcome(root, a, session))
	assert.Contains(t, out.String(), "needs input")
	assert.Contains(t, out.String(), "planforge resume sess-9")
}

func TestReportOutcomeApprovedWritesPlan(t *testing.T) {
	renderer, err := render.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	a := &app{renderer: renderer}

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)

	session := &schemas.Session{
		ID:    "sess-10",
		State: schemas.StateApproved,
		Guardrails: schemas.GuardrailState{
			Iterations: 2,
		},
		FinalPlan: &schemas.Plan{Title: "tidy the config loader"},
	}
	require.NoError(t, reportOutcome(root, a, session))
	assert.Contains(t, out.String(), "Plan approved after 2 iteration(s)")
	assert.Contains(t, out.String(), "tidy-the-config-loader.md")
}
