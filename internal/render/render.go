// File: internal/render/render.go

// Package render writes accepted plans to disk as human-readable markdown.
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/slug"
)

const planTemplate = `# {{ .Plan.Title }}

> Session {{ .Session.ID }} | state: {{ .Session.State }} | iterations: {{ .Session.Guardrails.Iterations }} | tokens: {{ .Session.Guardrails.TotalTokens }}

**Task**

{{ .Session.Task }}
{{ if .Plan.Risks }}
**Risks**
{{ range .Plan.Risks }}
- {{ . }}{{ end }}
{{ end }}
{{ range .Plan.Phases }}## Phase: {{ .Name }}

| # | ID | Op | Depends on | Description |
|---|----|----|------------|-------------|
{{- range $i, $in := .Instructions }}
| {{ inc $i }} | {{ $in.ID }} | {{ $in.Op }} | {{ join $in.DependsOn ", " }} | {{ $in.Description }} |
{{- end }}

{{ end }}`

// Renderer writes plan markdown files into a directory.
type Renderer struct {
	dir    string
	logger *zap.Logger
	tmpl   *template.Template
}

// New builds a renderer targeting dir.
func New(dir string, logger *zap.Logger) (*Renderer, error) {
	tmpl, err := template.New("plan").Funcs(template.FuncMap{
		"join": strings.Join,
		"inc":  func(i int) int { return i + 1 },
	}).Parse(planTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan template: %w", err)
	}
	return &Renderer{dir: dir, logger: logger.Named("render"), tmpl: tmpl}, nil
}

// Markdown renders the session's final plan to markdown.
func (r *Renderer) Markdown(session *schemas.Session) (string, error) {
	if session.FinalPlan == nil {
		return "", fmt.Errorf("session %q has no final plan to render", session.ID)
	}

	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, struct {
		Session *schemas.Session
		Plan    *schemas.Plan
	}{Session: session, Plan: session.FinalPlan})
	if err != nil {
		return "", fmt.Errorf("failed to render plan: %w", err)
	}
	return buf.String(), nil
}

// WritePlan renders the final plan and writes it under the output directory,
// named after the plan title. Returns the written path.
func (r *Renderer) WritePlan(session *schemas.Session) (string, error) {
	markdown, err := r.Markdown(session)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %q: %w", r.dir, err)
	}

	path := filepath.Join(r.dir, slug.Make(session.FinalPlan.Title)+".md")
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("failed to write plan file: %w", err)
	}

	r.logger.Info("Plan written",
		zap.String("session_id", session.ID),
		zap.String("path", path),
	)
	return path, nil
}
