// File: internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

func TestParseJSONResponsePlain(t *testing.T) {
	raw := `{"title":"refactor","steps":["read","edit"]}`

	got, err := ParseJSONResponse[testPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "refactor", got.Title)
	assert.Equal(t, []string{"read", "edit"}, got.Steps)
}

func TestParseJSONResponseMarkdownFence(t *testing.T) {
	raw := "```json\n{\"title\":\"fenced\",\"steps\":[]}\n```"

	got, err := ParseJSONResponse[testPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "fenced", got.Title)
}

func TestParseJSONResponseBareFence(t *testing.T) {
	raw := "```\n{\"title\":\"bare\",\"steps\":[\"a\"]}\n```"

	got, err := ParseJSONResponse[testPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "bare", got.Title)
}

func TestParseJSONResponseConversationalWrapper(t *testing.T) {
	raw := `Sure! Here is the plan you asked for:
{"title":"chatty","steps":["one"]}
Let me know if you need anything else.`

	got, err := ParseJSONResponse[testPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "chatty", got.Title)
}

func TestParseJSONResponseArray(t *testing.T) {
	raw := "```json\n[\"a\",\"b\"]\n```"

	got, err := ParseJSONResponse[[]string](raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, *got)
}

func TestParseJSONResponseInvalid(t *testing.T) {
	_, err := ParseJSONResponse[testPayload]("this is not json at all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 10))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}
