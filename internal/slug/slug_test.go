// File: internal/slug/slug_test.go
package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Add pagination to the listing endpoint", "add-pagination-to-the-listing-endpoint"},
		{"Fix: race in worker pool!!", "fix-race-in-worker-pool"},
		{"  spaces   everywhere  ", "spaces-everywhere"},
		{"über-cache v2", "über-cache-v2"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Make(tc.in))
	}
}

func TestMakeTruncates(t *testing.T) {
	long := strings.Repeat("very ", 30) + "long title"
	got := Make(long)
	assert.LessOrEqual(t, len(got), maxLen)
	assert.False(t, strings.HasSuffix(got, "-"))
}

func TestMakeEmptyFallsBackToRandom(t *testing.T) {
	a := Make("!!!")
	b := Make("")
	assert.True(t, strings.HasPrefix(a, "plan-"))
	assert.NotEqual(t, a, b)
}
