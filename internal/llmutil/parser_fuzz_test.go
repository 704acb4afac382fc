// File: internal/llmutil/parser_fuzz_test.go
package llmutil

import (
	"testing"

	gofuzzheaders "github.com/AdaLogics/go-fuzz-headers"
)

// FuzzParseJSONResponse throws arbitrary byte soup at the extractor. The
// parser must either return a value or an error, never panic, regardless of
// how mangled the fence/bracket structure is.
func FuzzParseJSONResponse(f *testing.F) {
	f.Add([]byte(`{"title":"seed"}`))
	f.Add([]byte("```json\n{\"a\":1}\n```"))
	f.Add([]byte("noise before {\"a\":[1,2,{\"b\":\"c\"}]} noise after"))
	f.Add([]byte("```\n[1,2,3\n```"))

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := gofuzzheaders.NewConsumer(data)
		input, err := consumer.GetString()
		if err != nil {
			return
		}

		got, err := ParseJSONResponse[map[string]any](input)
		if err == nil && got == nil {
			t.Fatal("nil result without error")
		}
	})
}
