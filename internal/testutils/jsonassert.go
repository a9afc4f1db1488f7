package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// JSONAsserter compares one JSON record of command output against the expected
// document. Key order and whitespace are ignored; every key must match.
type JSONAsserter struct {
	t TestingT
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	return &JSONAsserter{t: t}
}

// Assert reports an ASCII diff when actualJSON differs from expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := jsonDiff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON record mismatch:\n%s", diff)
	}
}

func jsonDiff(actualJSON, expectedJSON string) string {
	var expected map[string]any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("expected record is not a JSON object: %v", err)
	}

	diff, err := gojsondiff.New().Compare([]byte(expectedJSON), []byte(actualJSON))
	if err != nil {
		return fmt.Sprintf("actual record is not a JSON object: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{})
	out, _ := f.Format(diff)
	return out
}
