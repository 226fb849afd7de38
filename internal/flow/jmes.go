package flow

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"
)

// EvalAny returns the raw value selected by the JMESPath expression.
// It is safe to pass any decoded JSON (map[string]any, []any, etc.)
// It will return nil and no error if the expression does not match anything.
func EvalAny(expression string, data any) (any, error) {
	v, err := jmespath.Search(expression, data)
	if err != nil {
		return nil, fmt.Errorf("jmespath: %w", err)
	}
	return v, nil
}

// Project decodes a JSON body, applies the expression and re-encodes the
// selection. A selection that matches nothing encodes as `null`.
func Project(expression string, body []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	v, err := EvalAny(expression, doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
