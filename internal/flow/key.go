package flow

import (
	"net/url"
	"strings"
)

// ComputeKey builds the cache key of a request: the method, the path and the
// query with its parameters sorted by name, e.g. "GET /api/tables?a=1&b=2".
// Requests that differ only in query parameter order share a key.
func ComputeKey(method, path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(path)
	if q := query.Encode(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}
