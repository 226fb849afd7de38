package ports

import (
	"context"
	"io"
	"posgate/internal/types"
)

// Upstream is the POS REST API the gateway fronts.
type Upstream interface {
	// Do sends the request and returns the response whatever its status.
	// An error means no response was received.
	Do(ctx context.Context, method, path, rawQuery string, body io.Reader, contentType string) (*types.Response, error)
}
