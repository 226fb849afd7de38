package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidRoute = errors.New("invalid route policy")
	ErrNoRoute      = errors.New("no route matches path")
	ErrUpstream     = errors.New("upstream request failed")

	ErrInvalidBackend  = errors.New("invalid backend")
	ErrDataStoreAccess = errors.New("data store read/write error")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}

// UpstreamError is a non-2xx answer from the POS API. It is relayed to the
// caller as-is but never cached.
type UpstreamError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.Status)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
