package registry

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/award-enricher/internal/model"
)

var (
	// ErrNotFound means the registry confirmed the entity does not exist.
	// Never retried.
	ErrNotFound = eris.New("registry: entity not found")

	// ErrTransientNetwork means retries were exhausted on transport, timeout,
	// 408, 429 or 5xx failures.
	ErrTransientNetwork = eris.New("registry: transient network failure")
)

// ValidationError reports a response or request that does not fit the
// contract for an enrichment type. Never retried.
type ValidationError struct {
	Type   model.EnrichmentType
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("registry: invalid %s payload: %s", e.Type, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(typ model.EnrichmentType, reason string, err error) *ValidationError {
	return &ValidationError{Type: typ, Reason: reason, Err: err}
}
