package classify

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scopesignal/internal/model"
)

// ErrCacheUnavailable marks a cache read or write failure. It never fails a
// classification; it is recorded on the proof.
var ErrCacheUnavailable = eris.New("classify: cache unavailable")

// ValidationFailure reports a model response that did not satisfy the
// result schema. It counts as a failed attempt.
type ValidationFailure struct {
	Check  string
	Detail string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("invalid model response: %s: %s", e.Check, e.Detail)
}

// ClassificationError is returned when every attempt failed. Proof is the
// audit record of the failed classification.
type ClassificationError struct {
	Attempts   int
	LastReason string
	Proof      model.DecisionProof
	Err        error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed after %d attempts: %s", e.Attempts, e.LastReason)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
