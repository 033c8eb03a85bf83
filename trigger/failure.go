package trigger

import (
	"errors"
	"fmt"

	"github.com/godamri/helix-triggers/docstore"
)

// Failure codes returned to callable callers. They are stable wire values.
const (
	CodePermissionDenied = "permission-denied"
	CodeInvalidArgument  = "invalid-argument"
	CodeNotFound         = "not-found"
	CodeUnauthenticated  = "unauthenticated"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
)

// Failure is the typed error a callable returns to its caller.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func Fail(code, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsFailure converts any handler error into a Failure. Typed failures pass
// through; transient store errors become unavailable; everything else is
// internal with a generic message.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, docstore.ErrUnavailable) {
		return &Failure{Code: CodeUnavailable, Message: "The service is temporarily unavailable."}
	}
	return &Failure{Code: CodeInternal, Message: "Internal error."}
}
