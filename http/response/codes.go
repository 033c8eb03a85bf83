package response

import "net/http"

// Wire codes shared by the callable envelope and problem responses. The
// callable handlers return the first group; the rest come from transport
// middleware.
const (
	CodeInvalidArgument  = "invalid-argument"
	CodeUnauthenticated  = "unauthenticated"
	CodePermissionDenied = "permission-denied"
	CodeNotFound         = "not-found"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"

	CodeAlreadyExists     = "already-exists"
	CodeAborted           = "aborted"
	CodeResourceExhausted = "resource-exhausted"
	CodeDeadlineExceeded  = "deadline-exceeded"
)

func MapStatus(code string) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodePermissionDenied:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	case CodeAlreadyExists, CodeAborted:
		return http.StatusConflict

	case CodeResourceExhausted:
		return http.StatusTooManyRequests

	case CodeUnavailable:
		return http.StatusServiceUnavailable

	case CodeDeadlineExceeded:
		return http.StatusGatewayTimeout

	case CodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}
