package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/godamri/helix-triggers/http/response"
)

// PanicRecovery handles panics in HTTP handlers. It logs the stack with the
// request context and answers with an internal error envelope. It does NOT
// exit the process.
func PanicRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.ErrorContext(r.Context(), "HTTP PANIC RECOVERED",
						"error", fmt.Sprintf("%v", rec),
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					response.ErrorJSON(w, r, response.CodeInternal, "Internal error.")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
