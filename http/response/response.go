package response

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/godamri/helix-triggers/pkg/contextx"
)

// Envelope is the callable wire body: exactly one of Result or Error is set.
type Envelope struct {
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
	Meta   Meta   `json:"meta"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	TraceID string `json:"trace_id"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, result any) {
	write(w, status, Envelope{
		Result: result,
		Meta:   Meta{TraceID: getTraceID(r)},
	})
}

// ErrorJSON writes an error envelope with the status mapped from code.
func ErrorJSON(w http.ResponseWriter, r *http.Request, code, message string) {
	write(w, MapStatus(code), Envelope{
		Error: &Error{Code: code, Message: message},
		Meta:  Meta{TraceID: getTraceID(r)},
	})
}

func write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; an encode failure here is a broken
	// connection and there is nothing left to tell the client.
	_ = json.NewEncoder(w).Encode(payload)
}

func getTraceID(r *http.Request) string {
	if tid := contextx.GetTraceID(r.Context()); tid != "untriaged" {
		return tid
	}
	tid := r.Header.Get("X-Trace-Id")
	if tid == "" {
		tid = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return tid
}
