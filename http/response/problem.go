package response

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 body, used for failures outside a callable
// (unknown routes, wrong methods, transport rejections).
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (p *Problem) Render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// ErrorProblem sends an RFC 7807 response whose status follows code.
func ErrorProblem(w http.ResponseWriter, r *http.Request, code, title, detail string) {
	prob := &Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   MapStatus(code),
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  getTraceID(r),
		Code:     code,
	}
	prob.Render(w)
}
