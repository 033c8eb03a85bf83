package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/godamri/helix-triggers/http/response"
	"github.com/godamri/helix-triggers/pkg/contextx"
	"github.com/godamri/helix-triggers/server/middleware"
	"github.com/godamri/helix-triggers/trigger"
)

const maxCallableBody = 1 << 20

// Invoker serves a callable by name. *trigger.Dispatcher implements it.
type Invoker interface {
	Invoke(ctx context.Context, req trigger.InvocationRequest) (any, error)
}

type callableBody struct {
	Data map[string]any `json:"data"`
}

// CallableHandler serves POST /v1/callable/{name} with body
// {"data": {...}}. The caller id comes from the auth middleware.
type CallableHandler struct {
	invoker Invoker
}

func NewCallableHandler(invoker Invoker) *CallableHandler {
	return &CallableHandler{invoker: invoker}
}

func (h *CallableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body callableBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallableBody))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		response.ErrorJSON(w, r, response.CodeInvalidArgument, "Request body must be a JSON object with a data field.")
		return
	}

	ctx := r.Context()
	result, err := h.invoker.Invoke(ctx, trigger.InvocationRequest{
		ID:             contextx.GetRequestID(ctx),
		CallerID:       contextx.GetAuthPrincipalID(ctx),
		Name:           chi.URLParam(r, "name"),
		Payload:        body.Data,
		IdempotencyKey: r.Header.Get(middleware.IdempotencyHeader),
	})
	if err != nil {
		f := trigger.AsFailure(err)
		response.ErrorJSON(w, r, f.Code, f.Message)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}
