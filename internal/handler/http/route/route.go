// Package route exposes the single caller-facing entry point of the routing
// service over HTTP. Provider-side failures never produce an error status;
// callers always receive a well-formed result object, degraded if necessary.
package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"modelmux/internal/handler/http/respond"
	"modelmux/internal/routing"
)

// maxPromptBytes bounds request bodies to keep fingerprinting and upstream
// payloads sane.
const maxPromptBytes = 1 << 20

// Request is the JSON body of POST /route.
type Request struct {
	Category    string            `json:"category"`
	Prompt      string            `json:"prompt"`
	Params      map[string]string `json:"params,omitempty"`
	ConsumerID  string            `json:"consumer_id"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
}

// Register wires the route endpoint onto mux.
func Register(mux *http.ServeMux, svc *routing.Service) {
	mux.Handle("POST /route", Handler{Svc: svc})
}

// Handler serves POST /route.
type Handler struct{ Svc *routing.Service }

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPromptBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Category == "" || req.Prompt == "" {
		respond.SafeError(w, http.StatusBadRequest,
			fmt.Errorf("category and prompt are required"))
		return
	}

	result, err := h.Svc.Route(r.Context(), req.Category, routing.Request{
		Prompt:      req.Prompt,
		Params:      req.Params,
		ConsumerID:  req.ConsumerID,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		// The only error Route returns is an unknown category, which is
		// a caller mistake rather than an upstream failure.
		if errors.Is(err, routing.ErrUnknownCategory) {
			respond.SafeError(w, http.StatusBadRequest, err)
			return
		}
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusOK, result)
}
