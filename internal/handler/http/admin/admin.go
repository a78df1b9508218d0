// Package admin exposes the administrative HTTP operations of the routing
// service: forcing providers into cooldown, resetting counters, enumerating
// health/rate/circuit state, and managing background jobs.
//
// The admin surface is operator-local; callers' user-facing APIs live
// outside this core.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"modelmux/internal/handler/http/respond"
	"modelmux/internal/health"
	"modelmux/internal/provider"
	"modelmux/internal/ratebudget"
	"modelmux/internal/resilience/circuitbreaker"
	"modelmux/internal/scheduler"
)

// maxCooldownMinutes bounds administrative cooldowns to a day.
const maxCooldownMinutes = 24 * 60

// Deps are the shared state objects the admin API reads and mutates.
type Deps struct {
	Registry *provider.Registry
	Health   *health.Tracker
	Budget   *ratebudget.Tracker
	Breakers *circuitbreaker.Set
	Jobs     *scheduler.Scheduler
}

// Register wires the admin routes onto mux.
func Register(mux *http.ServeMux, d Deps) {
	mux.Handle("GET /admin/providers", providersHandler{d})
	mux.Handle("POST /admin/providers/{id}/cooldown", cooldownHandler{d})
	mux.Handle("POST /admin/providers/{id}/reset", resetHandler{d})

	mux.Handle("GET /admin/jobs", jobsHandler{d})
	mux.Handle("POST /admin/jobs/{id}/enable", jobToggleHandler{d, true})
	mux.Handle("POST /admin/jobs/{id}/disable", jobToggleHandler{d, false})
	mux.Handle("POST /admin/jobs/{id}/trigger", jobTriggerHandler{d})
	mux.Handle("GET /admin/jobs/{id}/executions", jobHistoryHandler{d})
}

// ProviderState is the per-provider view returned by GET /admin/providers.
type ProviderState struct {
	ID                string          `json:"id"`
	Healthy           bool            `json:"healthy"`
	Known             bool            `json:"known"`
	AvgLatencyMs      int64           `json:"avg_latency_ms"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	LastError         *time.Time      `json:"last_error,omitempty"`
	CircuitState      string          `json:"circuit_state"`
	RateStatus        string          `json:"rate_status"`
	Usage             ratebudget.Usage `json:"usage"`
}

type providersHandler struct{ d Deps }

func (h providersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ids := h.d.Registry.IDs()
	out := make([]ProviderState, 0, len(ids))
	for _, id := range ids {
		snap := h.d.Health.Snapshot(id)
		usage := h.d.Budget.UsageFor(id)

		state := ProviderState{
			ID:                id,
			Healthy:           snap.Healthy,
			Known:             snap.Known,
			AvgLatencyMs:      snap.AvgLatency.Milliseconds(),
			ConsecutiveErrors: snap.ConsecutiveErrors,
			CircuitState:      h.d.Breakers.For(id).State(),
			RateStatus:        usage.Worst.String(),
			Usage:             usage,
		}
		if !snap.LastError.IsZero() {
			t := snap.LastError
			state.LastError = &t
		}
		out = append(out, state)
	}
	respond.JSON(w, http.StatusOK, out)
}

type cooldownRequest struct {
	Minutes int `json:"minutes"`
}

type cooldownHandler struct{ d Deps }

func (h cooldownHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.d.Registry.Get(id); !ok {
		respond.SafeError(w, http.StatusNotFound, fmt.Errorf("unknown provider %q", id))
		return
	}

	var req cooldownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Minutes <= 0 || req.Minutes > maxCooldownMinutes {
		respond.SafeError(w, http.StatusBadRequest,
			fmt.Errorf("minutes must be between 1 and %d", maxCooldownMinutes))
		return
	}

	h.d.Breakers.For(id).ForceOpen(time.Duration(req.Minutes) * time.Minute)
	respond.JSON(w, http.StatusOK, map[string]any{
		"provider":         id,
		"cooldown_minutes": req.Minutes,
	})
}

type resetHandler struct{ d Deps }

func (h resetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.d.Registry.Get(id); !ok {
		respond.SafeError(w, http.StatusNotFound, fmt.Errorf("unknown provider %q", id))
		return
	}

	h.d.Health.Reset(id)
	h.d.Budget.Reset(id)
	respond.JSON(w, http.StatusOK, map[string]string{"provider": id, "status": "reset"})
}

type jobsHandler struct{ d Deps }

func (h jobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.d.Jobs.Jobs())
}

type jobToggleHandler struct {
	d      Deps
	enable bool
}

func (h jobToggleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	if h.enable {
		err = h.d.Jobs.Enable(id)
	} else {
		err = h.d.Jobs.Disable(id)
	}
	if err != nil {
		writeJobError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"job": id, "enabled": h.enable})
}

type jobTriggerHandler struct{ d Deps }

func (h jobTriggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.d.Jobs.Trigger(id); err != nil {
		writeJobError(w, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"job": id, "status": "triggered"})
}

type jobHistoryHandler struct{ d Deps }

func (h jobHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := h.d.Jobs.History(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, history)
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, scheduler.ErrUnknownJob) {
		respond.SafeError(w, http.StatusNotFound, err)
		return
	}
	respond.SafeError(w, http.StatusInternalServerError, err)
}
