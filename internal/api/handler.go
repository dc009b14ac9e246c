// Package api exposes the scoring engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/kavach/internal/alert"
	"github.com/gyaneshwarpardhi/kavach/internal/config"
	"github.com/gyaneshwarpardhi/kavach/internal/engine"
	"github.com/gyaneshwarpardhi/kavach/internal/logging"
	"github.com/gyaneshwarpardhi/kavach/internal/metrics"
	"github.com/gyaneshwarpardhi/kavach/internal/predict"
	"github.com/gyaneshwarpardhi/kavach/internal/registry"
	"github.com/gyaneshwarpardhi/kavach/internal/simulate"
	"github.com/gyaneshwarpardhi/kavach/internal/txn"
)

const (
	maxBatchSize       = 100
	defaultRecentEdges = 10
	defaultAlertLimit  = 50
	overloadedAt       = 0.8
)

// Deps are the components the HTTP layer serves. Alerts, Simulation and
// Stream are optional; their routes answer 503 when unset. A nil Predictor
// uses the engine's current one.
type Deps struct {
	Engine     *engine.Engine
	Loader     *config.Loader
	Registry   *registry.Registry
	Predictor  *predict.Predictor
	Alerts     *alert.Recorder
	Simulation *simulate.Runner
	Stream     http.Handler
	Logger     *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	mux *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = registry.Default()
	}
	h := &Handler{Deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/transactions", h.scoreTransaction)
	h.mux.HandleFunc("POST /v1/transactions/batch", h.scoreBatch)
	h.mux.HandleFunc("POST /v1/predictions", h.predict)
	h.mux.HandleFunc("GET /v1/accounts/{id}", h.account)
	h.mux.HandleFunc("GET /v1/atms", h.listATMs)
	h.mux.HandleFunc("GET /v1/stats", h.stats)
	h.mux.HandleFunc("GET /v1/alerts", h.listAlerts)
	h.mux.HandleFunc("GET /v1/simulation", h.simulationStatus)
	h.mux.HandleFunc("POST /v1/simulation/start", h.startSimulation)
	h.mux.HandleFunc("POST /v1/simulation/stop", h.stopSimulation)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /v1/stream", h.stream)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(deps.Logger, h.mux)
}

// POST /v1/transactions: score one transaction and wait for the result.
func (h *Handler) scoreTransaction(w http.ResponseWriter, r *http.Request) {
	var in txn.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := in.Normalize(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if n.TimestampFallback {
		w.Header().Set("X-Timestamp-Defaulted", "true")
		logging.L(r.Context()).Debug("timestamp missing or malformed, using arrival time",
			"txn_id", n.Transaction.ID, "timestamp", in.Timestamp)
	}

	res, err := h.Engine.ProcessSync(r.Context(), n.Transaction)
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, engine.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/transactions/batch: async batch ingestion (up to 100).
func (h *Handler) scoreBatch(w http.ResponseWriter, r *http.Request) {
	var inputs []txn.Input
	if err := decodeJSON(w, r, &inputs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one transaction")
		return
	}
	if len(inputs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(inputs), maxBatchSize))
		return
	}

	now := time.Now().UTC()
	queued, invalid := 0, []string{}
	ids := make([]string, 0, len(inputs))
	for i, in := range inputs {
		n, err := in.Normalize(now)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("[%d] %s", i, err))
			continue
		}
		if h.Engine.ProcessAsync(n.Transaction) {
			queued++
			ids = append(ids, n.Transaction.ID)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   uuid.NewString(),
		"total":    len(inputs),
		"queued":   queued,
		"rejected": len(inputs) - queued,
		"invalid":  invalid,
		"txn_ids":  ids,
	})
}

type predictionRequest struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	City string  `json:"city"`
	TopK int     `json:"top_k"`
}

// POST /v1/predictions: rank cash-out points around a location.
func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if math.Abs(req.Lat) > 90 || math.Abs(req.Lng) > 180 {
		writeError(w, http.StatusBadRequest, txn.ErrInvalidCoordinate.Error())
		return
	}
	tx := txn.Transaction{Lat: req.Lat, Lng: req.Lng, City: req.City}
	writeJSON(w, http.StatusOK, map[string]any{
		"predicted_atms": h.predictor().Predict(tx, h.Registry.All(), req.TopK),
	})
}

func (h *Handler) predictor() *predict.Predictor {
	if h.Predictor != nil {
		return h.Predictor
	}
	return h.Engine.Predictor()
}

// GET /v1/accounts/{id}
func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	recent, err := intQuery(r, "recent", defaultRecentEdges)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	acct, ok := h.Engine.Account(id, recent)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("account %q not seen", id))
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GET /v1/atms[?city=]
func (h *Handler) listATMs(w http.ResponseWriter, r *http.Request) {
	atms := h.Registry.All()
	if city := r.URL.Query().Get("city"); city != "" {
		atms = h.Registry.ByCity(city)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(atms),
		"cities": h.Registry.Cities(),
		"atms":   atms,
	})
}

// GET /v1/stats: dashboard counters.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Stats())
}

// GET /v1/alerts[?limit=]: most recent alerts, newest first.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert history disabled")
		return
	}
	limit, err := intQuery(r, "limit", defaultAlertLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  h.Alerts.Total(),
		"alerts": h.Alerts.Recent(limit),
	})
}

func (h *Handler) simulationStatus(w http.ResponseWriter, r *http.Request) {
	if h.Simulation == nil {
		writeError(w, http.StatusServiceUnavailable, "simulation not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.Simulation.Status())
}

func (h *Handler) startSimulation(w http.ResponseWriter, r *http.Request) {
	if h.Simulation == nil {
		writeError(w, http.StatusServiceUnavailable, "simulation not configured")
		return
	}
	// the runner outlives the request
	started := h.Simulation.Start(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"started": started,
		"status":  h.Simulation.Status(),
	})
}

func (h *Handler) stopSimulation(w http.ResponseWriter, r *http.Request) {
	if h.Simulation == nil {
		writeError(w, http.StatusServiceUnavailable, "simulation not configured")
		return
	}
	stopped := h.Simulation.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": stopped,
		"status":  h.Simulation.Status(),
	})
}

// POST /v1/config/reload: re-read the config file. Registered OnChange
// callbacks swap the scoring settings; restart_required names the changed
// settings that are only read at startup.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.Loader == nil {
		writeError(w, http.StatusServiceUnavailable, "config loader not configured")
		return
	}
	prev := h.Loader.Config()
	cfg, err := h.Loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	sc := h.Engine.Scoring()
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":         true,
		"restart_required": config.RestartRequired(prev, cfg),
		"version":         cfg.Version,
		"strategy":        sc.Adapter.Strategy(),
		"fraud_threshold": sc.Threshold,
	})
}

// GET /v1/stream: websocket feed of results and alerts.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	if h.Stream == nil {
		writeError(w, http.StatusServiceUnavailable, "stream disabled")
		return
	}
	h.Stream.ServeHTTP(w, r)
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.Engine.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > overloadedAt {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
		"strategy":          h.Engine.Scoring().Adapter.Strategy(),
	})
}
