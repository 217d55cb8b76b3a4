package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/multiscrape/internal/batch"
	"github.com/sells-group/multiscrape/internal/fallback"
	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/monitoring"
	"github.com/sells-group/multiscrape/internal/store"
)

// maxBatchQueries caps one batch request.
const maxBatchQueries = 100

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// scrapeEngine is the part of the orchestrator the API needs.
type scrapeEngine interface {
	Run(ctx context.Context, q model.Query) model.RunResult
	Providers() []string
	Stats() map[string]fallback.ProviderStats
}

// api serves the scraper HTTP endpoints.
type api struct {
	engine  scrapeEngine
	batch   *batch.Processor
	runs    store.RunLog
	metrics *monitoring.Metrics
}

// routerConfig holds the server-level knobs the router applies.
type routerConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// newRouter builds the chi router with middleware and all routes.
func newRouter(a *api, rc routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if a.metrics != nil {
		r.Use(requestMetrics(a.metrics))
	}
	if len(rc.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: rc.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", a.health)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}

	r.Route("/api/scraper", func(r chi.Router) {
		if rc.RequestTimeout > 0 {
			r.Use(middleware.Timeout(rc.RequestTimeout))
		}
		r.Post("/scrape", a.scrape)
		r.Post("/batch", a.submitBatch)
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/{id}", a.getJob)
		r.Get("/stats", a.stats)
		r.Get("/runs", a.listRuns)
	})
	return r
}

// scrapeRequest is the body of POST /api/scraper/scrape and one element
// of a batch request.
type scrapeRequest struct {
	Query      string         `json:"query"`
	Type       string         `json:"type"`
	MaxResults int            `json:"maxResults"`
	Filters    map[string]any `json:"filters,omitempty"`
}

func (req scrapeRequest) toQuery() (model.Query, error) {
	kind, err := model.ParseKind(req.Type)
	if err != nil {
		return model.Query{}, err
	}
	q := model.NewQuery(req.Query, kind)
	q.MaxResults = req.MaxResults
	q.Filters = req.Filters
	if err := q.Validate(); err != nil {
		return model.Query{}, err
	}
	return q, nil
}

type scrapeResponse struct {
	model.RunResult
	Error string `json:"error,omitempty"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := req.toQuery()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := a.engine.Run(r.Context(), q)
	if a.runs != nil {
		logRun(r.Context(), a.runs, q, res, store.SourceAPI)
	}

	if res.Records == nil {
		res.Records = []model.Record{}
	}
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, scrapeResponse{RunResult: res, Error: "all scraping tools failed"})
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{RunResult: res})
}

func (a *api) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Queries []scrapeRequest `json:"queries"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Queries) == 0 || len(req.Queries) > maxBatchQueries {
		writeError(w, http.StatusBadRequest, "queries must hold between 1 and "+strconv.Itoa(maxBatchQueries)+" entries")
		return
	}

	queries := make([]model.Query, 0, len(req.Queries))
	for i, sr := range req.Queries {
		q, err := sr.toQuery()
		if err != nil {
			writeError(w, http.StatusBadRequest, "queries["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		queries = append(queries, q)
	}

	job, err := a.batch.Submit(r.Context(), queries)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "job": job})
}

func (a *api) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobs": a.batch.List()})
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.batch.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   a.engine.Providers(),
		"stats":   a.engine.Stats(),
	})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "runs": []store.Run{}})
		return
	}

	qs := r.URL.Query()
	filter := store.RunFilter{
		Provider: qs.Get("tool"),
		Source:   qs.Get("source"),
		JobID:    qs.Get("job"),
	}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := qs.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "success must be true or false")
			return
		}
		filter.Success = &b
	}

	runs, err := a.runs.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runs": runs})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
