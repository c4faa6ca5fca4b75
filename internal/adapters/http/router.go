package httpadapter

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/config"
	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/report"
	"github.com/kirillkom/cdr-backoffice/internal/observability/metrics"
)

const (
	maxInFlightRequests = 64
	backpressureWait    = 100 * time.Millisecond
)

// Services are the use cases exposed over HTTP. Metrics is optional.
type Services struct {
	Reports     ports.ReportReader
	Scanner     ports.DocumentScanner
	Retry       ports.RetryService
	Maintenance ports.MaintenanceService
	Queue       ports.TaskQueue
	Metrics     *metrics.HTTPServerMetrics
}

type Router struct {
	cfg config.Config
	svc Services
}

func NewRouter(cfg config.Config, svc Services) *Router {
	return &Router{cfg: cfg, svc: svc}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/documents/stats", rt.documentStats)
	api.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	api.HandleFunc("GET /v1/documents/{id}/bad-cases.xlsx", rt.exportBadCases)
	api.HandleFunc("POST /v1/documents/scan", rt.scan)
	api.HandleFunc("POST /v1/documents/{id}/retry", rt.retryDocument)
	api.HandleFunc("POST /v1/maintenance/sweep", rt.sweep)
	api.HandleFunc("POST /v1/maintenance/orphans", rt.reconcileOrphans)
	api.HandleFunc("GET /v1/bad-cases/stats", rt.badCaseStats)
	api.HandleFunc("GET /v1/bad-cases/{id}", rt.getBadCase)
	api.HandleFunc("POST /v1/bad-cases/{id}/retry", rt.retryBadCase)

	limited := rateLimitMiddleware(
		backpressureMiddleware(api, maxInFlightRequests, backpressureWait),
		rt.cfg.APIRateLimitRPS,
		rt.cfg.APIRateLimitBurst,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("/v1/", limited)

	var handler http.Handler = mux
	if rt.svc.Metrics != nil {
		mux.Handle("GET /metrics", rt.svc.Metrics.Handler())
		handler = rt.svc.Metrics.Middleware("api", handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type documentView struct {
	*domain.Document
	ProgressPercentage float64 `json:"progress_percentage"`
	SuccessRate        float64 `json:"success_rate"`
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.svc.Reports.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentView{
		Document:           doc,
		ProgressPercentage: doc.ProgressPercentage(),
		SuccessRate:        doc.SuccessRate(),
	})
}

func (rt *Router) documentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.svc.Reports.DocumentStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) exportBadCases(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := rt.svc.Reports.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cases, err := rt.svc.Reports.ListBadCasesByDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Render fully before writing headers so a failure still yields a JSON error.
	var buf bytes.Buffer
	if err := report.WriteBadCases(&buf, doc, cases); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="bad_cases_`+doc.ID+`.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) scan(w http.ResponseWriter, r *http.Request) {
	if isAsync(r) {
		rt.publish(w, r, domain.Task{Type: domain.TaskScan})
		return
	}
	result, err := rt.svc.Scanner.ScanNewFiles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) retryDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := rt.svc.Retry.RetryDocument(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "status": string(domain.StatusPending)})
}

func (rt *Router) sweep(w http.ResponseWriter, r *http.Request) {
	deleted, err := rt.svc.Maintenance.SweepSucceeded(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (rt *Router) reconcileOrphans(w http.ResponseWriter, r *http.Request) {
	result, err := rt.svc.Maintenance.ReconcileOrphans(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getBadCase(w http.ResponseWriter, r *http.Request) {
	bc, err := rt.svc.Reports.GetBadCase(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

func (rt *Router) badCaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.svc.Reports.BadCaseStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) retryBadCase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if isAsync(r) {
		rt.publish(w, r, domain.Task{Type: domain.TaskRetryBadCase, BadCaseID: id})
		return
	}
	ok, message, err := rt.svc.Retry.RetryBadCase(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bad_case_id": id, "success": ok, "message": message})
}

func (rt *Router) publish(w http.ResponseWriter, r *http.Request, task domain.Task) {
	if rt.svc.Queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "task queue is not configured"})
		return
	}
	task.EnqueuedAt = time.Now().UTC()
	if err := rt.svc.Queue.Publish(r.Context(), task); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrTemporary, "publish task", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task": string(task.Type), "status": "queued"})
}

func isAsync(r *http.Request) bool {
	v := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("async")))
	return v == "1" || v == "true"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(status, err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
