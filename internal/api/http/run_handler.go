// internal/api/http/run_handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"minutebars/internal/domain"
	"minutebars/internal/metrics"
	"minutebars/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatusFunc reports the node state shown by /healthz.
type StatusFunc func() HealthResponse

// RunHandler 负责处理与运行历史相关的 HTTP 请求。
type RunHandler struct {
	service  *usecase.RunService
	status   StatusFunc
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewRunHandler 创建一个新的 RunHandler。status may be nil.
func NewRunHandler(service *usecase.RunService, status StatusFunc, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		service:  service,
		status:   status,
		logger:   logger.With("component", "run-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("minutebars-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers /runs, /runs/{id} and /healthz on mux.
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/runs", h.instrument("/runs", http.HandlerFunc(h.handleRuns)))
	mux.Handle("/runs/", h.instrument("/runs/{id}", http.HandlerFunc(h.handleRuns)))
	mux.Handle("/healthz", h.instrument("/healthz", http.HandlerFunc(h.handleHealth)))
}

func (h *RunHandler) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

// handleRuns dispatches /runs and /runs/{id}
func (h *RunHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// /runs/abc -> ["runs", "abc"]
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(pathParts) == 1 && pathParts[0] == "runs":
		h.handleListRuns(w, r)
	case len(pathParts) == 2 && pathParts[0] == "runs" && pathParts[1] != "":
		h.handleGetRun(w, r, pathParts[1])
	default:
		http.NotFound(w, r)
	}
}

// handleListRuns handles GET /runs?page=&pageSize=
func (h *RunHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListRuns")
	defer span.End()

	query := ListRunsQuery{Page: 1, PageSize: 20}
	if v := r.URL.Query().Get("page"); v != "" {
		query.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("pageSize"); v != "" {
		query.PageSize, _ = strconv.Atoi(v)
	}

	if err := h.validate.Struct(query); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				validationErrors = append(validationErrors,
					"Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.",
				)
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"details": validationErrors,
		})
		return
	}
	span.SetAttributes(attribute.Int("page", query.Page), attribute.Int("page_size", query.PageSize))

	records, err := h.service.List(ctx, query.Page, query.PageSize)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to list runs from service")
		span.RecordError(err)
		h.logger.Error("error listing runs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := ListRunsResponse{Page: query.Page, PageSize: query.PageSize, Runs: make([]RunResponse, 0, len(records))}
	for _, rec := range records {
		resp.Runs = append(resp.Runs, ToRunResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RunHandler) handleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	record, err := h.service.Get(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to get run from service")
		span.RecordError(err)
		if errors.Is(err, domain.ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("error getting run", "run_id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ToRunResponse(record))
}

func (h *RunHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.status != nil {
		resp = h.status()
		resp.Status = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
