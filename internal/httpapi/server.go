// Package httpapi serves the operational HTTP surface: health, readiness,
// pool status, Prometheus metrics, cache invalidation, and a raw request
// passthrough for debugging. The MCP transport on stdio is the primary
// surface; everything here is for operators.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adamcp/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Ready() bool
	InvalidateProject(root string) int
	// Submit routes a raw language-server request, bypassing the cache.
	Submit(ctx context.Context, root, method string, params json.RawMessage) (json.RawMessage, error)
}

// InvalidateRequest is the body of POST /invalidate.
type InvalidateRequest struct {
	ProjectRoot string `json:"project_root"`
}

// DebugRequest is the body of POST /debug/request.
type DebugRequest struct {
	ProjectRoot string          `json:"project_root"`
	Method      string          `json:"method"`
	Params      json.RawMessage `json:"params,omitempty"`
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(RequestLogger)
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/invalidate", func(w http.ResponseWriter, r *http.Request) {
		var req InvalidateRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ProjectRoot) == "" {
			writeJSONError(w, http.StatusBadRequest, "project_root is required")
			return
		}
		n := svc.InvalidateProject(req.ProjectRoot)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"invalidated": n})
	})

	r.Post("/debug/request", func(w http.ResponseWriter, r *http.Request) {
		var req DebugRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ProjectRoot) == "" || strings.TrimSpace(req.Method) == "" {
			writeJSONError(w, http.StatusBadRequest, "project_root and method are required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Submit(ctx, req.ProjectRoot, req.Method, req.Params)
		if err != nil {
			// Client disconnect or shutdown; nothing useful to write.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": res})
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSONBody enforces content type and size limits, then decodes into v.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
