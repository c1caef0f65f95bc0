package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartnotes/internal/indexing"
	"smartnotes/internal/rbac"
)

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	trustSystem bool
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// TrustSystemViewer lets callers act as the system viewer by sending
// X-User-ID 0. It is off unless the gateway strips that value from clients.
func (s *HTTPServer) TrustSystemViewer(trust bool) *HTTPServer {
	s.trustSystem = trust
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 4 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid id", nil)
		return
	}

	viewerID, ok := s.requireViewer(w, r)
	if !ok {
		return
	}

	switch {
	case len(parts) == 4 && parts[1] == "resources":
		s.handleResource(w, r, viewerID, id, parts[3])
		return
	case len(parts) == 4 && parts[1] == "folders":
		s.handleFolder(w, r, viewerID, id, parts[3])
		return
	case len(parts) == 4 && parts[1] == "groups" && parts[3] == "search" && r.Method == http.MethodGet:
		response, err := s.service.SearchGroup(r.Context(), viewerID, id, r.URL.Query().Get("query"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleResource(w http.ResponseWriter, r *http.Request, viewerID, resourceID int64, action string) {
	switch {
	case action == "keywords" && r.Method == http.MethodPost:
		status, err := s.service.RequestIndexing(r.Context(), viewerID, resourceID)
		s.writeIndexingStatus(w, resourceID, status, err)
		return

	case action == "keywords" && r.Method == http.MethodGet:
		payload, err := s.service.Keywords(r.Context(), viewerID, resourceID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case action == "reindex" && r.Method == http.MethodPost:
		status, err := s.service.Reindex(r.Context(), viewerID, resourceID)
		s.writeIndexingStatus(w, resourceID, status, err)
		return

	case action == "index" && r.Method == http.MethodDelete:
		folderID, err := strconv.ParseInt(r.URL.Query().Get("folderId"), 10, 64)
		if err != nil || folderID <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folderId is required", nil)
			return
		}
		if err := s.service.ForgetResource(r.Context(), viewerID, folderID, resourceID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFolder(w http.ResponseWriter, r *http.Request, viewerID, folderID int64, action string) {
	switch {
	case action == "search" && r.Method == http.MethodGet:
		response, err := s.service.SearchFolder(r.Context(), viewerID, folderID, r.URL.Query().Get("query"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return

	case action == "index" && r.Method == http.MethodDelete:
		if err := s.service.DropFolderIndex(r.Context(), viewerID, folderID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// A failing snapshot cache is reported but does not fail readiness.
	if configured, err := s.service.PingCache(ctx); configured {
		if err != nil {
			checks["cache"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["cache"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) writeIndexingStatus(w http.ResponseWriter, resourceID int64, status indexing.Status, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	payload := map[string]any{"resourceId": resourceID, "status": status}
	switch status {
	case indexing.StatusQueued:
		writeJSON(w, http.StatusAccepted, payload)
	case indexing.StatusNotFound:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", payload)
	default:
		writeJSON(w, http.StatusOK, payload)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

// requireViewer reads the caller id set by the upstream gateway.
func (s *HTTPServer) requireViewer(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing X-User-ID header", nil)
		return 0, false
	}
	viewerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || viewerID < 0 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid X-User-ID header", nil)
		return 0, false
	}
	if viewerID == rbac.SystemViewer && !s.trustSystem {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "System viewer is not allowed", nil)
		return 0, false
	}
	return viewerID, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
