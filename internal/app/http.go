package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"moonbase/api/internal/auth"
	"moonbase/api/internal/search"
)

const (
	maxJSONBodySize    = 1 << 20
	maxWebhookBodySize = 1 << 20
	maxUploadSize      = 256 << 20
	adminKeyHeader     = "X-Moonbase-Admin-Key"
	deliveryIDHeader   = "X-Discourse-Event-Id"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Ping(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/webhook" {
		s.handleWebhook(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/upload" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "UPLOAD_FAILED", "Upload Failed.", nil)
			return
		}
		defer file.Close()
		handle, err := s.service.StageUpload(file)
		if err != nil {
			log.Printf("upload: %v", err)
			writeError(w, http.StatusInternalServerError, "UPLOAD_FAILED", "Upload Failed.", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"filename": handle})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/submit" {
		s.handleSubmit(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/approve" {
		var body struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Key     string `json:"key"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if !s.requireAdmin(w, r, body.Key) {
			return
		}
		if strings.TrimSpace(body.Name) == "" || strings.TrimSpace(body.Version) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name and version are required", nil)
			return
		}
		result, err := s.service.Approve(r.Context(), body.Name, body.Version, "admin")
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reject" {
		var body struct {
			RejectInput
			Key string `json:"key"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if !s.requireAdmin(w, r, body.Key) {
			return
		}
		result, err := s.service.Reject(r.Context(), body.RejectInput, "admin")
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		writeJSON(w, http.StatusOK, s.service.Search(search.Query{
			Text:     strings.TrimSpace(query.Get("q")),
			Category: strings.TrimSpace(query.Get("category")),
			Platform: strings.TrimSpace(query.Get("platform")),
			Limit:    parseLimit(query.Get("limit"), 20, 100),
			Offset:   parseLimit(query.Get("offset"), 0, 10000),
		}))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/events" {
		query := r.URL.Query()
		events, err := s.service.Events(r.Context(), strings.TrimSpace(query.Get("project")), parseLimit(query.Get("limit"), 100, 500))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/manifests/history" {
		commits, err := s.service.ManifestHistory(parseLimit(r.URL.Query().Get("limit"), 50, 200))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := decodeBody(w, r, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return
	}

	presented := r.Header.Get(adminKeyHeader)
	if raw, ok := fields["key"]; ok {
		var key string
		if json.Unmarshal(raw, &key) == nil && presented == "" {
			presented = key
		}
		delete(fields, "key")
	}
	privileged := presented != "" && auth.VerifyAdminKey(s.service.AdminKeyHash(), presented) == nil

	metadata, err := DecodeMetadata(fields)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	result, err := s.service.Submit(r.Context(), metadata, privileged)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			log.Printf("submit %s %s: %v", metadata.Name, metadata.Version, err)
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWebhook always answers 200 with an empty body so senders learn
// nothing about why a delivery was dropped.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		log.Printf("webhook: read body: %v", err)
		return
	}
	resolution := s.service.HandleWebhook(r.Context(), body, r.Header.Get(auth.SignatureHeader), r.Header.Get(deliveryIDHeader))
	if resolution.Project != "" {
		log.Printf("webhook: %s for %s %s", resolution.Outcome, resolution.Project, resolution.Version)
	} else {
		log.Printf("webhook: %s", resolution.Outcome)
	}
}

func (s *HTTPServer) requireAdmin(w http.ResponseWriter, r *http.Request, bodyKey string) bool {
	presented := r.Header.Get(adminKeyHeader)
	if presented == "" {
		presented = bodyKey
	}
	if err := auth.VerifyAdminKey(s.service.AdminKeyHash(), presented); err != nil {
		log.Printf("auth: rejected admin request to %s", r.URL.Path)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
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
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(p)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+adminKeyHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseLimit(raw string, fallback, ceiling int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return fallback
	}
	if value > ceiling {
		return ceiling
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Reason, map[string]any{"field": validationErr.Field}
	}
	var duplicateErr *DuplicateVersionError
	if errors.As(err, &duplicateErr) {
		return http.StatusConflict, "DUPLICATE_VERSION", duplicateErr.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
