package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/medreason"
	"github.com/brunobiangulo/medreason/parser"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 20 << 20

type handler struct {
	engine medreason.Engine
}

func newHandler(e medreason.Engine) *handler {
	return &handler{engine: e}
}

func (h *handler) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /documents", h.handleProcessDocument)
	mux.HandleFunc("POST /analyze", h.handleAnalyze)
	mux.HandleFunc("GET /medicines", h.handleSearchMedicine)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /analyses", h.handleHistory)
	mux.HandleFunc("GET /health", h.handleHealth)
}

// POST /documents
// Accepts a multipart upload in the "file" field, or the raw document as
// the request body with its Content-Type and an optional ?name=.
func (h *handler) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var a parser.Artifact
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart upload")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		// Sanitise filename to prevent path traversal in logs and output.
		name := filepath.Base(header.Filename)
		a = parser.Artifact{
			Name:      name,
			MediaType: detectMediaType(name, header.Header.Get("Content-Type"), data),
			Data:      data,
		}
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "document too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		name := "upload"
		if n := r.URL.Query().Get("name"); n != "" {
			name = filepath.Base(n)
		}
		a = parser.Artifact{
			Name:      name,
			MediaType: detectMediaType(name, r.Header.Get("Content-Type"), data),
			Data:      data,
		}
	}
	if len(a.Data) == 0 {
		writeError(w, http.StatusBadRequest, "document is empty")
		return
	}

	doc, err := h.engine.ProcessDocument(ctx, a)
	if err != nil {
		class := medreason.Classify(err)
		slog.Warn("http: process document failed",
			"name", a.Name, "media_type", a.MediaType, "class", class, "error", err,
			"request_id", requestID(r.Context()))
		writeJSON(w, statusFor(class), map[string]string{
			"error":       err.Error(),
			"error_class": string(class),
		})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// POST /analyze
func (h *handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string `json:"text"`
		ReportType string `json:"report_type,omitempty"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	resp := h.engine.AnalyzeReport(r.Context(), req.Text, req.ReportType)
	writeResponse(w, resp)
}

// GET /medicines?q=
func (h *handler) handleSearchMedicine(w http.ResponseWriter, r *http.Request) {
	resp := h.engine.SearchMedicine(r.Context(), r.URL.Query().Get("q"))
	writeResponse(w, resp)
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read statistics")
		slog.Error("http: stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /analyses?limit=
func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	recs, err := h.engine.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		slog.Error("http: history error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": recs})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusFor maps an error class onto an HTTP status.
func statusFor(class medreason.ErrorClass) int {
	switch class {
	case "":
		return http.StatusOK
	case medreason.ClassConfiguration:
		return http.StatusServiceUnavailable
	case medreason.ClassUnsupportedInput:
		return http.StatusUnsupportedMediaType
	case medreason.ClassInvalidInput:
		return http.StatusBadRequest
	case medreason.ClassNotFound:
		return http.StatusNotFound
	case medreason.ClassExternalService:
		return http.StatusBadGateway
	case medreason.ClassCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func writeResponse(w http.ResponseWriter, resp *medreason.AIResponse) {
	status := http.StatusOK
	if !resp.Success {
		status = statusFor(resp.ErrorClass)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
