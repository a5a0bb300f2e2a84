// Package api exposes the job-starting HTTP surface: uploads or file
// references come in, a job id goes out, and clients poll the job until it
// turns terminal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tariff-works/internal/config"
	"tariff-works/internal/jobs"
	"tariff-works/internal/pipeline"
	"tariff-works/internal/ratelimit"
	"tariff-works/internal/sheet"
	"tariff-works/internal/telemetry"
)

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// parts spill to disk.
const maxUploadMemory = 32 << 20

// Server wires HTTP handlers over the pipeline set.
type Server struct {
	cfg       config.Config
	pipelines *pipeline.Pipelines
	limiter   ratelimit.Limiter
	logger    zerolog.Logger
}

// New constructs the API server. limiter may be nil to disable throttling.
func New(cfg config.Config, pipelines *pipeline.Pipelines, limiter ratelimit.Limiter, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		pipelines: pipelines,
		limiter:   limiter,
		logger:    logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.With(s.throttle).Post("/start-inspection", s.handleStartInspection)
		r.With(s.throttle).Post("/start-source-inspection", s.handleStartSourceInspection)
		r.With(s.throttle).Post("/start-template-inspection", s.handleStartTemplateInspection)
		r.With(s.throttle).Post("/start-processing", s.handleStartProcessing)
		r.With(s.throttle).Post("/start-report-build", s.handleStartReportBuild)
		r.With(s.throttle).Post("/start-double-check", s.handleStartDoubleCheck)
		r.Get("/{jobID}/status", s.handleStatus)
		r.Delete("/{jobID}", s.handleCancel)
	})

	// Pre-flight validation is synchronous; no job record involved.
	r.With(s.throttle).Post("/files/validate", s.handleValidate)
	return r
}

// throttle applies the token bucket per client address on job-start routes.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "rate limit error")
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// startRequest is the common envelope of every job-start route: one uploaded
// file (or a fileRef) plus a route-specific JSON payload in the "request"
// form field or the JSON body.
type startRequest struct {
	fileRef string
	payload []byte
}

func (s *Server) handleStartInspection(w http.ResponseWriter, r *http.Request) {
	start, err := s.readStartRequest(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req pipeline.InspectRequest
	if err := decodePayload(start.payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.fileRef != "" {
		req.FileRef = start.fileRef
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "no file uploaded and no fileRef given")
		return
	}

	jobID, err := s.pipelines.Manager().Create(r.Context(), pipeline.TypeInspection, map[string]any{"fileRef": req.FileRef})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pipelines.Launch(jobID, func(ctx context.Context) (any, error) {
		return s.pipelines.RunInspection(ctx, jobID, req)
	})
	s.accepted(w, jobID)
}

func (s *Server) handleStartSourceInspection(w http.ResponseWriter, r *http.Request) {
	start, err := s.readStartRequest(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req pipeline.SourceInspectRequest
	if err := decodePayload(start.payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.fileRef != "" {
		req.FileRef = start.fileRef
	}
	if v := r.FormValue("headerRowCount"); v != "" && v != "auto" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "headerRowCount must be a number or \"auto\"")
			return
		}
		req.HeaderRowCount = n
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "no file uploaded and no fileRef given")
		return
	}

	jobID, err := s.pipelines.Manager().Create(r.Context(), pipeline.TypeSourceInspection, map[string]any{"fileRef": req.FileRef})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pipelines.Launch(jobID, func(ctx context.Context) (any, error) {
		return s.pipelines.RunSourceInspection(ctx, jobID, req)
	})
	s.accepted(w, jobID)
}

func (s *Server) handleStartTemplateInspection(w http.ResponseWriter, r *http.Request) {
	start, err := s.readStartRequest(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req pipeline.InspectRequest
	if err := decodePayload(start.payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.fileRef != "" {
		req.FileRef = start.fileRef
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "no file uploaded and no fileRef given")
		return
	}

	jobID, err := s.pipelines.Manager().Create(r.Context(), pipeline.TypeTemplateInspection, map[string]any{"fileRef": req.FileRef})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pipelines.Launch(jobID, func(ctx context.Context) (any, error) {
		return s.pipelines.RunTemplateInspection(ctx, jobID, req)
	})
	s.accepted(w, jobID)
}

func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	start, err := s.readStartRequest(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req pipeline.GroupingRequest
	if err := decodePayload(start.payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.fileRef != "" {
		req.FileRef = start.fileRef
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "no file uploaded and no fileRef given")
		return
	}
	if len(req.ClassMap) == 0 {
		writeError(w, http.StatusBadRequest, "classMap is required")
		return
	}

	jobID, err := s.pipelines.Manager().Create(r.Context(), pipeline.TypeProcessing, map[string]any{"fileRef": req.FileRef, "sheet": req.Sheet})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pipelines.Launch(jobID, func(ctx context.Context) (any, error) {
		return s.pipelines.RunProcessing(ctx, jobID, req)
	})
	s.accepted(w, jobID)
}

func (s *Server) handleStartReportBuild(w http.ResponseWriter, r *http.Request) {
	start, err := s.readStartRequest(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req pipeline.ReportRequest
	if err := decodePayload(start.payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.fileRef != "" {
		req.FileRef = start.fileRef
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "no file uploaded and no fileRef given")
		return
	}
	if len(req.Mappings) == 0 {
		writeError(w, http.StatusBadRequest, "mappings are required")
		return
	}

	jobID, err := s.pipelines.Manager().Create(r.Context(), pipeline.TypeReportBuild, map[string]any{"fileRef": req.FileRef})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pipelines.Launch(jobID, func(ctx context.Context) (any, error) {
		return s.pipelines.RunReportBuild(ctx, jobID, req)
	})
	s.accepted(w, jobID)
}

func (s *Server) handleStartDoubleCheck(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CompareRequest

	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		if err := decodePayload([]byte(r.FormValue("request")), &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for field, dst := range map[string]*string{"original": &req.OriginalRef, "processed": &req.ProcessedRef} {
			path, err := s.saveUpload(r, field)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if path != "" {
				*dst = path
			}
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.OriginalRef == "" || req.ProcessedRef == "" {
		writeError(w, http.StatusBadRequest, "both original and processed files are required")
		return
	}

	jobID, err := s.pipelines.Manager().Create(r.Context(), pipeline.TypeDoubleCheck, map[string]any{
		"originalRef":  req.OriginalRef,
		"processedRef": req.ProcessedRef,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pipelines.Launch(jobID, func(ctx context.Context) (any, error) {
		return s.pipelines.RunDoubleCheck(ctx, jobID, req)
	})
	s.accepted(w, jobID)
}

type validateRequest struct {
	FileRef  string            `json:"fileRef"`
	Sheet    string            `json:"sheet,omitempty"`
	ClassMap map[string]string `json:"classMap"`
}

// handleValidate runs the pre-flight sheet checks and returns the verdict
// inline, so clients can surface problems before committing to a run.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	start, err := s.readStartRequest(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req validateRequest
	if err := decodePayload(start.payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.fileRef != "" {
		req.FileRef = start.fileRef
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "no file uploaded and no fileRef given")
		return
	}

	result, err := s.pipelines.ValidateFile(r.Context(), req.FileRef, req.Sheet, req.ClassMap)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "validation": result})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	status, found, err := s.pipelines.Manager().GetStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": status})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	err := s.pipelines.Manager().Cancel(r.Context(), jobID)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrInvalidState):
		writeError(w, http.StatusConflict, "job already finished")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "cancelled"})
	}
}

// readStartRequest accepts either a multipart form (uploaded file in
// fileField, route payload JSON in the "request" field) or a plain JSON body
// carrying a fileRef.
func (s *Server) readStartRequest(r *http.Request, fileField string) (startRequest, error) {
	if !isMultipart(r) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxUploadMemory))
		if err != nil {
			return startRequest{}, fmt.Errorf("read body: %w", err)
		}
		return startRequest{payload: payload}, nil
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return startRequest{}, errors.New("invalid multipart form")
	}
	path, err := s.saveUpload(r, fileField)
	if err != nil {
		return startRequest{}, err
	}
	return startRequest{
		fileRef: path,
		payload: []byte(r.FormValue("request")),
	}, nil
}

// saveUpload stores one uploaded file under the upload dir and returns its
// path; ("", nil) when the field is absent.
func (s *Server) saveUpload(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read upload %q: %w", field, err)
	}
	defer file.Close()

	if !validUpload(header) {
		return "", fmt.Errorf("unsupported file type for %q; only .xlsx/.xls accepted", field)
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), filepath.Base(header.Filename))
	path := filepath.Join(s.cfg.UploadDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

func validUpload(header *multipart.FileHeader) bool {
	if sheet.ValidMimeType(header.Header.Get("Content-Type")) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	return ext == ".xlsx" || ext == ".xls"
}

func decodePayload(payload []byte, dst any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("invalid request payload: %w", err)
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// accepted acknowledges a started job.
func (s *Server) accepted(w http.ResponseWriter, jobID string) {
	s.logger.Info().Str("job_id", jobID).Msg("job accepted")
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "jobId": jobID})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}
