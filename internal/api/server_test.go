package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariff-works/internal/config"
	"tariff-works/internal/fetch"
	"tariff-works/internal/jobs"
	"tariff-works/internal/jobstore"
	"tariff-works/internal/models"
	"tariff-works/internal/pipeline"
	"tariff-works/internal/ratelimit"
	"tariff-works/internal/sheet"
)

func newTestServer(t *testing.T, limiter ratelimit.Limiter) (*Server, *pipeline.Pipelines) {
	t.Helper()
	cfg := config.Config{
		ChunkInspection:  100,
		ChunkProcessing:  2,
		ChunkReport:      2,
		ChunkDoubleCheck: 2,
		UploadDir:        t.TempDir(),
		OutputDir:        t.TempDir(),
	}
	manager := jobs.NewManager(jobstore.New(nil), zerolog.Nop())
	pipelines := pipeline.New(cfg, manager, fetch.New(cfg), zerolog.Nop())
	return New(cfg, pipelines, limiter, zerolog.Nop()), pipelines
}

// writeSourceWorkbook builds a small price list on disk for pipeline runs.
func writeSourceWorkbook(t *testing.T) string {
	t.Helper()
	path, err := sheet.WriteWorkbook(t.TempDir(), "Source", "Tarif",
		[]string{"KODE", "NAMA", "KELAS", "HARGA"},
		[][]any{
			{"A1", "Paracetamol", "REGULER", 1000},
			{"A1", "Paracetamol", "VIP", 2500},
			{"A2", "Ibuprofen", "REGULER", 1500},
		})
	require.NoError(t, err)
	return path
}

func pollUntilTerminal(t *testing.T, router http.Handler, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			OK  bool           `json:"ok"`
			Job map[string]any `json:"job"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		if status, _ := body.Job["status"].(string); models.Terminal(status) {
			return body.Job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/nope/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
}

func TestCancelRoutes(t *testing.T) {
	srv, pipelines := newTestServer(t, nil)
	router := srv.Router()
	ctx := context.Background()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Pending jobs cancel.
	jobID, err := pipelines.Manager().Create(ctx, pipeline.TypeProcessing, nil)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Finished jobs do not.
	jobID, err = pipelines.Manager().Create(ctx, pipeline.TypeProcessing, nil)
	require.NoError(t, err)
	require.NoError(t, pipelines.Manager().Complete(ctx, jobID, "done"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartProcessingEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()
	path := writeSourceWorkbook(t)

	payload := pipeline.GroupingRequest{
		FileRef:  path,
		Sheet:    "Tarif",
		Mappings: pipeline.ColumnMappings{Code: "KODE", Name: "NAMA", Class: "KELAS", Price: "HARGA"},
		ClassMap: map[string]string{"REGULER": "OPD", "VIP": "VIP"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/start-processing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started struct {
		OK    bool   `json:"ok"`
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.True(t, started.OK)
	require.NotEmpty(t, started.JobID)

	job := pollUntilTerminal(t, router, started.JobID)
	require.Equal(t, models.StatusCompleted, job["status"], "job: %v", job)

	result, ok := job["result"].(map[string]any)
	require.True(t, ok)
	summary, ok := result["summary"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, summary["totalRowsRead"])
	assert.EqualValues(t, 2, summary["uniqueItemCount"])

	outputFile, _ := result["outputFile"].(string)
	require.NotEmpty(t, outputFile)
	_, err = os.Stat(outputFile)
	assert.NoError(t, err, "output workbook written")
}

func TestStartProcessingMultipartUpload(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()
	data, err := os.ReadFile(writeSourceWorkbook(t))
	require.NoError(t, err)

	payload, err := json.Marshal(pipeline.GroupingRequest{
		Sheet:    "Tarif",
		Mappings: pipeline.ColumnMappings{Code: "KODE", Name: "NAMA", Class: "KELAS", Price: "HARGA"},
		ClassMap: map[string]string{"REGULER": "OPD", "VIP": "VIP"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "tarif.xlsx")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, form.WriteField("request", string(payload)))
	require.NoError(t, form.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/start-processing", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	job := pollUntilTerminal(t, router, started.JobID)
	assert.Equal(t, models.StatusCompleted, job["status"], "job: %v", job)
}

func TestStartProcessingRequiresClassMap(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	body := []byte(`{"fileRef":"somewhere.xlsx"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/start-processing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartInspectionRequiresFile(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/start-inspection", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateFile(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()
	path := writeSourceWorkbook(t)

	body, err := json.Marshal(validateRequest{
		FileRef:  path,
		Sheet:    "Tarif",
		ClassMap: map[string]string{"REGULER": "OPD", "VIP": "VIP"},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OK         bool                   `json:"ok"`
		Validation sheet.ValidationResult `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Validation.Valid, "clean sheet passes: %+v", resp.Validation)
}

func TestValidateFileMissingFile(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	body := []byte(`{"fileRef":"/does/not/exist.xlsx"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/files/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStartRoutesRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, ratelimit.NewLocalBucket(1, 0))
	router := srv.Router()

	for i, want := range []int{http.StatusBadRequest, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/jobs/start-inspection", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.0.0.9:1234"
		router.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, fmt.Sprintf("request %d", i+1))
	}

	// Status polling is never throttled.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/nope/status", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
