package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ai/stub"
	httpserver "github.com/fairyhunter13/feedback-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/repo/jsonfile"
	"github.com/fairyhunter13/feedback-analyzer/internal/adapter/ws"
	"github.com/fairyhunter13/feedback-analyzer/internal/config"
	"github.com/fairyhunter13/feedback-analyzer/internal/domain"
	"github.com/fairyhunter13/feedback-analyzer/internal/usecase"
)

func newTestServer(t *testing.T) (*httpserver.Server, *jsonfile.RecordStore) {
	t.Helper()
	dir := t.TempDir()
	records := jsonfile.NewRecordStore(filepath.Join(dir, "feedback.json"))
	analyzer := usecase.NewAnalyzer(stub.New(), 256)

	cfg := config.Config{AppEnv: "test", MaxUploadMB: 10, BulkRateLimitRPM: 600, BulkBatchSize: 10, BulkMaxConcurrency: 4}
	feedbackSvc := usecase.NewFeedbackService(records, analyzer)
	metricsSvc := usecase.NewMetricsService(records)
	bulkSvc := usecase.NewBulkService(records, analyzer)
	bulkSvc.Sleep = func(domain.Context, time.Duration) error { return nil }

	srv := httpserver.NewServer(cfg, feedbackSvc, metricsSvc, bulkSvc, ws.NewBroadcaster(), func(ctx domain.Context) error {
		_, err := records.ReadAll(ctx)
		return err
	})
	return srv, records
}

func TestSubmitHandler_Success(t *testing.T) {
	t.Parallel()
	srv, records := newTestServer(t)

	body := `{"text":"The staff was great and very helpful"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.SubmitHandler()(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res struct {
		Record domain.FeedbackRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Record.ID)
	assert.Equal(t, domain.SentimentPositive, res.Record.Sentiment)
	assert.NotEmpty(t, res.Record.Summary)

	stored, err := records.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSubmitHandler_EmptyTextRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(`{"text":""}`))
	rr := httptest.NewRecorder()
	srv.SubmitHandler()(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "INVALID_ARGUMENT")
}

func TestSubmitHandler_BadJSONRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(`{`))
	rr := httptest.NewRecorder()
	srv.SubmitHandler()(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryHandler_Empty(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rr := httptest.NewRecorder()
	srv.HistoryHandler()(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestMetricsHandler_Shape(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rr := httptest.NewRecorder()
	srv.MetricsHandler()(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var m usecase.Metrics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	assert.Len(t, m.SubmissionsByTime, 12)
	assert.Len(t, m.SentimentDistribution, 3)
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestBulkHandler_CSV(t *testing.T) {
	t.Parallel()
	srv, records := newTestServer(t)

	body, contentType := multipartUpload(t, "feedback.csv", "text\nGreat staff today\nThe wait was terrible\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/bulk", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	srv.BulkHandler()(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res usecase.BulkResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Success, 2)
	assert.Empty(t, res.Failed)

	stored, err := records.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestBulkHandler_QueryKnobValidation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "feedback.json", `[{"text":"hello there friend"}]`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/bulk?batch_size=999", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	srv.BulkHandler()(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "batch_size")
}

func TestBulkHandler_MissingFile(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/bulk", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.BulkHandler()(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBulkHandler_WrongContentType(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/bulk", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.BulkHandler()(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReadyzHandler_OK(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	srv.ReadyzHandler()(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ready":true`)
}

func TestRootHandler_Banner(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	srv.RootHandler()(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "feedback-analyzer")
}
