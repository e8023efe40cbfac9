package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplens/croplens/internal/batch"
	"github.com/croplens/croplens/internal/imageref"
	"github.com/croplens/croplens/internal/predict"
	"github.com/croplens/croplens/internal/provider"
	"github.com/croplens/croplens/internal/selector"
)

// stubPipeline returns a canned result or error for every prediction.
type stubPipeline struct {
	result *predict.Result
	err    error
	// lastOpts records the options of the most recent call.
	lastOpts predict.Options
	// lastImg records the most recent image input.
	lastImg imageref.Image
}

func (s *stubPipeline) Predict(ctx context.Context, img imageref.Image, opts predict.Options) (*predict.Result, error) {
	s.lastImg = img
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func samplePrediction() *predict.Result {
	return &predict.Result{
		ChosenModel:    selector.ModelRice,
		Confidence:     0.87654321,
		Detections:     nil,
		DetectionCount: 1,
		Metadata: predict.Metadata{
			RiceConfidence:  0.87654321,
			WheatConfidence: 0.12349999,
		},
	}
}

func newTestServer(p predictorInterface) *Server {
	return NewServer(p, Config{
		MaxUploadMB: 16,
		TimeoutSec:  30,
		BatchConfig: batch.DefaultConfig(),
	})
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(&stubPipeline{result: samplePrediction()})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.healthHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "croplens", resp.Service)
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.Time)
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(&stubPipeline{})

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	srv.healthHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestPredictHandler_MultipartUpload(t *testing.T) {
	stub := &stubPipeline{result: samplePrediction()}
	srv := newTestServer(stub)

	body, contentType := multipartBody(t, "leaf.jpg", []byte("fake image"), nil)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp predict.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, selector.ModelRice, resp.ChosenModel)
	// Confidences come back rounded to 4 decimals.
	assert.InDelta(t, 0.8765, resp.Confidence, 1e-9)
	assert.InDelta(t, 0.1235, resp.Metadata.WheatConfidence, 1e-9)

	assert.True(t, stub.lastOpts.UseCache)
	assert.False(t, stub.lastImg.IsURL())
}

func TestPredictHandler_MultipartCacheOptOut(t *testing.T) {
	stub := &stubPipeline{result: samplePrediction()}
	srv := newTestServer(stub)

	body, contentType := multipartBody(t, "leaf.jpg", []byte("fake image"), map[string]string{"use_cache": "false"})
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, stub.lastOpts.UseCache)
}

func TestPredictHandler_JSONImageURL(t *testing.T) {
	stub := &stubPipeline{result: samplePrediction()}
	srv := newTestServer(stub)

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"image_url": "https://example.com/leaf.jpg", "use_cache": false}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, stub.lastImg.IsURL())
	assert.Equal(t, "https://example.com/leaf.jpg", stub.lastImg.URL())
	assert.False(t, stub.lastOpts.UseCache)
}

func TestPredictHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"missing image_url", "application/json", `{}`},
		{"invalid json", "application/json", `{`},
		{"bad url", "application/json", `{"image_url": "not-a-url"}`},
		{"unsupported content type", "text/plain", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubPipeline{result: samplePrediction()})

			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			srv.predictHandler(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestPredictHandler_DisallowedFileType(t *testing.T) {
	srv := newTestServer(&stubPipeline{result: samplePrediction()})

	body, contentType := multipartBody(t, "notes.txt", []byte("not an image"), nil)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "File type not allowed")
}

func TestPredictHandler_UploadTooLarge(t *testing.T) {
	srv := NewServer(&stubPipeline{result: samplePrediction()}, Config{
		MaxUploadMB: 1,
		TimeoutSec:  30,
	})

	big := bytes.Repeat([]byte{0xAB}, 2*1024*1024)
	body, contentType := multipartBody(t, "leaf.jpg", big, nil)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPredictHandler_AggregateFailureIs502(t *testing.T) {
	srv := newTestServer(&stubPipeline{err: &predict.AggregateError{
		Rice:  &provider.CallError{Provider: "rice", Kind: provider.FailureTimeout},
		Wheat: &provider.CallError{Provider: "wheat", Kind: provider.FailureUnreachable},
	}})

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"image_url": "https://example.com/leaf.jpg"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Workflow execution failed", resp.Error)
	assert.NotEmpty(t, resp.Details)
}

func TestPredictHandler_TimeoutIs504(t *testing.T) {
	srv := newTestServer(&stubPipeline{err: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"image_url": "https://example.com/leaf.jpg"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestPredictHandler_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(&stubPipeline{})

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	w := httptest.NewRecorder()
	srv.predictHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestBatchHandler(t *testing.T) {
	stub := &stubPipeline{result: samplePrediction()}
	srv := newTestServer(stub)

	body := `{"image_urls": ["https://example.com/a.jpg", "https://example.com/b.jpg"], "workers": 2}`
	req := httptest.NewRequest(http.MethodPost, "/predict/batch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.batchHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var res batch.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Items, 2)
	assert.Equal(t, "https://example.com/a.jpg", res.Items[0].Source)
	assert.Equal(t, "https://example.com/b.jpg", res.Items[1].Source)
	assert.Equal(t, batch.StatusSuccess, res.Summary.Status)
	assert.Equal(t, 2, res.Summary.Workers)
	assert.InDelta(t, 0.8765, res.Items[0].Prediction.Confidence, 1e-9)
}

func TestBatchHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty list", `{"image_urls": []}`},
		{"missing field", `{}`},
		{"invalid json", `{`},
		{"invalid url", `{"image_urls": ["not-a-url"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubPipeline{result: samplePrediction()})

			req := httptest.NewRequest(http.MethodPost, "/predict/batch", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			srv.batchHandler(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	srv := NewServer(&stubPipeline{}, Config{
		CORSOrigin:  "*",
		MaxUploadMB: 16,
		TimeoutSec:  30,
	})

	handler := srv.corsMiddleware(srv.healthHandler)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRound4(t *testing.T) {
	assert.InDelta(t, 0.8765, round4(0.87654321), 1e-12)
	assert.InDelta(t, 0.8766, round4(0.87655), 1e-12)
	assert.InDelta(t, 0.0, round4(0.00004), 1e-12)
	assert.InDelta(t, 1.0, round4(0.99999), 1e-12)
}
