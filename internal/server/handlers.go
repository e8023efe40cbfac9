package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/croplens/croplens/internal/batch"
	"github.com/croplens/croplens/internal/imageref"
	"github.com/croplens/croplens/internal/predict"
	"github.com/croplens/croplens/internal/version"
)

// healthHandler returns service health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v, _, _ := version.Info()
	response := HealthResponse{
		Status:  "healthy",
		Service: version.Service,
		Version: v,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}

// predictHandler runs the single-image pipeline. It accepts multipart form
// data with an 'image' file, or JSON with an 'image_url' field; both carry
// an optional use_cache flag.
func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	maxBytes := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	img, useCache, ok := s.parsePredictRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := s.pipeline.Predict(ctx, img, predict.Options{UseCache: useCache})
	predictionDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		s.writePredictError(w, err)
		return
	}

	recordPrediction(res)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rounded(res)); err != nil {
		slog.Error("failed to encode prediction response", "error", err)
	}
}

// parsePredictRequest extracts the image input and cache flag from either a
// multipart upload or a JSON body. On failure it writes the error response
// and returns ok=false.
func (s *Server) parsePredictRequest(w http.ResponseWriter, r *http.Request) (imageref.Image, bool, bool) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		return s.parseUpload(w, r)
	}

	if strings.HasPrefix(contentType, "application/json") {
		var body struct {
			ImageURL string `json:"image_url"`
			UseCache *bool  `json:"use_cache"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ImageURL == "" {
			s.writeErrorResponse(w, "JSON request must include 'image_url' field", http.StatusBadRequest)
			return imageref.Image{}, false, false
		}
		img, err := imageref.FromURL(body.ImageURL)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return imageref.Image{}, false, false
		}
		useCache := body.UseCache == nil || *body.UseCache
		return img, useCache, true
	}

	s.writeErrorResponse(w,
		"Request must be multipart/form-data with 'image' file or JSON with 'image_url'",
		http.StatusBadRequest)
	return imageref.Image{}, false, false
}

// parseUpload handles the multipart branch of the predict request.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (imageref.Image, bool, bool) {
	maxBytes := s.maxUploadMB * 1024 * 1024

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "too large") {
			s.writeTooLarge(w)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return imageref.Image{}, false, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return imageref.Image{}, false, false
	}
	defer func() { _ = file.Close() }()

	if header.Size > maxBytes {
		s.writeTooLarge(w)
		return imageref.Image{}, false, false
	}
	if !imageref.AllowedExtension(header.Filename) {
		s.writeErrorResponse(w,
			"File type not allowed. Supported: png, jpg, jpeg, gif, bmp, webp",
			http.StatusBadRequest)
		return imageref.Image{}, false, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return imageref.Image{}, false, false
	}
	uploadSizeBytes.Observe(float64(len(data)))

	img, err := imageref.FromBytes(data, maxBytes)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return imageref.Image{}, false, false
	}

	cacheParam := strings.ToLower(r.FormValue("use_cache"))
	useCache := cacheParam != "false" && cacheParam != "0" && cacheParam != "no"
	return img, useCache, true
}

// batchHandler runs the batch orchestrator over a JSON list of image URLs
// and returns the ordered outcomes with the run summary.
func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ImageURLs) == 0 {
		s.writeErrorResponse(w, "JSON request must include a non-empty 'image_urls' list", http.StatusBadRequest)
		return
	}

	images := make([]imageref.Image, 0, len(req.ImageURLs))
	for _, u := range req.ImageURLs {
		img, err := imageref.FromURL(u)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("invalid image URL %q: %v", u, err), http.StatusBadRequest)
			return
		}
		images = append(images, img)
	}

	cfg := s.batchConfig
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	if req.UseCache != nil {
		cfg.UseCache = *req.UseCache
	}

	res := batch.Run(r.Context(), s.pipeline, images, cfg)
	for i := range res.Items {
		if res.Items[i].Prediction != nil {
			recordPrediction(res.Items[i].Prediction)
			res.Items[i].Prediction = rounded(res.Items[i].Prediction)
			predictionDuration.WithLabelValues("batch").
				Observe(float64(res.Items[i].DurationMs) / 1000.0)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("failed to encode batch response", "error", err)
	}
}

// writePredictError maps pipeline errors to HTTP statuses per the error
// taxonomy: validation 400, aggregate failure 502, timeout 504.
func (s *Server) writePredictError(w http.ResponseWriter, err error) {
	var vErr *imageref.ValidationError
	if errors.As(err, &vErr) {
		s.writeErrorResponse(w, vErr.Error(), http.StatusBadRequest)
		return
	}

	var agg *predict.AggregateError
	if errors.As(err, &agg) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		resp := ErrorResponse{Error: "Workflow execution failed", Details: agg.Error()}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to encode error response", "error", err)
		}
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, "Prediction timed out", http.StatusGatewayTimeout)
		return
	}

	s.writeErrorResponse(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) writeTooLarge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	resp := ErrorResponse{
		Error:   "File too large",
		Details: fmt.Sprintf("maximum upload size is %d MB", s.maxUploadMB),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: msg}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// recordPrediction updates the prediction metrics for one completed result.
func recordPrediction(res *predict.Result) {
	status := "ok"
	if res.Metadata.PartialFailure {
		status = "partial"
	}
	predictionsTotal.WithLabelValues(string(res.ChosenModel), status).Inc()
	detectionsPerPrediction.WithLabelValues(string(res.ChosenModel)).
		Observe(float64(res.DetectionCount))
	if res.Metadata.CacheHit {
		cacheHitsTotal.WithLabelValues("hit").Inc()
	} else {
		cacheHitsTotal.WithLabelValues("miss").Inc()
	}
}

// rounded copies a prediction with confidences rounded to 4 decimals, the
// precision the API reports.
func rounded(res *predict.Result) *predict.Result {
	out := *res
	out.Confidence = round4(res.Confidence)
	out.Metadata.RiceConfidence = round4(res.Metadata.RiceConfidence)
	out.Metadata.WheatConfidence = round4(res.Metadata.WheatConfidence)
	return &out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
