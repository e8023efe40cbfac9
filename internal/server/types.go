package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/croplens/croplens/internal/batch"
	"github.com/croplens/croplens/internal/imageref"
	"github.com/croplens/croplens/internal/predict"
)

// predictorInterface defines what the server needs from the prediction
// pipeline.
type predictorInterface interface {
	Predict(ctx context.Context, img imageref.Image, opts predict.Options) (*predict.Result, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    predictorInterface
	batchConfig batch.Config
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	BatchConfig batch.Config
}

// HealthResponse is the health probe payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// batchRequest is the JSON body of the batch endpoint: a list of image URLs
// plus optional worker/cache overrides.
type batchRequest struct {
	ImageURLs []string `json:"image_urls"`
	Workers   int      `json:"workers,omitempty"`
	UseCache  *bool    `json:"use_cache,omitempty"`
}

// NewServer creates a server around an already-constructed pipeline.
func NewServer(pipeline predictorInterface, config Config) *Server {
	return &Server{
		pipeline:    pipeline,
		batchConfig: config.BatchConfig,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/predict", s.corsMiddleware(s.predictHandler))
	mux.HandleFunc("/predict/batch", s.corsMiddleware(s.batchHandler))
	mux.HandleFunc("/ws", s.batchWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
