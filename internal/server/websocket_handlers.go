package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/croplens/croplens/internal/batch"
	"github.com/croplens/croplens/internal/imageref"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, you should check against allowed origins
		return true
	},
}

// wsMessage is the envelope for messages sent to the client.
type wsMessage struct {
	Type    string `json:"type"` // "item", "summary", "error"
	Index   int    `json:"index,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// batchWebSocketHandler streams batch outcomes over a WebSocket connection:
// the client sends one batch request, the server emits an "item" message per
// input as it completes (completion order) and a final "summary" message
// carrying the ordered result.
func (s *Server) batchWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Keep the connection alive across long batch runs.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			continue
		}

		s.handleWebSocketBatch(r, conn, data)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

// handleWebSocketBatch runs one streamed batch request.
func (s *Server) handleWebSocketBatch(r *http.Request, conn *websocket.Conn, data []byte) {
	var req batchRequest
	if err := json.Unmarshal(data, &req); err != nil || len(req.ImageURLs) == 0 {
		writeWSMessage(conn, &sync.Mutex{}, wsMessage{Type: "error", Error: "request must include a non-empty 'image_urls' list"})
		return
	}

	images := make([]imageref.Image, 0, len(req.ImageURLs))
	var writeMu sync.Mutex
	for _, u := range req.ImageURLs {
		img, err := imageref.FromURL(u)
		if err != nil {
			writeWSMessage(conn, &writeMu, wsMessage{Type: "error", Error: err.Error()})
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

	res := batch.RunWithCallback(r.Context(), s.pipeline, images, cfg, func(index int, outcome batch.ItemOutcome) {
		if outcome.Prediction != nil {
			recordPrediction(outcome.Prediction)
			outcome.Prediction = rounded(outcome.Prediction)
			predictionDuration.WithLabelValues("ws").
				Observe(float64(outcome.DurationMs) / 1000.0)
		}
		writeWSMessage(conn, &writeMu, wsMessage{Type: "item", Index: index, Payload: outcome})
	})

	writeWSMessage(conn, &writeMu, wsMessage{Type: "summary", Payload: res.Summary})
}

// writeWSMessage serializes one message to the connection. Concurrent item
// callbacks share the write lock; gorilla connections allow only one writer.
func writeWSMessage(conn *websocket.Conn, mu *sync.Mutex, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal WebSocket message", "error", err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("failed to write WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
