package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplens/croplens/internal/batch"
)

func dialTestWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wsMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBatchWebSocket_StreamsItemsThenSummary(t *testing.T) {
	conn := dialTestWebSocket(t, newTestServer(&stubPipeline{result: samplePrediction()}))

	req := `{"image_urls": ["https://example.com/a.jpg", "https://example.com/b.jpg"]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))

	indexes := map[int]bool{}
	for i := 0; i < 2; i++ {
		msg := readWSMessage(t, conn)
		require.Equal(t, "item", msg.Type)
		indexes[msg.Index] = true

		var outcome batch.ItemOutcome
		payload, err := json.Marshal(msg.Payload)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(payload, &outcome))
		assert.True(t, outcome.Success)
		assert.InDelta(t, 0.8765, outcome.Prediction.Confidence, 1e-9)
	}
	assert.Len(t, indexes, 2, "each input streamed exactly once")

	summary := readWSMessage(t, conn)
	require.Equal(t, "summary", summary.Type)

	var s batch.Summary
	payload, err := json.Marshal(summary.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &s))
	assert.Equal(t, batch.StatusSuccess, s.Status)
	assert.Equal(t, 2, s.Total)
}

func TestBatchWebSocket_InvalidRequest(t *testing.T) {
	conn := dialTestWebSocket(t, newTestServer(&stubPipeline{result: samplePrediction()}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"image_urls": []}`)))

	msg := readWSMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.NotEmpty(t, msg.Error)
}

func TestBatchWebSocket_InvalidURL(t *testing.T) {
	conn := dialTestWebSocket(t, newTestServer(&stubPipeline{result: samplePrediction()}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"image_urls": ["not-a-url"]}`)))

	msg := readWSMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
}
