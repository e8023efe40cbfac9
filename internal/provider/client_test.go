package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplens/croplens/internal/imageref"
)

const workflowResponse = `{"outputs": "ignored", "predictions": {"predictions": [
	{"class": "brown_spot", "class_id": 2, "confidence": 0.87,
	 "x": 100, "y": 50, "width": 30, "height": 20, "detection_id": "d1"}
]}}`

func testImage(t *testing.T) imageref.Image {
	t.Helper()
	img, err := imageref.FromBytes([]byte("fake image bytes"), 0)
	require.NoError(t, err)
	return img
}

func newTestClient(serverURL string, timeout time.Duration) *Client {
	return NewClient(Config{
		APIURL:    serverURL,
		APIKey:    "test-key",
		Workspace: "test-workspace",
		Timeout:   timeout,
	})
}

func TestInvoke_Success(t *testing.T) {
	var gotPath string
	var gotBody workflowRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(workflowResponse))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5*time.Second)
	defer c.Close()

	img := testImage(t)
	res := c.Invoke(context.Background(), img, Spec{Name: "rice", WorkflowID: "rice-wf"}, true)

	require.True(t, res.OK())
	assert.Equal(t, "rice", res.Provider)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "brown_spot", res.Detections[0].Class)
	assert.InDelta(t, 0.87, res.MaxConfidence, 1e-9)
	assert.Zero(t, res.Dropped)
	assert.JSONEq(t, workflowResponse, string(res.Raw))
	assert.Positive(t, res.Duration)

	assert.Equal(t, "/infer/workflows/test-workspace/rice-wf", gotPath)
	assert.Equal(t, "test-key", gotBody.APIKey)
	assert.True(t, gotBody.UseCache)
	require.Contains(t, gotBody.Inputs, "image")
	assert.Equal(t, "base64", gotBody.Inputs["image"].Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img.Data()), gotBody.Inputs["image"].Value)
}

func TestInvoke_URLImagePassedThrough(t *testing.T) {
	var gotBody workflowRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"predictions": []}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5*time.Second)
	defer c.Close()

	img, err := imageref.FromURL("https://example.com/leaf.jpg")
	require.NoError(t, err)

	res := c.Invoke(context.Background(), img, Spec{Name: "wheat", WorkflowID: "wheat-wf"}, false)
	require.True(t, res.OK())
	assert.Empty(t, res.Detections)
	assert.Zero(t, res.MaxConfidence)

	assert.False(t, gotBody.UseCache)
	assert.Equal(t, "url", gotBody.Inputs["image"].Type)
	assert.Equal(t, "https://example.com/leaf.jpg", gotBody.Inputs["image"].Value)
}

func TestInvoke_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 50*time.Millisecond)
	defer c.Close()

	res := c.Invoke(context.Background(), testImage(t), Spec{Name: "rice", WorkflowID: "rice-wf"}, true)

	require.False(t, res.OK())
	assert.Equal(t, FailureTimeout, res.Err.Kind)
	assert.True(t, res.Err.Transient())
}

func TestInvoke_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := newTestClient(srv.URL, time.Second)
	defer c.Close()

	res := c.Invoke(context.Background(), testImage(t), Spec{Name: "rice", WorkflowID: "rice-wf"}, true)

	require.False(t, res.OK())
	assert.Equal(t, FailureUnreachable, res.Err.Kind)
	assert.True(t, res.Err.Transient())
}

func TestInvoke_ServerErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	defer c.Close()

	res := c.Invoke(context.Background(), testImage(t), Spec{Name: "wheat", WorkflowID: "wheat-wf"}, true)

	require.False(t, res.OK())
	assert.Equal(t, FailureUnreachable, res.Err.Kind)
	assert.Contains(t, res.Err.Error(), "502")
}

func TestInvoke_ClientErrorIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	defer c.Close()

	res := c.Invoke(context.Background(), testImage(t), Spec{Name: "rice", WorkflowID: "rice-wf"}, true)

	require.False(t, res.OK())
	assert.Equal(t, FailureInvalidResponse, res.Err.Kind)
	assert.False(t, res.Err.Transient())
}

func TestInvoke_MalformedBodyIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	defer c.Close()

	res := c.Invoke(context.Background(), testImage(t), Spec{Name: "rice", WorkflowID: "rice-wf"}, true)

	require.False(t, res.OK())
	assert.Equal(t, FailureInvalidResponse, res.Err.Kind)
}

func TestInvoke_EmptyImage(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", time.Second)
	defer c.Close()

	res := c.Invoke(context.Background(), imageref.Image{}, Spec{Name: "rice", WorkflowID: "rice-wf"}, true)

	require.False(t, res.OK())
	assert.Equal(t, FailureInvalidResponse, res.Err.Kind)
}

func TestInvoke_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 10*time.Second)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := c.Invoke(ctx, testImage(t), Spec{Name: "rice", WorkflowID: "rice-wf"}, true)
	require.False(t, res.OK())
	assert.Equal(t, FailureTimeout, res.Err.Kind)
}

func TestCallErrorTransient(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{FailureTimeout, true},
		{FailureUnreachable, true},
		{FailureInvalidResponse, false},
	}
	for _, tt := range tests {
		err := &CallError{Provider: "rice", Kind: tt.kind}
		assert.Equal(t, tt.want, err.Transient(), "kind %s", tt.kind)
	}
}
