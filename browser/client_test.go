package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", "proj_1", 5*time.Second)
}

func TestCreateSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-BB-API-Key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "proj_1", body["projectId"])

		json.NewEncoder(w).Encode(map[string]string{
			"id":          "bb_123",
			"connectUrl":  "wss://connect.example/bb_123",
			"liveViewUrl": "https://view.example/bb_123",
		})
	})

	session, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bb_123", session.ID)
	assert.Equal(t, "wss://connect.example/bb_123", session.ConnectURL)
	assert.Equal(t, "https://view.example/bb_123", session.LiveViewURL)
}

func TestCreateSessionMissingConnectURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id":          "bb_123",
			"liveViewUrl": "https://view.example/bb_123",
		})
	})

	_, err := client.CreateSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing connect url")
}

func TestCreateSessionProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := client.CreateSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestReleaseSession(t *testing.T) {
	var got map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/bb_123", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.ReleaseSession(context.Background(), "bb_123"))
	assert.Equal(t, "REQUEST_RELEASE", got["status"])
}

func TestReleaseSessionAlreadyGone(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
		assert.NoError(t, client.ReleaseSession(context.Background(), "bb_gone"))
	}
}

func TestReleaseSessionProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.Error(t, client.ReleaseSession(context.Background(), "bb_123"))
}

func TestRecordingURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/sessions/bb_123/recording", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"recordingUrl": "https://recordings.example/bb_123"})
	})

	url, err := client.RecordingURL(context.Background(), "bb_123")
	require.NoError(t, err)
	assert.Equal(t, "https://recordings.example/bb_123", url)
}
