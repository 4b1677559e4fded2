package backend

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

func TestDelegateRun(t *testing.T) {
	var got delegateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/run", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"message": "done",
			"actions": []map[string]interface{}{{"name": "goto", "success": true}},
			"usage":   map[string]int64{"in": 100, "out": 20, "cached": 5, "total_tokens": 125},
			"data":    map[string]string{"final_url": "https://example.com"},
		})
	}))
	defer srv.Close()

	d := NewDelegate("browser-use", srv.URL, 5*time.Second)
	out, err := d.Run(context.Background(), RunInput{
		Instruction:      "find the docs",
		Model:            "browser-use/bu-1-0",
		CDPURL:           "wss://connect.example/bb_1",
		BrowserSessionID: "bb_1",
		Credentials:      map[string]string{"openai": "sk-test"},
	})
	require.NoError(t, err)

	assert.Equal(t, "find the docs", got.Instruction)
	assert.Equal(t, "wss://connect.example/bb_1", got.CDPURL)
	assert.Equal(t, "bb_1", got.BrowserSessionID)
	assert.Equal(t, "sk-test", got.Credentials["openai"])

	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Message)
	assert.Len(t, out.Actions, 1)
	assert.Equal(t, int64(100), out.Usage.InputTokens)
	assert.Equal(t, int64(20), out.Usage.OutputTokens)
	assert.Equal(t, int64(5), out.Usage.CachedTokens)
	assert.Equal(t, int64(125), out.Usage.TotalTokens)
	assert.NotEmpty(t, out.Data)
}

func TestDelegateRunExecutorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "browser crashed"})
	}))
	defer srv.Close()

	d := NewDelegate("skyvern", srv.URL, 5*time.Second)
	_, err := d.Run(context.Background(), RunInput{Instruction: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser crashed")
}

func TestDelegateRunHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDelegate("skyvern", srv.URL, 5*time.Second)
	_, err := d.Run(context.Background(), RunInput{Instruction: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDelegateRunNoEndpoint(t *testing.T) {
	d := NewDelegate("skyvern", "", 5*time.Second)
	_, err := d.Run(context.Background(), RunInput{Instruction: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no endpoint configured")
}

func TestRegistry(t *testing.T) {
	d := NewDelegate("browser-use", "http://localhost:9000", time.Second)
	r := NewRegistry(d)

	got, ok := r.Get("browser-use")
	require.True(t, ok)
	assert.Equal(t, "browser-use", got.Name())
	assert.False(t, got.ManagesBrowser())

	_, ok = r.Get("autogpt")
	assert.False(t, ok)
	assert.Equal(t, []string{"browser-use"}, r.Names())
}
