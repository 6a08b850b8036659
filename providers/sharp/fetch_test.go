package sharp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"time-capsule/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(serverURL string) *Client {
	return NewClient(&config.Config{SharpAPIURL: serverURL, SharpAPIToken: "token"}, zap.NewNop())
}

func TestGenerateSplatsSkipsWhenUnconfigured(t *testing.T) {
	c := NewClient(&config.Config{}, zap.NewNop())
	results, err := c.GenerateSplats(context.Background(), []string{"https://example.com/a.jpg"})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestGenerateSplatsFiltersInvalidURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("service darf bei leerer Bildliste nicht aufgerufen werden")
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	results, err := c.GenerateSplats(context.Background(), []string{"", "not-a-url"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGenerateSplatsParsesDirectResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req struct {
			Input struct {
				Images []struct {
					ImageURL string `json:"image_url"`
				} `json:"images"`
			} `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input.Images, 2)

		fmt.Fprint(w, `{"status":"success","results":[
			{"status":"success","ply_url":"https://cdn/a.ply"},
			{"status":"success","ply_url":"https://cdn/b.ply"}
		]}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	results, err := c.GenerateSplats(context.Background(), []string{"https://x/a.jpg", "https://x/b.jpg"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://cdn/a.ply", results[0].PLYURL)
	assert.Equal(t, "https://cdn/b.ply", results[1].PLYURL)
}

func TestGenerateSplatsUnwrapsOutputEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"job-1","output":{"status":"success","results":[
			{"status":"success","ply_url":"https://cdn/a.ply"}
		]}}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	results, err := c.GenerateSplats(context.Background(), []string{"https://x/a.jpg"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://cdn/a.ply", results[0].PLYURL)
}

func TestGenerateSplatsKeepsPartialResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"partial","results":[
			{"status":"success","ply_url":"https://cdn/a.ply"},
			{"status":"failed","ply_url":""}
		]}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	results, err := c.GenerateSplats(context.Background(), []string{"https://x/a.jpg", "https://x/b.jpg"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1], "fehlgeschlagene Bilder bleiben nil statt den Batch zu kippen")
}

func TestGenerateSplatsRejectsFailedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","results":[]}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GenerateSplats(context.Background(), []string{"https://x/a.jpg"})
	require.Error(t, err)
}
