package openai

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
	c := NewClient(&config.Config{OpenAIAPIKey: "key"}, zap.NewNop())
	c.BaseURL = serverURL
	return c
}

func TestSpeakReturnsAudioBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tts-1", req["model"])
		assert.Equal(t, "alloy", req["voice"])

		w.Write([]byte("mp3bytes"))
	}))
	defer server.Close()

	data, format, err := newTestClient(server.URL).Speak(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3bytes"), data)
	assert.Equal(t, FormatMP3, format)
}

func TestSpeakSignalsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, _, err := newTestClient(server.URL).Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSpeakRequiresAPIKey(t *testing.T) {
	c := NewClient(&config.Config{}, zap.NewNop())
	_, _, err := c.Speak(context.Background(), "hello")
	require.Error(t, err)
}

func TestIsPhotographParsesVerdict(t *testing.T) {
	cases := []struct {
		reply string
		want  bool
	}{
		{"PHOTOGRAPH", true},
		{"PHOTOGRAPH.", true},
		{"OTHER", false},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			fmt.Fprintf(w, `{"choices":[{"message":{"content":"%s"}}]}`, tc.reply)
		}))

		got, err := newTestClient(server.URL).IsPhotograph(context.Background(), []byte("img"))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "reply %q", tc.reply)
		server.Close()
	}
}

func TestIsPhotographErrorsWithoutChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).IsPhotograph(context.Background(), []byte("img"))
	require.Error(t, err)
}
