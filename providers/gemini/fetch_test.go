package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"time-capsule/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(serverURL string) *Client {
	c := NewClient(&config.Config{GeminiAPIKey: "key"}, zap.NewNop())
	c.BaseURL = serverURL
	return c
}

func TestGenerateDescriptionUsesTextModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, textModel)
		assert.Equal(t, "key", r.URL.Query().Get("key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"A short description."}]}}]}`)
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).GenerateDescription(context.Background(), "City Hall", "1955", "context")
	require.NoError(t, err)
	assert.Equal(t, "A short description.", got)
}

func TestGenerateDescriptionErrorsWithoutCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GenerateDescription(context.Background(), "t", "d", "c")
	require.Error(t, err)
}

func TestColorizeImageDecodesInlineData(t *testing.T) {
	colorized := []byte{0x89, 0x50, 0x4E, 0x47}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, imageModel)

		var req struct {
			Contents []struct {
				Parts []struct {
					Text       string `json:"text"`
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"contents"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
			} `json:"generationConfig"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.True(t, strings.Contains(req.Contents[0].Parts[0].Text, "colorize"))
		assert.NotNil(t, req.Contents[0].Parts[1].InlineData)
		assert.Equal(t, []string{"IMAGE"}, req.GenerationConfig.ResponseModalities)

		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"%s"}}]}}]}`,
			base64.StdEncoding.EncodeToString(colorized))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).ColorizeImage(context.Background(), []byte("bwphoto"))
	require.NoError(t, err)
	assert.Equal(t, colorized, got)
}

func TestColorizeImageErrorsWithoutImageData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"sorry, no image"}]}}]}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ColorizeImage(context.Background(), []byte("bwphoto"))
	require.Error(t, err)
}
