package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"time-capsule/config"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrRateLimited signalisiert eine 429-Antwort des Backends. Der Aufrufer
// darf genau einmal mit festem Backoff erneut versuchen.
var ErrRateLimited = errors.New("openai: rate limited")

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Audio-Formate, die Speak zurückliefern kann.
const (
	FormatMP3 = "mp3"
	FormatPCM = "pcm"
)

// Client kapselt die REST-Aufrufe gegen die OpenAI-API (TTS und Vision).
type Client struct {
	Config  *config.Config
	Logger  *zap.Logger
	BaseURL string

	// TTS-Antwortformat; pcm liefert headerlose Rohdaten, die der Aufrufer
	// in einen WAV-Container verpackt.
	SpeechFormat string
}

// NewClient erstellt einen neuen OpenAI-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger, BaseURL: defaultBaseURL, SpeechFormat: FormatMP3}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Speak synthetisiert Sprache aus Text über das tts-1 Modell und gibt die
// Audio-Bytes samt Format zurück.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, string, error) {
	if c.Config.OpenAIAPIKey == "" {
		return nil, "", fmt.Errorf("OPENAI_API_KEY ist nicht konfiguriert")
	}

	reqBody := speechRequest{Model: "tts-1", Input: text, Voice: "alloy"}
	if c.SpeechFormat != FormatMP3 {
		reqBody.ResponseFormat = c.SpeechFormat
	}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Config.OpenAIAPIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("tts request failed: status %d: %s", resp.StatusCode, string(detail))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, c.SpeechFormat, nil
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// IsPhotograph klassifiziert ein Bild binär als Bodenaufnahme-Fotografie.
// Luftaufnahmen, Karten, Dokumente, Poster und Illustrationen gelten als OTHER.
func (c *Client) IsPhotograph(ctx context.Context, image []byte) (bool, error) {
	if c.Config.OpenAIAPIKey == "" {
		return false, fmt.Errorf("OPENAI_API_KEY ist nicht konfiguriert")
	}

	encoded := base64.StdEncoding.EncodeToString(image)
	reqBody := chatRequest{
		Model: "gpt-4o-mini",
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{
					Type: "text",
					Text: "Is this image a ground-level photograph? Reply strictly with 'PHOTOGRAPH'. Reply 'OTHER' if it is an aerial view, bird's-eye view, map, document, poster, or illustration.",
				},
				{
					Type:     "image_url",
					ImageURL: &imageURL{URL: "data:image/jpeg;base64," + encoded},
				},
			},
		}},
		MaxTokens: 10,
	}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Config.OpenAIAPIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return false, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("vision request failed: status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return false, err
	}
	if len(cr.Choices) == 0 {
		return false, fmt.Errorf("vision response ohne choices")
	}

	return strings.Contains(cr.Choices[0].Message.Content, "PHOTOGRAPH"), nil
}
