package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"time-capsule/config"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// Text-Synthese-Modell für Beschreibungen
	textModel = "gemini-2.5-flash-lite"
	// Bild-zu-Bild-Modell für Restaurierung/Kolorierung
	imageModel = "gemini-2.5-flash-image"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Client kapselt die generateContent-Aufrufe gegen die Gemini-API.
type Client struct {
	Config  *config.Config
	Logger  *zap.Logger
	BaseURL string
}

// NewClient erstellt einen neuen Gemini-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger, BaseURL: defaultBaseURL}
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Temperature        float64  `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(ctx context.Context, model string, req generateRequest) (*generateResponse, error) {
	if c.Config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY ist nicht konfiguriert")
	}

	body, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.BaseURL, model, c.Config.GeminiAPIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gemini request failed: status %d: %s", resp.StatusCode, string(detail))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, err
	}
	return &gr, nil
}

// GenerateDescription synthetisiert eine kurze Beschreibung für ein
// historisches Foto aus Titel, Datum und recherchiertem Such-Kontext.
func (c *Client) GenerateDescription(ctx context.Context, title, date, searchContext string) (string, error) {
	prompt := fmt.Sprintf(`You are a historical researcher.
Use the following search results to write a concise, engaging 2-sentence description for a photograph titled %q taken around %s.

The search results might not contain this exact photo, but they should contain relevant historical context about the people, institution, or event.
Synthesize the best possible description based on these results. Explain the significance of the subject or the era.

Search Results:
%s`, title, date, searchContext)

	resp, err := c.generate(ctx, textModel, generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response ohne candidates")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// ColorizeImage restauriert und koloriert ein Schwarz-Weiß-Foto über das
// Bild-Modell und gibt die Bytes des erzeugten Bilds zurück.
func (c *Client) ColorizeImage(ctx context.Context, image []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(image)

	resp, err := c.generate(ctx, imageModel, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: "Restore and colorize this black and white photo. Upscale the image to 1080p and 4K resolution using professional restoration techniques. Make the colors realistic and vibrant. Output ONLY the colorized image."},
			{InlineData: &inlineData{MimeType: "image/jpeg", Data: encoded}},
		}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			Temperature:        0.4,
		},
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("keine bilddaten in der gemini-antwort")
	}
	data := resp.Candidates[0].Content.Parts[0].InlineData
	if data == nil || data.Data == "" {
		return nil, fmt.Errorf("keine bilddaten in der gemini-antwort")
	}

	decoded, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return nil, fmt.Errorf("bilddaten konnten nicht dekodiert werden: %w", err)
	}
	return decoded, nil
}
