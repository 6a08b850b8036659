package exa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"time-capsule/config"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.exa.ai"

var httpClient = &http.Client{Timeout: 15 * time.Second}

// Fetcher kapselt die Kontext-Suche über die Exa Search API.
type Fetcher struct {
	Config  *config.Config
	Logger  *zap.Logger
	BaseURL string
}

// NewFetcher erstellt einen neuen Exa-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger, BaseURL: defaultBaseURL}
}

type searchRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Contents   struct {
		Text bool `json:"text"`
	} `json:"contents"`
}

type searchResponse struct {
	Results []struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"results"`
}

// SearchContext holt bis zu drei Treffer für die Query und verdichtet sie zu
// einem Kontext-String für die Beschreibungs-Synthese. Fehler werden geloggt
// und als leerer Kontext behandelt — die Pipeline läuft ohne Kontext weiter.
func (f *Fetcher) SearchContext(ctx context.Context, query string) string {
	log := f.Logger.With(zap.String("query", query))

	req := searchRequest{Query: query, NumResults: 3}
	req.Contents.Text = true
	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		log.Warn("Exa-Request konnte nicht erstellt werden", zap.Error(err))
		return ""
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", f.Config.ExaAPIKey)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		log.Warn("Exa-Suche fehlgeschlagen", zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Exa-Suche mit Fehlerstatus beantwortet", zap.Int("status", resp.StatusCode))
		return ""
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		log.Warn("Exa-Antwort konnte nicht geparst werden", zap.Error(err))
		return ""
	}

	snippets := make([]string, 0, len(sr.Results))
	for _, r := range sr.Results {
		text := r.Text
		if len(text) > 300 {
			text = text[:300] + "..."
		}
		snippets = append(snippets, fmt.Sprintf("Title: %s\nText: %s", r.Title, text))
	}

	log.Debug("Exa-Snippets gefunden", zap.Int("count", len(snippets)))
	return strings.Join(snippets, "\n\n")
}
