package sharp

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

// 3D-Rekonstruktion ist minutenlangsam, daher ein sehr langer Timeout.
var httpClient = &http.Client{Timeout: 10 * time.Minute}

// Result ist das Ergebnis der Rekonstruktion für ein einzelnes Bild.
// Fehlgeschlagene Bilder werden als nil-Eintrag im Ergebnis-Slice geführt.
type Result struct {
	PLYURL string `json:"ply_url"`
	Status string `json:"status"`
}

// Client kapselt die Aufrufe gegen den SHARP 3DGS Batch-Service.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewClient erstellt einen neuen SHARP-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger}
}

type jobRequest struct {
	Input struct {
		Images []jobImage `json:"images"`
	} `json:"input"`
}

type jobImage struct {
	ImageURL string `json:"image_url"`
}

type jobResult struct {
	Status  string `json:"status"`
	Results []*struct {
		Status string `json:"status"`
		PLYURL string `json:"ply_url"`
	} `json:"results"`
}

// RunPod liefert das Ergebnis mal direkt, mal in ein output-Feld verpackt.
type jobResponse struct {
	jobResult
	Output *jobResult `json:"output"`
}

// GenerateSplats reicht einen Batch-Job beim SHARP-Service ein und blockiert
// bis zum Ergebnis. Teilerfolge sind gültig: das Ergebnis-Slice enthält pro
// Eingabebild einen Eintrag, fehlgeschlagene Bilder als nil. Ein fehlendes
// SHARP_API_URL deaktiviert die 3D-Generierung (nil, nil).
func (c *Client) GenerateSplats(ctx context.Context, imageURLs []string) ([]*Result, error) {
	if c.Config.SharpAPIURL == "" {
		c.Logger.Warn("SHARP_API_URL ist nicht konfiguriert, 3D-Generierung wird übersprungen.")
		return nil, nil
	}

	// Ungültige URLs aussortieren
	var urls []string
	for _, u := range imageURLs {
		if strings.HasPrefix(u, "http") {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return []*Result{}, nil
	}

	log := c.Logger.With(zap.Int("images", len(urls)))
	log.Info("Reiche 3D-Rekonstruktions-Batch beim SHARP-Service ein.")

	var req jobRequest
	for _, u := range urls {
		req.Input.Images = append(req.Input.Images, jobImage{ImageURL: u})
	}
	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Config.SharpAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Config.SharpAPIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Config.SharpAPIToken)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sharp request failed: status %d", resp.StatusCode)
	}

	var jr jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, err
	}

	result := jr.jobResult
	if jr.Output != nil {
		result = *jr.Output
	}

	if result.Status != "success" && result.Status != "partial" {
		return nil, fmt.Errorf("sharp service meldet status %q", result.Status)
	}

	results := make([]*Result, len(result.Results))
	for i, r := range result.Results {
		if r != nil && r.Status == "success" {
			results[i] = &Result{PLYURL: r.PLYURL, Status: "success"}
		}
	}

	log.Info("3D-Batch abgeschlossen", zap.Int("results", len(results)))
	return results, nil
}
