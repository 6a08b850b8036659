package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// ColorModel ist das Bild-zu-Bild-Modell hinter der Kolorierung.
type ColorModel interface {
	ColorizeImage(ctx context.Context, image []byte) ([]byte, error)
}

// ColorizeService restauriert/koloriert Fotos, gecacht nach Content-Hash der
// Quelle, damit wiederholte Anfragen das Modell nicht erneut treffen.
type ColorizeService struct {
	Model  ColorModel
	Logger *zap.Logger

	mu    sync.Mutex
	cache map[string][]byte
}

// NewColorizeService erstellt einen neuen ColorizeService.
func NewColorizeService(model ColorModel, logger *zap.Logger) *ColorizeService {
	return &ColorizeService{Model: model, Logger: logger, cache: make(map[string][]byte)}
}

// Colorize lädt das Quellbild herunter und koloriert es, gecacht nach dem
// Hash der Quell-URL.
func (s *ColorizeService) Colorize(ctx context.Context, imageURL string) ([]byte, error) {
	log := s.Logger.With(zap.String("url", imageURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quellbild nicht ladbar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quellbild nicht ladbar: status %d", resp.StatusCode)
	}
	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	log.Info("Koloriere Bild.")
	return s.ColorizeBytes(ctx, imageURL, image)
}

// ColorizeBytes koloriert bereits heruntergeladene Bild-Bytes. cacheKey
// identifiziert die Quelle; bei leerem Key wird der Hash der Bytes genutzt.
func (s *ColorizeService) ColorizeBytes(ctx context.Context, cacheKey string, image []byte) ([]byte, error) {
	if cacheKey == "" {
		sum := md5.Sum(image)
		cacheKey = hex.EncodeToString(sum[:])
	} else {
		sum := md5.Sum([]byte(cacheKey))
		cacheKey = hex.EncodeToString(sum[:])
	}

	s.mu.Lock()
	if cached, ok := s.cache[cacheKey]; ok {
		s.mu.Unlock()
		s.Logger.Debug("Nutze gecachtes koloriertes Bild.", zap.String("hash", cacheKey))
		return cached, nil
	}
	s.mu.Unlock()

	colorized, err := s.Model.ColorizeImage(ctx, image)
	if err != nil {
		s.Logger.Warn("Kolorierung fehlgeschlagen", zap.String("hash", cacheKey), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.cache[cacheKey] = colorized
	s.mu.Unlock()

	return colorized, nil
}
