package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NoContextPlaceholder wird als Beschreibung gespeichert, wenn die
// Kontext-Suche keine verwertbaren Treffer liefert.
const NoContextPlaceholder = "Historical context could not be retrieved from search."

// ContextSearcher holt Recherche-Kontext für eine Query. Fehler werden als
// leerer Kontext gemeldet, nie als error.
type ContextSearcher interface {
	SearchContext(ctx context.Context, query string) string
}

// DescriptionModel synthetisiert die eigentliche Beschreibung aus dem Kontext.
type DescriptionModel interface {
	GenerateDescription(ctx context.Context, title, date, searchContext string) (string, error)
}

// DescriptionService reichert Foto-Titel mit recherchierten Beschreibungen an.
type DescriptionService struct {
	Search ContextSearcher
	Model  DescriptionModel
	Logger *zap.Logger
}

// NewDescriptionService erstellt einen neuen DescriptionService.
func NewDescriptionService(search ContextSearcher, model DescriptionModel, logger *zap.Logger) *DescriptionService {
	return &DescriptionService{Search: search, Model: model, Logger: logger}
}

// Enhance recherchiert Kontext zum Foto und synthetisiert daraus eine kurze
// Beschreibung. Erst eine spezifische Query, dann eine breitere als Fallback.
// Ohne Kontext wird ein Platzhalter geliefert; scheitert das Sprachmodell,
// ist das Ergebnis der leere Sentinel-String — der Aufrufer behandelt beides
// als "Anreicherung nicht verfügbar" und bricht den Record nicht ab.
func (s *DescriptionService) Enhance(ctx context.Context, title, date string) string {
	log := s.Logger.With(zap.String("title", title))
	log.Info("Reichere Beschreibung an.", zap.String("date", date))

	searchContext := s.Search.SearchContext(ctx, fmt.Sprintf("%s %s singapore history", title, date))
	if searchContext == "" {
		log.Debug("Spezifische Kontext-Suche leer, versuche breitere Query.")
		searchContext = s.Search.SearchContext(ctx, fmt.Sprintf("%s singapore", title))
	}
	if searchContext == "" {
		log.Warn("Kein Recherche-Kontext gefunden, nutze Platzhalter.")
		return NoContextPlaceholder
	}

	description, err := s.Model.GenerateDescription(ctx, title, date, searchContext)
	if err != nil {
		log.Error("Beschreibungs-Synthese fehlgeschlagen", zap.Error(err))
		return ""
	}
	return description
}
