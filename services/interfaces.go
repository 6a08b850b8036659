package services

import (
	"context"

	"time-capsule/models"
	"time-capsule/providers/sharp"
)

// JournalStore ist die Persistenz-Schnittstelle für Journale und Records.
// Implementiert von storage.JournalStore; Tests nutzen Fakes.
type JournalStore interface {
	FindByQuery(ctx context.Context, query string) (*models.Journal, error)
	CreateJournal(ctx context.Context, journal *models.Journal) error
	SetJournalStatus(ctx context.Context, id uint, status string) error
	InsertRecord(ctx context.Context, record *models.Record) error
	InsertRecords(ctx context.Context, records []models.Record) error
	SetRecordSplatURL(ctx context.Context, recordID uint, url string) error
	SetRecordAudioURL(ctx context.Context, recordID uint, url string) error
	SetRecordColorURL(ctx context.Context, recordID uint, url string) error
	GetJournal(ctx context.Context, id uint) (*models.Journal, error)
	GetJournals(ctx context.Context, ids []uint) ([]models.Journal, error)
	ListUserCreated(ctx context.Context) ([]models.Journal, error)
	RecordsMissingSplat(ctx context.Context, limit int) ([]models.Record, error)
}

// AssetStore lädt binäre Assets hoch und liefert eine öffentliche URL.
type AssetStore interface {
	Put(ctx context.Context, bucket string, data []byte, contentType, name string) (string, error)
}

// Source liefert Foto-Kandidaten aus dem externen Archiv.
type Source interface {
	Discover(ctx context.Context, query, dateFrom, dateTo string) ([]models.Candidate, error)
	Resolve(ctx context.Context, candidates []models.Candidate, limit int, yield func(models.Photo) bool)
}

// Describer synthetisiert eine Beschreibung für ein Foto. Ein leerer String
// bedeutet "Anreicherung nicht verfügbar" und bricht nie die Pipeline ab.
type Describer interface {
	Enhance(ctx context.Context, title, date string) string
}

// AudioSynthesizer erzeugt Audio-Erzählung aus Text. Liefert Daten und
// Content-Type des erzeugten Containers.
type AudioSynthesizer interface {
	Generate(ctx context.Context, text string) ([]byte, string, error)
}

// Colorizer restauriert und koloriert historische Fotos.
type Colorizer interface {
	Colorize(ctx context.Context, imageURL string) ([]byte, error)
	ColorizeBytes(ctx context.Context, cacheKey string, image []byte) ([]byte, error)
}

// SplatGenerator erzeugt 3D-Gaussian-Rekonstruktionen als Batch-Job.
type SplatGenerator interface {
	GenerateSplats(ctx context.Context, imageURLs []string) ([]*sharp.Result, error)
}
