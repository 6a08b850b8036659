package storage

import (
	"context"

	"time-capsule/models"

	"gorm.io/gorm"
)

// JournalStore ist die gorm-Implementierung der Journal/Record-Persistenz.
type JournalStore struct {
	DB *gorm.DB
}

// NewJournalStore erstellt einen neuen JournalStore.
func NewJournalStore(db *gorm.DB) *JournalStore {
	return &JournalStore{DB: db}
}

// FindByQuery sucht ein bestehendes Such-Journal mit identischem Query-String.
// Kein Treffer ist kein Fehler (nil, nil).
func (s *JournalStore) FindByQuery(ctx context.Context, query string) (*models.Journal, error) {
	var journal models.Journal
	err := s.DB.WithContext(ctx).
		Where("query = ? AND user_created = ?", query, false).
		First(&journal).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &journal, nil
}

// CreateJournal legt ein neues Journal an.
func (s *JournalStore) CreateJournal(ctx context.Context, journal *models.Journal) error {
	return s.DB.WithContext(ctx).Create(journal).Error
}

// SetJournalStatus aktualisiert den Befüllungsstatus eines Journals.
func (s *JournalStore) SetJournalStatus(ctx context.Context, id uint, status string) error {
	return s.DB.WithContext(ctx).
		Model(&models.Journal{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// InsertRecord fügt einen einzelnen Record ein (Streaming-Insert).
func (s *JournalStore) InsertRecord(ctx context.Context, record *models.Record) error {
	return s.DB.WithContext(ctx).Create(record).Error
}

// InsertRecords fügt mehrere Records als Batch ein (Upload-Pfad).
func (s *JournalStore) InsertRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Create(&records).Error
}

// SetRecordSplatURL setzt die Splat-URL eines Records nach Abschluss des 3D-Jobs.
func (s *JournalStore) SetRecordSplatURL(ctx context.Context, recordID uint, url string) error {
	return s.DB.WithContext(ctx).
		Model(&models.Record{}).
		Where("id = ?", recordID).
		Update("splat_url", url).Error
}

// SetRecordAudioURL setzt die Audio-URL eines Records (Lazy-Audio).
func (s *JournalStore) SetRecordAudioURL(ctx context.Context, recordID uint, url string) error {
	return s.DB.WithContext(ctx).
		Model(&models.Record{}).
		Where("id = ?", recordID).
		Update("audio_url", url).Error
}

// SetRecordColorURL setzt die URL des kolorierten Bilds eines Records.
func (s *JournalStore) SetRecordColorURL(ctx context.Context, recordID uint, url string) error {
	return s.DB.WithContext(ctx).
		Model(&models.Record{}).
		Where("id = ?", recordID).
		Update("color_url", url).Error
}

// GetJournal lädt ein Journal inklusive seiner Records in Kapitel-Reihenfolge
// (ID aufsteigend). Unbekannte IDs liefern gorm.ErrRecordNotFound.
func (s *JournalStore) GetJournal(ctx context.Context, id uint) (*models.Journal, error) {
	var journal models.Journal
	err := s.DB.WithContext(ctx).
		Preload("Records", func(db *gorm.DB) *gorm.DB {
			return db.Order("id asc")
		}).
		First(&journal, id).Error
	if err != nil {
		return nil, err
	}
	if journal.Records == nil {
		journal.Records = []models.Record{}
	}
	return &journal, nil
}

// GetJournals lädt Journal-Zusammenfassungen (ohne Records) für die gegebenen
// IDs, neueste zuerst. Unbekannte IDs werden stillschweigend ausgelassen.
func (s *JournalStore) GetJournals(ctx context.Context, ids []uint) ([]models.Journal, error) {
	if len(ids) == 0 {
		return []models.Journal{}, nil
	}
	var journals []models.Journal
	err := s.DB.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at desc").
		Find(&journals).Error
	if err != nil {
		return nil, err
	}
	return journals, nil
}

// ListUserCreated listet alle Upload-Journale, neueste zuerst.
func (s *JournalStore) ListUserCreated(ctx context.Context) ([]models.Journal, error) {
	var journals []models.Journal
	err := s.DB.WithContext(ctx).
		Where("user_created = ?", true).
		Order("created_at desc").
		Find(&journals).Error
	if err != nil {
		return nil, err
	}
	return journals, nil
}

// RecordsMissingSplat liefert Records fertiger Journale, die ein Bild, aber
// noch keine 3D-Rekonstruktion haben. Grundlage für den Nachzügler-Cron-Job.
func (s *JournalStore) RecordsMissingSplat(ctx context.Context, limit int) ([]models.Record, error) {
	var records []models.Record
	err := s.DB.WithContext(ctx).
		Joins("JOIN journals ON journals.id = records.journal_id").
		Where("journals.status = ?", models.JournalComplete).
		Where("records.splat_url = '' AND records.image_url <> ''").
		Order("records.id asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
