package models

import "time"

// Record repräsentiert ein einzelnes angereichertes Foto innerhalb eines
// Journals. Die Einfüge-Reihenfolge (ID aufsteigend) ist die Kapitel-Reihenfolge.
type Record struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	JournalID uint `json:"journal_id" gorm:"index;not null"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty" gorm:"type:text"`

	// URLs in den Asset-Store; leer, solange das jeweilige Asset fehlt.
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	ColorURL string `json:"color_url,omitempty"`

	// Wird nach dem Insert asynchron vom 3D-Job gesetzt — die einzige
	// Mutation nach dem Einfügen.
	SplatURL string `json:"splat_url,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (Record) TableName() string {
	return "records"
}
