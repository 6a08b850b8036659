package models

import "time"

// Befüllungsstatus eines Journals. Records werden asynchron eingefügt;
// der Client pollt, bis der Status "complete" erreicht ist.
const (
	JournalPending   = "pending"
	JournalStreaming = "streaming"
	JournalComplete  = "complete"
	JournalFailed    = "failed"
)

// Journal repräsentiert eine Sammlung angereicherter Foto-Records,
// erzeugt durch eine Suche oder einen Nutzer-Upload.
type Journal struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	// Suchbegriff, bzw. Titel bei Nutzer-Uploads
	Query       string `json:"query" gorm:"index"`
	UserCreated bool   `json:"user_created" gorm:"index;default:false"`
	Status      string `json:"status" gorm:"index;default:'pending'"`

	// Nie omitempty: Clients pollen dieses Feld und erwarten auch vor dem
	// ersten Record ein leeres Array statt eines fehlenden Schlüssels.
	Records []Record `json:"records" gorm:"foreignKey:JournalID"`
}

// TableName gibt explizit den Tabellennamen an.
func (Journal) TableName() string {
	return "journals"
}
