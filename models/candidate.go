package models

// Candidate ist ein rohes Suchergebnis von der Trefferliste des Archivs.
// TempTitle stammt aus der Liste und wird ggf. durch den ausführlicheren
// Titel der Detailseite ersetzt.
type Candidate struct {
	TempTitle string `json:"temp_title"`
	URL       string `json:"url"`
	ImageURL  string `json:"image_url"`
	Date      string `json:"date"`
}

// Photo ist ein aufgelöstes, dedupliziertes und visuell gefiltertes
// Suchergebnis, bereit für die Anreicherung.
type Photo struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
	Date     string `json:"date"`
}
