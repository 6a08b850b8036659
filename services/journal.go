package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"time-capsule/config"
	"time-capsule/models"
	"time-capsule/providers/sharp"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
// Das Archiv und einige Bild-Hosts blocken Requests ohne Browser-Kennung.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	return t.Transport.RoundTrip(req)
}

// httpClient wird für alle externen Bild-Downloads in diesem Service verwendet.
var httpClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &CustomTransport{
		Transport: http.DefaultTransport,
	},
}

// splatTarget verknüpft einen eingefügten Record mit dem Bild, aus dem seine
// 3D-Rekonstruktion erzeugt wird.
type splatTarget struct {
	recordID uint
	imageURL string
}

// UploadItem ist ein Eintrag eines Nutzer-Uploads.
type UploadItem struct {
	Title       string
	Description string

	Image     []byte
	ImageName string
	ImageType string

	Audio     []byte
	AudioName string
	AudioType string
}

// JournalService orchestriert die Anreicherungs-Pipeline: Journal anlegen,
// Kandidaten durch Anreicherung und Asset-Upload treiben, Records streamend
// einfügen und 3D-Jobs anstoßen.
type JournalService struct {
	Config    *config.Config
	Store     JournalStore
	Assets    AssetStore
	Source    Source
	Describer Describer
	Audio     AudioSynthesizer
	Colorizer Colorizer
	Splats    SplatGenerator
	Logger    *zap.Logger

	// Optionale Pipeline-Zähler; nil bedeutet keine Metriken.
	RecordsEnriched prometheus.Counter
	SplatsStored    prometheus.Counter
}

// NewJournalService erstellt einen neuen JournalService.
func NewJournalService(cfg *config.Config, store JournalStore, assets AssetStore, source Source,
	describer Describer, audio AudioSynthesizer, colorizer Colorizer, splats SplatGenerator,
	logger *zap.Logger) *JournalService {
	return &JournalService{
		Config:    cfg,
		Store:     store,
		Assets:    assets,
		Source:    source,
		Describer: describer,
		Audio:     audio,
		Colorizer: colorizer,
		Splats:    splats,
		Logger:    logger,
	}
}

// CreateFromSearch legt ein Such-Journal an und gibt dessen ID sofort zurück;
// die Befüllung läuft im Hintergrund weiter, der Client pollt den Lesepfad.
// Wiederholte identische Suchen ohne Datumsfilter liefern das bestehende
// Journal zurück, ohne erneut zu scrapen. Ein unerreichbares Archiv ist der
// einzige harte Fehler; danach werden Fehler pro Item absorbiert.
func (s *JournalService) CreateFromSearch(ctx context.Context, query, dateFrom, dateTo string) (uint, error) {
	log := s.Logger.With(zap.String("query", query))

	if dateFrom == "" && dateTo == "" {
		existing, err := s.Store.FindByQuery(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("journal-suche fehlgeschlagen: %w", err)
		}
		if existing != nil {
			log.Info("Bestehendes Journal gefunden, überspringe Scrape.", zap.Uint("journal_id", existing.ID))
			return existing.ID, nil
		}
	}

	// Kickoff synchron: scheitert schon die Trefferliste, gibt es kein Journal.
	candidates, err := s.Source.Discover(ctx, query, dateFrom, dateTo)
	if err != nil {
		return 0, fmt.Errorf("archiv nicht erreichbar: %w", err)
	}

	journal := &models.Journal{Query: query, Status: models.JournalPending}
	if err := s.Store.CreateJournal(ctx, journal); err != nil {
		return 0, fmt.Errorf("journal konnte nicht angelegt werden: %w", err)
	}

	// Bewusst context.Background(): ein abgebrochener HTTP-Request des
	// Clients stoppt die Befüllung nicht.
	go s.populate(context.Background(), journal.ID, candidates)

	log.Info("Journal angelegt, Befüllung läuft im Hintergrund.", zap.Uint("journal_id", journal.ID))
	return journal.ID, nil
}

// populate treibt die Kandidaten eines Journals sequentiell durch die
// Pipeline. Sequentiell, damit die Einfüge-Reihenfolge der Records der
// Kandidaten-Reihenfolge entspricht (Kapitel-Reihenfolge des Lesepfads).
func (s *JournalService) populate(ctx context.Context, journalID uint, candidates []models.Candidate) {
	log := s.Logger.With(zap.Uint("journal_id", journalID))

	if err := s.Store.SetJournalStatus(ctx, journalID, models.JournalStreaming); err != nil {
		log.Error("Statuswechsel auf streaming fehlgeschlagen", zap.Error(err))
	}

	first := true
	var remainder []splatTarget

	s.Source.Resolve(ctx, candidates, s.Config.ScrapeLimit, func(photo models.Photo) bool {
		record, ok := s.ingestPhoto(ctx, journalID, photo)
		if !ok {
			return true // Fehler pro Item absorbieren, nächster Kandidat
		}

		if first {
			// Das erste Kapitel bekommt sofort seinen eigenen 3D-Job,
			// damit der Nutzer mit minimaler Latenz eine Vorschau sieht.
			first = false
			go s.runSplatJob(ctx, []splatTarget{{record.ID, record.ImageURL}})
		} else {
			remainder = append(remainder, splatTarget{record.ID, record.ImageURL})
		}
		return true
	})

	// Items 2..N als ein einziger Batch-Job, erst nach Ende des Streams.
	if len(remainder) > 0 {
		go s.runSplatJob(ctx, remainder)
	}

	if err := s.Store.SetJournalStatus(ctx, journalID, models.JournalComplete); err != nil {
		log.Error("Statuswechsel auf complete fehlgeschlagen", zap.Error(err))
	}
	log.Info("Journal-Befüllung abgeschlossen.")
}

// ingestPhoto reichert ein Foto an und fügt den Record ein. Jede Teilstufe
// degradiert einzeln: fehlende Beschreibung bleibt leer, fehlgeschlagene
// Kolorierung fällt auf die Originaldaten zurück, fehlgeschlagener Upload
// auf die Quell-URL. Nur ein fehlgeschlagener Insert verliert das Item.
func (s *JournalService) ingestPhoto(ctx context.Context, journalID uint, photo models.Photo) (*models.Record, bool) {
	log := s.Logger.With(zap.Uint("journal_id", journalID), zap.String("title", photo.Title))

	date := photo.Date
	if date == "" {
		date = "Unknown Date"
	}
	description := s.Describer.Enhance(ctx, photo.Title, date)

	imageURL := s.processImage(ctx, photo.ImageURL, log)

	record := &models.Record{
		JournalID:   journalID,
		Title:       photo.Title,
		Description: description,
		ImageURL:    imageURL,
	}
	if err := s.Store.InsertRecord(ctx, record); err != nil {
		log.Error("Record-Insert fehlgeschlagen, Item geht verloren", zap.Error(err))
		return nil, false
	}

	if s.RecordsEnriched != nil {
		s.RecordsEnriched.Inc()
	}
	log.Info("Record eingefügt", zap.Uint("record_id", record.ID))
	return record, true
}

// processImage lädt das Quellbild, versucht die Kolorierung/Aufwertung und
// lädt das Ergebnis in den Asset-Store. Jeder Fehlschlag degradiert auf die
// nächstbeste Bildreferenz, bis hin zur Quell-URL.
func (s *JournalService) processImage(ctx context.Context, sourceURL string, log *zap.Logger) string {
	data, err := downloadImage(ctx, sourceURL)
	if err != nil {
		log.Warn("Quellbild nicht ladbar, verweise auf Quell-URL", zap.Error(err))
		return sourceURL
	}

	if enhanced, err := s.Colorizer.ColorizeBytes(ctx, sourceURL, data); err != nil {
		log.Warn("Bild-Aufwertung fehlgeschlagen, nutze Original", zap.Error(err))
	} else {
		data = enhanced
	}

	name := fmt.Sprintf("scraped_%d.jpg", time.Now().UnixMilli())
	uploaded, err := s.Assets.Put(ctx, s.Config.R2ImageBucket, data, "image/jpeg", name)
	if err != nil {
		log.Warn("Bild-Upload fehlgeschlagen, verweise auf Quell-URL", zap.Error(err))
		return sourceURL
	}
	return uploaded
}

// runSplatJob reicht einen 3D-Batch ein und schreibt erfolgreiche Ergebnisse
// an die zugehörigen Records. Teilerfolge sind gültig: fehlgeschlagene Bilder
// behalten eine leere Splat-URL, eine Exception gibt es nicht.
func (s *JournalService) runSplatJob(ctx context.Context, targets []splatTarget) {
	// Records mit Quell-URL-Fallback (relative Pfade) vorab aussortieren:
	// die eingereichten URLs müssen 1:1 den Targets entsprechen, sonst
	// landen die positionsbezogenen Ergebnisse am falschen Record.
	valid := targets[:0:0]
	urls := make([]string, 0, len(targets))
	for _, t := range targets {
		if !strings.HasPrefix(t.imageURL, "http") {
			s.Logger.Warn("Überspringe Record ohne abrufbare Bild-URL im 3D-Job",
				zap.Uint("record_id", t.recordID), zap.String("image_url", t.imageURL))
			continue
		}
		valid = append(valid, t)
		urls = append(urls, t.imageURL)
	}
	targets = valid
	if len(targets) == 0 {
		return
	}

	log := s.Logger.With(zap.Int("images", len(urls)))
	results, err := s.Splats.GenerateSplats(ctx, urls)
	if err != nil {
		log.Error("3D-Job fehlgeschlagen", zap.Error(err))
		return
	}

	stored := 0
	for i, result := range results {
		if result == nil || i >= len(targets) {
			continue
		}
		if err := s.Store.SetRecordSplatURL(ctx, targets[i].recordID, result.PLYURL); err != nil {
			log.Error("Splat-URL konnte nicht gespeichert werden",
				zap.Uint("record_id", targets[i].recordID), zap.Error(err))
			continue
		}
		stored++
		if s.SplatsStored != nil {
			s.SplatsStored.Inc()
		}
	}
	log.Info("3D-Job abgeschlossen", zap.Int("stored", stored))
}

// CreateFromUpload legt ein Nutzer-Journal mit den hochgeladenen Einträgen
// an. Anders als beim Suchpfad gibt es keinen Streaming-Bedarf: alle Records
// werden als ein Batch eingefügt und die ID erst nach Abschluss zurückgegeben.
func (s *JournalService) CreateFromUpload(ctx context.Context, title string, items []UploadItem) (uint, error) {
	journal := &models.Journal{Query: title, UserCreated: true, Status: models.JournalComplete}
	if err := s.Store.CreateJournal(ctx, journal); err != nil {
		return 0, fmt.Errorf("journal konnte nicht angelegt werden: %w", err)
	}
	log := s.Logger.With(zap.Uint("journal_id", journal.ID))

	records := make([]models.Record, 0, len(items))
	for i, item := range items {
		record := models.Record{
			JournalID:   journal.ID,
			Title:       item.Title,
			Description: item.Description,
		}

		if len(item.Image) > 0 {
			data := item.Image
			if enhanced, err := s.Colorizer.ColorizeBytes(ctx, "", data); err != nil {
				log.Warn("Bild-Aufwertung fehlgeschlagen, nutze Original", zap.Int("item", i), zap.Error(err))
			} else {
				data = enhanced
			}
			url, err := s.Assets.Put(ctx, s.Config.R2ImageBucket, data, item.ImageType, item.ImageName)
			if err != nil {
				log.Warn("Bild-Upload fehlgeschlagen", zap.Int("item", i), zap.Error(err))
			} else {
				record.ImageURL = url
			}
		}

		switch {
		case len(item.Audio) > 0:
			url, err := s.Assets.Put(ctx, s.Config.R2AudioBucket, item.Audio, item.AudioType, item.AudioName)
			if err != nil {
				log.Warn("Audio-Upload fehlgeschlagen", zap.Int("item", i), zap.Error(err))
			} else {
				record.AudioURL = url
			}
		case item.Description != "":
			// Kein Audio mitgeliefert: Erzählung direkt aus der Beschreibung
			// synthetisieren. Bei kleinen Upload-Batches gibt es keinen Grund,
			// das auf später zu verschieben.
			data, contentType, err := s.Audio.Generate(ctx, item.Description)
			if err != nil {
				log.Warn("Audio-Synthese fehlgeschlagen", zap.Int("item", i), zap.Error(err))
				break
			}
			url, err := s.Assets.Put(ctx, s.Config.R2AudioBucket, data, contentType, audioFileName(contentType))
			if err != nil {
				log.Warn("Audio-Upload fehlgeschlagen", zap.Int("item", i), zap.Error(err))
				break
			}
			record.AudioURL = url
		}

		records = append(records, record)
	}

	if err := s.Store.InsertRecords(ctx, records); err != nil {
		return 0, fmt.Errorf("records konnten nicht eingefügt werden: %w", err)
	}

	log.Info("Upload-Journal angelegt", zap.Int("records", len(records)))
	return journal.ID, nil
}

// GenerateAudioFor synthetisiert Erzählung on-demand, lädt sie hoch und
// verknüpft sie bei gegebener Record-ID mit dem Record. Audio entsteht lazy
// beim ersten Betrachten eines Kapitels — nie betrachtete Kapitel kosten
// keine Synthese.
func (s *JournalService) GenerateAudioFor(ctx context.Context, text string, recordID uint) (string, error) {
	data, contentType, err := s.Audio.Generate(ctx, text)
	if err != nil {
		return "", err
	}

	url, err := s.Assets.Put(ctx, s.Config.R2AudioBucket, data, contentType, audioFileName(contentType))
	if err != nil {
		return "", err
	}

	if recordID > 0 {
		if err := s.Store.SetRecordAudioURL(ctx, recordID, url); err != nil {
			s.Logger.Error("Audio-URL konnte nicht am Record gespeichert werden",
				zap.Uint("record_id", recordID), zap.Error(err))
		}
	}
	return url, nil
}

// ColorizeFor koloriert ein Bild on-demand, lädt das Ergebnis hoch und
// persistiert die URL bei gegebener Record-ID am Record.
func (s *JournalService) ColorizeFor(ctx context.Context, imageURL string, recordID uint) (string, error) {
	data, err := s.Colorizer.Colorize(ctx, imageURL)
	if err != nil {
		return "", err
	}

	url, err := s.Assets.Put(ctx, s.Config.R2ImageBucket, data, "image/png", "colorized.png")
	if err != nil {
		return "", err
	}

	if recordID > 0 {
		if err := s.Store.SetRecordColorURL(ctx, recordID, url); err != nil {
			s.Logger.Error("Color-URL konnte nicht am Record gespeichert werden",
				zap.Uint("record_id", recordID), zap.Error(err))
		}
	}
	return url, nil
}

// Generate3D reicht die gegebenen Bilder direkt als 3D-Batch ein.
func (s *JournalService) Generate3D(ctx context.Context, imageURLs []string) ([]*sharp.Result, error) {
	return s.Splats.GenerateSplats(ctx, imageURLs)
}

// GetJournal liefert ein Journal mit Records in Kapitel-Reihenfolge.
func (s *JournalService) GetJournal(ctx context.Context, id uint) (*models.Journal, error) {
	return s.Store.GetJournal(ctx, id)
}

// BatchGet liefert Journal-Zusammenfassungen, neueste zuerst; unbekannte IDs
// werden ausgelassen, leere Eingabe ergibt eine leere Liste.
func (s *JournalService) BatchGet(ctx context.Context, ids []uint) ([]models.Journal, error) {
	return s.Store.GetJournals(ctx, ids)
}

// ListUserCreated liefert alle Upload-Journale, neueste zuerst.
func (s *JournalService) ListUserCreated(ctx context.Context) ([]models.Journal, error) {
	return s.Store.ListUserCreated(ctx)
}

// RetrySplats sammelt Records fertiger Journale ohne 3D-Rekonstruktion ein
// und reicht sie als einen Batch nach. Für den Cron-Job gedacht.
func (s *JournalService) RetrySplats(ctx context.Context) (int, error) {
	records, err := s.Store.RecordsMissingSplat(ctx, 20)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	targets := make([]splatTarget, len(records))
	for i, r := range records {
		targets[i] = splatTarget{r.ID, r.ImageURL}
	}
	s.runSplatJob(ctx, targets)
	return len(targets), nil
}

func downloadImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func audioFileName(contentType string) string {
	if contentType == "audio/wav" {
		return "narration.wav"
	}
	return "narration.mp3"
}
