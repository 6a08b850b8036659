package nas

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"time-capsule/config"
	"time-capsule/models"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

var (
	httpClient  = &http.Client{Timeout: 30 * time.Second}
	imageClient = &http.Client{Timeout: 5 * time.Second}
	dateRegex   = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})`)
	// Thumbnail-Variante ("...a.jpg") auf das Vollbild umschreiben
	thumbRegex = regexp.MustCompile(`(?i)a\.jpg$`)
)

// Classifier entscheidet binär, ob ein Bild eine Bodenaufnahme-Fotografie ist.
// Fehler des Classifiers führen zum Behalten des Bilds (fail open).
type Classifier interface {
	IsPhotograph(ctx context.Context, image []byte) (bool, error)
}

// Fetcher ist der Source Connector gegen NAS Archives Online. Er liefert
// deduplizierte, visuell gefilterte Foto-Kandidaten für eine Suchanfrage.
type Fetcher struct {
	Config     *config.Config
	Logger     *zap.Logger
	Classifier Classifier
}

// NewFetcher erstellt einen neuen NAS-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger, classifier Classifier) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger, Classifier: classifier}
}

// Discover holt die Trefferliste des Archivs für die Suchanfrage. Es wird
// bewusst eine Obermenge angefragt, um Verluste durch Deduplizierung und
// visuelle Filterung aufzufangen. Ein unerreichbares Archiv ist ein harter
// Fehler; der Aufrufer entscheidet, wie er ihn behandelt.
func (f *Fetcher) Discover(ctx context.Context, query, dateFrom, dateTo string) ([]models.Candidate, error) {
	params := url.Values{}
	params.Set("search-type", "advanced")
	params.Set("keywords", query)
	params.Set("keywords-type", "all")
	params.Set("max-display", strconv.Itoa(f.Config.ScrapeCandidates))
	if dateFrom != "" {
		params.Set("date-from", dateFrom)
	}
	if dateTo != "" {
		params.Set("date-to", dateTo)
	}

	searchURL := fmt.Sprintf("%s/photographs/search-result?%s", f.Config.NASBaseURL, params.Encode())
	log := f.Logger.With(zap.String("query", query))
	log.Info("Rufe NAS-Trefferliste ab.", zap.String("url", searchURL))

	doc, err := f.fetchDocument(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("nas-trefferliste nicht erreichbar: %w", err)
	}

	var candidates []models.Candidate
	doc.Find(".searchResultItem").Each(func(i int, sel *goquery.Selection) {
		link := sel.Find(".resultData a.linkRow")
		img := sel.Find(".imageColumn img")

		tempTitle := strings.TrimSpace(sel.Find(".details").Eq(1).Text())
		if tempTitle == "" {
			tempTitle = strings.TrimSpace(link.Text())
		}

		date := strings.TrimSpace(sel.Find(".resultData .date").Text())
		if date == "" {
			if m := dateRegex.FindString(sel.Find(".resultData").Text()); m != "" {
				date = m
			}
		}

		href, _ := link.Attr("href")
		src, _ := img.Attr("src")
		fullLink := f.normalizeURL(href, true)
		fullImage := f.normalizeURL(src, false)
		if fullImage != "" {
			fullImage = thumbRegex.ReplaceAllString(fullImage, ".jpg")
		}

		if fullLink != "" && fullImage != "" {
			candidates = append(candidates, models.Candidate{
				TempTitle: tempTitle,
				URL:       fullLink,
				ImageURL:  fullImage,
				Date:      date,
			})
		}
	})

	log.Info("Kandidaten extrahiert", zap.Int("count", len(candidates)))
	return candidates, nil
}

// Resolve verarbeitet Kandidaten in Reihenfolge, bis limit eindeutige,
// gefilterte Fotos gesammelt sind: Detailseiten-Titel auflösen, nach Titel
// deduplizieren, visuell filtern. Jedes akzeptierte Foto wird sofort per
// yield gestreamt; liefert yield false, bricht Resolve ab.
func (f *Fetcher) Resolve(ctx context.Context, candidates []models.Candidate, limit int, yield func(models.Photo) bool) {
	seenTitles := make(map[string]bool)
	accepted := 0

	for _, item := range candidates {
		if accepted >= limit {
			break
		}

		title, err := f.fetchDetailTitle(ctx, item.URL)
		if err != nil {
			// Detail-Fetch-Fehler sind nicht fatal: das Foto wird mit dem
			// Listen-Titel übernommen, sofern eindeutig.
			f.Logger.Warn("Detailseite nicht abrufbar, nutze Listen-Titel",
				zap.String("url", item.URL), zap.Error(err))
			if key := normalizeTitle(item.TempTitle); !seenTitles[key] {
				seenTitles[key] = true
				accepted++
				if !yield(models.Photo{Title: item.TempTitle, URL: item.URL, ImageURL: item.ImageURL, Date: item.Date}) {
					return
				}
			}
			continue
		}
		if title == "" {
			title = item.TempTitle
		}

		key := normalizeTitle(title)
		if seenTitles[key] {
			f.Logger.Debug("Überspringe doppelten Titel", zap.String("title", title))
			continue
		}

		if !f.passesVisualFilter(ctx, item.ImageURL) {
			continue
		}

		seenTitles[key] = true
		accepted++
		if !yield(models.Photo{Title: title, URL: item.URL, ImageURL: item.ImageURL, Date: item.Date}) {
			return
		}
	}
}

// Search komponiert Discover und Resolve für den synchronen Suchpfad.
func (f *Fetcher) Search(ctx context.Context, query, dateFrom, dateTo string, limit int) ([]models.Photo, error) {
	candidates, err := f.Discover(ctx, query, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}

	var photos []models.Photo
	f.Resolve(ctx, candidates, limit, func(p models.Photo) bool {
		photos = append(photos, p)
		return true
	})

	f.Logger.Info("Suche abgeschlossen", zap.String("query", query), zap.Int("unique_items", len(photos)))
	return photos, nil
}

// fetchDetailTitle holt den ausführlichen Titel ("Unedited Description") von
// der Detailseite eines Kandidaten.
func (f *Fetcher) fetchDetailTitle(ctx context.Context, detailURL string) (string, error) {
	doc, err := f.fetchDocument(ctx, detailURL)
	if err != nil {
		return "", err
	}

	var title string
	doc.Find("label").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if !strings.Contains(sel.Text(), "Unedited Description Supplied by Transferring Agency") {
			return true
		}
		title = strings.TrimSpace(sel.Closest(".row").Find(".details").Text())
		return false
	})
	return title, nil
}

// passesVisualFilter lädt das Bild herunter und fragt den Classifier.
// Jeder Fehler auf diesem Pfad lässt das Bild durch (Verfügbarkeit vor
// Präzision).
func (f *Fetcher) passesVisualFilter(ctx context.Context, imageURL string) bool {
	if f.Classifier == nil {
		return true
	}

	image, err := f.downloadImage(ctx, imageURL)
	if err != nil {
		f.Logger.Warn("Bild für visuellen Filter nicht ladbar, behalte es",
			zap.String("url", imageURL), zap.Error(err))
		return true
	}

	isPhoto, err := f.Classifier.IsPhotograph(ctx, image)
	if err != nil {
		f.Logger.Warn("Visueller Filter fehlgeschlagen, behalte Bild",
			zap.String("url", imageURL), zap.Error(err))
		return true
	}
	if !isPhoto {
		f.Logger.Info("Visueller Filter hat Bild verworfen", zap.String("url", imageURL))
	}
	return isPhoto
}

func (f *Fetcher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func (f *Fetcher) downloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := imageClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// normalizeURL macht aus relativen und protokoll-relativen Links absolute URLs.
func (f *Fetcher) normalizeURL(raw string, archivePath bool) string {
	if raw == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(raw, "http"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return "https://www.nas.gov.sg" + raw
	default:
		if archivePath {
			return f.Config.NASBaseURL + "/" + raw
		}
		return raw
	}
}

// normalizeTitle bildet den Dedup-Schlüssel: Kleinbuchstaben, Whitespace
// zusammengefaltet. Das Archiv listet dasselbe Foto unter mehreren
// Thumbnail-Varianten mit identischem Titel.
func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
