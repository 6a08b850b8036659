package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"time-capsule/config"
	"time-capsule/models"
	"time-capsule/providers/exa"
	"time-capsule/providers/gemini"
	"time-capsule/providers/nas"
	"time-capsule/providers/openai"
	"time-capsule/providers/sharp"
	"time-capsule/services"
	"time-capsule/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	recordsEnrichedCounter prometheus.Counter
	splatsStoredCounter    prometheus.Counter
)

func init() {
	recordsEnrichedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "records_enriched_total",
			Help: "Total number of enriched records inserted into journals.",
		},
	)
	splatsStoredCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "splats_stored_total",
			Help: "Total number of 3D splat URLs stored on records.",
		},
	)
	prometheus.MustRegister(recordsEnrichedCounter, splatsStoredCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Journal{}, &models.Record{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Storage
	r2Client, err := storage.NewR2Client(cfg)
	if err != nil {
		logging.Fatal("R2 client creation failed", zap.Error(err))
	}
	assets := storage.NewAssetStore(r2Client, cfg)
	store := storage.NewJournalStore(db)

	// Setup Providers
	openaiClient := openai.NewClient(cfg, logging)
	geminiClient := gemini.NewClient(cfg, logging)
	exaFetcher := exa.NewFetcher(cfg, logging)
	sharpClient := sharp.NewClient(cfg, logging)

	var classifier nas.Classifier
	if cfg.OpenAIAPIKey != "" {
		classifier = openaiClient
	} else {
		logging.Warn("No OpenAI key configured, visual filter disabled.")
	}
	nasFetcher := nas.NewFetcher(cfg, logging, classifier)

	// Setup Services
	descriptions := services.NewDescriptionService(exaFetcher, geminiClient, logging)
	audio := services.NewAudioService(openaiClient, logging)
	colorizer := services.NewColorizeService(geminiClient, logging)
	journals := services.NewJournalService(cfg, store, assets, nasFetcher, descriptions, audio, colorizer, sharpClient, logging)
	journals.RecordsEnriched = recordsEnrichedCounter
	journals.SplatsStored = splatsStoredCounter

	// Setup Router
	router := gin.Default()

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(apiKeyAuthMiddleware(cfg))

	setupJournalRoutes(api, journals, logging)
	setupMediaRoutes(api, journals, logging)
	setupProxyRoutes(api, logging)

	// Setup Cron: Records fertiger Journale ohne Splat nachreichen
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled splat retry job...")
		count, err := journals.RetrySplats(context.Background())
		if err != nil {
			logging.Error("Splat retry job failed", zap.Error(err))
		} else {
			logging.Info("Splat retry job completed", zap.Int("submitted", count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupJournalRoutes(rg *gin.RouterGroup, journals *services.JournalService, log *zap.Logger) {
	group := rg.Group("/journal")

	// Such-Journal anlegen. Antwortet sofort mit der ID; der Client pollt
	// GET /journal/:id, während die Befüllung im Hintergrund läuft.
	group.POST("/search", func(c *gin.Context) {
		var req struct {
			Query    string `json:"query" binding:"required"`
			DateFrom string `json:"date_from"`
			DateTo   string `json:"date_to"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		id, err := journals.CreateFromSearch(c.Request.Context(), req.Query, req.DateFrom, req.DateTo)
		if err != nil {
			log.Error("Journal creation from search failed", zap.String("query", req.Query), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "archive search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "journalId": id})
	})

	// Nutzer-Journal aus hochgeladenen Einträgen anlegen. Multipart-Form:
	// "title", "items" (JSON-Array) plus Dateien image_<i> / audio_<i>.
	group.POST("/create", func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
			return
		}

		title := c.PostForm("title")
		itemsJSON := c.PostForm("items")
		if title == "" || itemsJSON == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title and items are required"})
			return
		}

		var meta []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(itemsJSON), &meta); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "items must be a JSON array"})
			return
		}

		items := make([]services.UploadItem, len(meta))
		for i := range meta {
			items[i].Title = meta[i].Title
			items[i].Description = meta[i].Description

			if data, header, ok := readFormFile(form, "image_", i); ok {
				items[i].Image = data
				items[i].ImageName = header.Filename
				items[i].ImageType = header.Header.Get("Content-Type")
			}
			if data, header, ok := readFormFile(form, "audio_", i); ok {
				items[i].Audio = data
				items[i].AudioName = header.Filename
				items[i].AudioType = header.Header.Get("Content-Type")
			}
		}

		id, err := journals.CreateFromUpload(c.Request.Context(), title, items)
		if err != nil {
			log.Error("Journal creation from upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create journal"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "journalId": id})
	})

	group.GET("/mine", func(c *gin.Context) {
		list, err := journals.ListUserCreated(c.Request.Context())
		if err != nil {
			log.Error("Listing user journals failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	group.POST("/batch", func(c *gin.Context) {
		var req struct {
			IDs []uint `json:"ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		list, err := journals.BatchGet(c.Request.Context(), req.IDs)
		if err != nil {
			log.Error("Batch journal fetch failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	group.GET("/:id", func(c *gin.Context) {
		var uri struct {
			ID uint `uri:"id" binding:"required"`
		}
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid journal id"})
			return
		}

		journal, err := journals.GetJournal(c.Request.Context(), uri.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "journal not found"})
				return
			}
			log.Error("Journal fetch failed", zap.Uint("id", uri.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, journal)
	})
}

func setupMediaRoutes(rg *gin.RouterGroup, journals *services.JournalService, log *zap.Logger) {
	// Audio-Erzählung on-demand: beim ersten Betrachten eines Kapitels ruft
	// der Client diesen Endpunkt, die URL wird am Record persistiert.
	rg.POST("/generate-audio", func(c *gin.Context) {
		var req struct {
			Text string `json:"text" binding:"required"`
			// Journal-ID des Aufrufers; nur für die Log-Korrelation, die
			// Synthese selbst ist rein text-adressiert.
			JournalID uint `json:"id"`
			RecordID  uint `json:"recordId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		url, err := journals.GenerateAudioFor(c.Request.Context(), req.Text, req.RecordID)
		if err != nil {
			log.Error("Audio generation failed", zap.Uint("journal_id", req.JournalID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "audio generation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "audioUrl": url})
	})

	rg.POST("/colorize-image", func(c *gin.Context) {
		var req struct {
			URL      string `json:"url" binding:"required"`
			RecordID uint   `json:"recordId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		url, err := journals.ColorizeFor(c.Request.Context(), req.URL, req.RecordID)
		if err != nil {
			log.Error("Colorization failed", zap.String("url", req.URL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "colorization failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "colorUrl": url})
	})

	rg.POST("/generate-3d", func(c *gin.Context) {
		var req struct {
			ImageURLs []string `json:"imageUrls" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		results, err := journals.Generate3D(c.Request.Context(), req.ImageURLs)
		if err != nil {
			log.Error("3D generation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "3d generation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
	})
}

// proxyClient streamt Archivbilder an den Browser durch. Der Browser selbst
// bekommt vom Archiv-Host kein CORS, also läuft der Abruf über uns.
var proxyClient = &http.Client{Timeout: 30 * time.Second}

func setupProxyRoutes(rg *gin.RouterGroup, log *zap.Logger) {
	rg.GET("/proxy-image", func(c *gin.Context) {
		rawURL := c.Query("url")
		if rawURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
			return
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, rawURL, nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url"})
			return
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
		req.Header.Set("Referer", "https://www.nas.gov.sg/")

		resp, err := proxyClient.Do(req)
		if err != nil {
			log.Warn("Image proxy request failed", zap.String("url", rawURL), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream fetch failed"})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream fetch failed"})
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		c.Header("Cache-Control", "public, max-age=3600")
		c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, nil)
	})
}

func readFormFile(form *multipart.Form, prefix string, index int) ([]byte, *multipart.FileHeader, bool) {
	headers := form.File[prefix+strconv.Itoa(index)]
	if len(headers) == 0 {
		return nil, nil, false
	}
	file, err := headers[0].Open()
	if err != nil {
		return nil, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, false
	}
	return data, headers[0], true
}
