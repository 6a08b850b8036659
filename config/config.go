package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"3000"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// NAS Archives Online (externe Foto-Datenbank)
	NASBaseURL       string `envconfig:"NAS_BASE_URL" default:"https://www.nas.gov.sg/archivesonline"`
	ScrapeCandidates int    `envconfig:"SCRAPE_CANDIDATES" default:"100"`
	ScrapeLimit      int    `envconfig:"SCRAPE_LIMIT" default:"5"`

	// AI-Backends
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	ExaAPIKey    string `envconfig:"EXA_API_KEY"`

	// SHARP 3DGS Rekonstruktions-Service (RunPod)
	SharpAPIURL   string `envconfig:"SHARP_API_URL"`
	SharpAPIToken string `envconfig:"SHARP_API_TOKEN"`

	// Cloudflare R2 (S3-kompatibel)
	R2AccessKey   string `envconfig:"R2_ACCESS_KEY_ID" required:"true"`
	R2SecretKey   string `envconfig:"R2_SECRET_ACCESS_KEY" required:"true"`
	R2Endpoint    string `envconfig:"R2_ENDPOINT" required:"true"`
	R2Region      string `envconfig:"R2_REGION" default:"auto"`
	R2ImageBucket string `envconfig:"R2_IMAGE_BUCKET" default:"images"`
	R2AudioBucket string `envconfig:"R2_AUDIO_BUCKET" default:"audio"`
	R2SplatBucket string `envconfig:"R2_SPLAT_BUCKET" default:"splats"`

	// Öffentliche Domains pro Bucket (Custom Domains vor den Buckets)
	R2ImageDomain string `envconfig:"R2_IMAGE_DOMAIN"`
	R2AudioDomain string `envconfig:"R2_AUDIO_DOMAIN"`
	R2SplatDomain string `envconfig:"R2_SPLAT_DOMAIN"`

	// Zeitplan für den Splat-Nachzügler-Job
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// PublicURL gibt die öffentliche Basis-URL für einen Bucket zurück.
// Ohne konfigurierte Domain wird auf das R2-Endpoint zurückgefallen.
func (c *Config) PublicURL(bucket string) string {
	switch bucket {
	case c.R2ImageBucket:
		if c.R2ImageDomain != "" {
			return c.R2ImageDomain
		}
	case c.R2AudioBucket:
		if c.R2AudioDomain != "" {
			return c.R2AudioDomain
		}
	case c.R2SplatBucket:
		if c.R2SplatDomain != "" {
			return c.R2SplatDomain
		}
	}
	return fmt.Sprintf("%s/%s", c.R2Endpoint, bucket)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
