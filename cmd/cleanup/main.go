package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"time-capsule/models"
)

// CleanupConfig ist die Konfiguration des Aufräum-Tools. Bewusst eigener
// Satz an Variablen, damit das Tool ohne die volle Server-Umgebung läuft.
type CleanupConfig struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	R2AccessKey string `envconfig:"R2_ACCESS_KEY_ID" required:"true"`
	R2SecretKey string `envconfig:"R2_SECRET_ACCESS_KEY" required:"true"`
	R2Endpoint  string `envconfig:"R2_ENDPOINT" required:"true"`
	R2Region    string `envconfig:"R2_REGION" default:"auto"`

	R2ImageBucket string `envconfig:"R2_IMAGE_BUCKET" default:"images"`
	R2AudioBucket string `envconfig:"R2_AUDIO_BUCKET" default:"audio"`
	R2SplatBucket string `envconfig:"R2_SPLAT_BUCKET" default:"splats"`
}

func main() {
	journalID := flag.Uint("journal", 0, "ID des zu löschenden Journals")
	dryRun := flag.Bool("dry-run", false, "Nur anzeigen, was gelöscht würde")
	flag.Parse()

	if *journalID == 0 {
		log.Fatal("Flag -journal ist erforderlich")
	}

	var cfg CleanupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Fehler bei der Datenbank-Verbindung: %v", err)
	}

	s3Client, err := createS3Client(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	var journal models.Journal
	if err := db.Preload("Records").First(&journal, *journalID).Error; err != nil {
		log.Fatalf("Journal %d nicht gefunden: %v", *journalID, err)
	}
	log.Printf("Journal %d (%q) mit %d Records", journal.ID, journal.Query, len(journal.Records))

	buckets := []string{cfg.R2ImageBucket, cfg.R2AudioBucket, cfg.R2SplatBucket}
	for _, record := range journal.Records {
		for _, asset := range []string{record.ImageURL, record.AudioURL, record.ColorURL, record.SplatURL} {
			bucket, key, ok := resolveObject(asset, buckets)
			if !ok {
				continue
			}
			if *dryRun {
				log.Printf("würde löschen: s3://%s/%s", bucket, key)
				continue
			}
			// Asset-Löschen ist Best-Effort; verwaiste Objekte sind billiger
			// als ein abgebrochener Lauf.
			_, err := s3Client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				log.Printf("Löschen von s3://%s/%s fehlgeschlagen: %v", bucket, key, err)
			}
		}
	}

	if *dryRun {
		log.Printf("würde %d Records und Journal %d löschen", len(journal.Records), journal.ID)
		return
	}

	if err := db.Where("journal_id = ?", journal.ID).Delete(&models.Record{}).Error; err != nil {
		log.Fatalf("Fehler beim Löschen der Records: %v", err)
	}
	if err := db.Delete(&models.Journal{}, journal.ID).Error; err != nil {
		log.Fatalf("Fehler beim Löschen des Journals: %v", err)
	}

	log.Printf("Journal %d erfolgreich gelöscht.", journal.ID)
}

func createS3Client(cfg CleanupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               cfg.R2Endpoint,
			HostnameImmutable: true,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.R2AccessKey, cfg.R2SecretKey, "")),
		awsconfig.WithRegion(cfg.R2Region),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// resolveObject ordnet eine gespeicherte Asset-URL einem unserer Buckets zu.
// URLs fremder Hosts (z.B. Quell-URL-Fallbacks des Archivs) werden übergangen.
func resolveObject(assetURL string, buckets []string) (bucket, key string, ok bool) {
	if assetURL == "" {
		return "", "", false
	}
	parsed, err := url.Parse(assetURL)
	if err != nil {
		return "", "", false
	}

	path := strings.TrimPrefix(parsed.Path, "/")
	for _, b := range buckets {
		// Custom-Domain-Form: https://<domain>/<key> mit Bucket in der Domain,
		// Endpoint-Form: https://<endpoint>/<bucket>/<key>.
		if strings.HasPrefix(path, b+"/") {
			return b, strings.TrimPrefix(path, b+"/"), true
		}
		if strings.Contains(parsed.Host, b) && path != "" {
			return b, path, true
		}
	}
	return "", "", false
}
