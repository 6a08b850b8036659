package storage

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"time-capsule/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// NewR2Client erstellt einen S3-Client für Cloudflare R2.
func NewR2Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.R2Endpoint,
				SigningRegion:     cfg.R2Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.R2Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.R2AccessKey, cfg.R2SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// AssetStore lädt binäre Assets (Bilder, Audio, Splats) in R2-Buckets hoch
// und liefert öffentliche URLs zurück.
type AssetStore struct {
	Client *s3.Client
	Config *config.Config
}

// NewAssetStore erstellt einen neuen AssetStore.
func NewAssetStore(client *s3.Client, cfg *config.Config) *AssetStore {
	return &AssetStore{Client: client, Config: cfg}
}

// Put lädt einen Buffer in den angegebenen Bucket hoch. Der Objekt-Key wird
// aus einer UUID und dem bereinigten Dateinamen gebildet, damit gleichnamige
// Uploads nicht kollidieren.
func (s *AssetStore) Put(ctx context.Context, bucket string, data []byte, contentType, name string) (string, error) {
	key := fmt.Sprintf("%s-%s", uuid.NewString(), keySanitizer.ReplaceAllString(name, ""))
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("r2 upload nach %s fehlgeschlagen: %w", bucket, err)
	}
	return fmt.Sprintf("%s/%s", s.Config.PublicURL(bucket), key), nil
}
