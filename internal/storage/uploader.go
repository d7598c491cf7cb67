// Package storage uploads history exports to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/digkill/MoonPathBot/internal/models"
)

type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Prefix       string
	// LinkTTL bounds how long a download link stays valid.
	LinkTTL time.Duration
}

const defaultLinkTTL = time.Hour

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Exporter struct {
	cfg       Config
	client    objectPutter
	presigner objectPresigner
	now       func() time.Time
}

// export is the document written for one chat.
type export struct {
	Namespace  string                   `json:"namespace"`
	ExportedAt time.Time                `json:"exportedAt"`
	Plan       models.Plan              `json:"plan"`
	History    []models.HistoricReading `json:"history"`
}

func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "exports"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.New(options)
	return &Exporter{
		cfg:       cfg,
		client:    client,
		presigner: s3.NewPresignClient(client),
		now:       time.Now,
	}, nil
}

// ExportHistory writes records as a private JSON object and returns a
// presigned download link that expires after LinkTTL.
func (e *Exporter) ExportHistory(ctx context.Context, namespace string, plan models.Plan, records []models.HistoricReading) (string, error) {
	if records == nil {
		records = []models.HistoricReading{}
	}
	now := e.now().UTC()
	data, err := json.MarshalIndent(export{
		Namespace:  namespace,
		ExportedAt: now,
		Plan:       plan,
		History:    records,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}

	key := e.generateKey(now)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(e.cfg.Bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String("application/json"),
		ContentDisposition: aws.String(`attachment; filename="moonpath-history.json"`),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	req, err := e.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(e.cfg.LinkTTL))
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return req.URL, nil
}

// generateKey spreads exports by day under an unguessable name.
func (e *Exporter) generateKey(now time.Time) string {
	prefix := strings.Trim(e.cfg.Prefix, "/")
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+".json")
}
