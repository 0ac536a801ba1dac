// Package archive stores certificate snapshots in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"casevault/internal/custody"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO or other S3-compatible endpoint; empty for AWS
	Prefix   string
}

// Archiver writes each certificate once under a content-addressed key.
type Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
}

// Receipt identifies an archived certificate.
type Receipt struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	SHA256 string `json:"sha256"`
}

func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newArchiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newArchiver(client putObjectAPI, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key is certificates/<case>/<file>/<generatedAt>-<sha256>.json under the prefix.
func (a *Archiver) Key(c custody.Certificate, sum string) string {
	name := fmt.Sprintf("%s-%s.json", c.GeneratedAt.UTC().Format("20060102T150405.000000Z"), sum)
	return path.Join(a.prefix, "certificates", url.PathEscape(c.CaseID), url.PathEscape(c.FileHash), name)
}

func (a *Archiver) Archive(ctx context.Context, c custody.Certificate) (Receipt, error) {
	body, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal certificate: %w", err)
	}
	h := sha256.Sum256(body)
	sum := hex.EncodeToString(h[:])
	key := a.Key(c, sum)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			"case-id":     c.CaseID,
			"file-hash":   c.FileHash,
			"is-valid":    fmt.Sprintf("%t", c.Integrity.IsValid),
			"content-sha": sum,
		},
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to upload certificate to s3: %w", err)
	}
	return Receipt{Bucket: a.bucket, Key: key, SHA256: sum}, nil
}
