// Package archive uploads generated snapshots and reports to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"musicow-insight-go/internal/config"
)

const uploadTimeout = 2 * time.Minute

// ErrNoBucket is returned when archiving is enabled without a bucket.
var ErrNoBucket = errors.New("archive: bucket is required")

// PutObjectAPI is the slice of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver copies local files into a bucket under a key prefix.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	log    zerolog.Logger
}

// New wraps an existing client.
func New(client PutObjectAPI, bucket, prefix string, log zerolog.Logger) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
	}
}

// FromConfig builds an S3 client from the archive section. Static keys are used when both are
// set, otherwise the default AWS credential chain applies. Endpoint and path style allow MinIO
// and other compatible stores.
func FromConfig(ctx context.Context, cfg config.Archive, log zerolog.Logger) (*Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrNoBucket
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return New(client, cfg.Bucket, cfg.Prefix, log), nil
}

// Key returns the object key for a local file: <prefix>/<YYYYMMDD>/<basename>.
func (a *Archiver) Key(localPath string, day time.Time) string {
	return path.Join(a.prefix, day.Format("20060102"), filepath.Base(localPath))
}

// Upload sends one file and returns its object key.
func (a *Archiver) Upload(ctx context.Context, localPath string, day time.Time) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	key := a.Key(localPath, day)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(localPath)),
	}
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	a.log.Info().Str("bucket", a.bucket).Str("key", key).Int("bytes", len(data)).Msg("file archived")
	return key, nil
}

// UploadAll uploads every path, skipping empty ones, and joins the failures.
func (a *Archiver) UploadAll(ctx context.Context, paths []string, day time.Time) ([]string, error) {
	var keys []string
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		key, err := a.Upload(ctx, p, day)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		keys = append(keys, key)
	}
	return keys, errors.Join(errs...)
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".tsv":
		return "text/tab-separated-values; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
