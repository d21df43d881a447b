// Package publish uploads a finished table to S3-compatible storage
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	"github.com/ethpandaops/sfbulk/pkg/retry"
	"github.com/sirupsen/logrus"
)

// PutObjectAPI is the part of the S3 client the publisher uses
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads slices and manifests
type Publisher struct {
	log logrus.FieldLogger
	cfg *Config
	api PutObjectAPI
}

// New creates a publisher with an S3 client built from cfg
func New(log logrus.FieldLogger, cfg *Config) *Publisher {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}

		opts.BaseEndpoint = aws.String(endpoint)
	}

	return NewWithAPI(log, cfg, s3.New(opts))
}

// NewWithAPI creates a publisher over an existing client
func NewWithAPI(log logrus.FieldLogger, cfg *Config, api PutObjectAPI) *Publisher {
	return &Publisher{
		log: log.WithField("component", "publisher"),
		cfg: cfg,
		api: api,
	}
}

// Upload is one object to publish
type Upload struct {
	Path        string
	Key         string
	ContentType string
}

// Plan lists the uploads of a table: every slice under
// <prefix>/<table>/slices/ followed by the manifest
func (p *Publisher) Plan(table string, slices []string, manifestPath string) []Upload {
	base := path.Join(p.cfg.Prefix, table)
	uploads := make([]Upload, 0, len(slices)+1)

	for _, s := range slices {
		uploads = append(uploads, Upload{
			Path:        s,
			Key:         path.Join(base, "slices", filepath.Base(s)),
			ContentType: "text/csv",
		})
	}

	if manifestPath != "" {
		uploads = append(uploads, Upload{
			Path:        manifestPath,
			Key:         path.Join(base, "manifest.json"),
			ContentType: "application/json",
		})
	}

	return uploads
}

// Publish uploads the table and returns the object keys written. The
// manifest goes last so readers never see it before its slices.
func (p *Publisher) Publish(ctx context.Context, table string, slices []string, manifestPath string) ([]string, error) {
	uploads := p.Plan(table, slices, manifestPath)
	keys := make([]string, 0, len(uploads))

	for _, u := range uploads {
		if err := p.put(ctx, u); err != nil {
			return keys, err
		}

		keys = append(keys, u.Key)
	}

	p.log.WithFields(logrus.Fields{
		"bucket":  p.cfg.Bucket,
		"table":   table,
		"objects": len(keys),
	}).Info("Published table")

	return keys, nil
}

func (p *Publisher) put(ctx context.Context, u Upload) error {
	op := "publish.put"

	return retry.Do(ctx, p.cfg.Retry, op, func(ctx context.Context) error {
		f, err := os.Open(u.Path)
		if err != nil {
			return failure.Wrap(failure.KindInternal, op, err)
		}

		defer f.Close()

		_, err = p.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.Bucket),
			Key:         aws.String(u.Key),
			Body:        f,
			ContentType: aws.String(u.ContentType),
		})
		if err != nil {
			return failure.Wrap(failure.KindTransient, op, fmt.Errorf("failed to upload %s: %w", u.Key, err))
		}

		return nil
	}, func(attempt int, err error) {
		observability.RecordRetry(op)
		p.log.WithError(err).WithFields(logrus.Fields{
			"key":     u.Key,
			"attempt": attempt,
		}).Warn("Upload failed, retrying")
	})
}
