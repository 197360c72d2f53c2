package s3store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
)

// Provider puts artifacts into an S3 (or S3-compatible) bucket.
type Provider struct {
	client *s3.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

func init() {
	provider.Register("s3", func(cfg config.Config, logger zerolog.Logger) (provider.Provider, error) {
		return New(context.Background(), cfg.S3, cfg.RemotePrefix, logger)
	})
}

// New loads the AWS configuration chain. Static keys win over the chain when
// set; a custom endpoint switches to path-style addressing for MinIO and friends.
func New(ctx context.Context, c config.S3Config, prefix string, logger zerolog.Logger) (*Provider, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3: S3_BUCKET is required")
	}
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		// One attempt per run.
		awsconfig.WithRetryMaxAttempts(1),
	}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep := strings.TrimSpace(c.Endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	logger.Debug().Str("action", "s3_client").Str("bucket", c.Bucket).Str("region", region).
		Str("endpoint", c.Endpoint).Msg("s3 client ready")
	return &Provider{client: client, bucket: c.Bucket, prefix: prefix, logger: logger}, nil
}

func (p *Provider) Name() string { return "s3" }

// Upload puts the artifact under prefix/name and returns its s3:// location.
func (p *Provider) Upload(ctx context.Context, a dump.Artifact) (string, error) {
	key := provider.ObjectKey(p.prefix, a.Name)

	f, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrUpload, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Str("file", a.Path).Msg("failed to close source file after upload")
		}
	}()

	start := time.Now()
	p.logger.Info().Str("action", "s3_upload").Str("bucket", p.bucket).Str("key", key).
		Int64("size", a.Size).Msg("starting upload")

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(a.Size),
		ContentType:   aws.String(a.ContentType),
		Metadata:      map[string]string{"sha256": a.SHA256},
	})
	if err != nil {
		p.logger.Error().Err(err).Str("action", "s3_upload").Str("bucket", p.bucket).Str("key", key).
			Dur("elapsed_ms", time.Since(start)).Msg("upload failed")
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: s3 put object: %s: %s", provider.ErrUpload, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return "", fmt.Errorf("%w: s3 put object: %v", provider.ErrUpload, err)
	}

	loc := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	p.logger.Info().Str("action", "s3_upload").Str("location", loc).
		Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return loc, nil
}
