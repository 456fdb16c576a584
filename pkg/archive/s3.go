// Package archive keeps a copy of every clearing file sent or received.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

// Archiver stores a file under a provider-scoped key.
type Archiver interface {
	Put(ctx context.Context, provider, name string, content []byte) error
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	api    putObjectAPI
	bucket string
	prefix string
	logg   *logger.Logger
}

// New returns an S3 archiver, or a no-op one when no bucket is configured.
func New(ctx context.Context, cfg config.ArchiveConfig, logg *logger.Logger) (Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return Noop{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3(s3.NewFromConfig(awsCfg), cfg, logg), nil
}

func newS3(api putObjectAPI, cfg config.ArchiveConfig, logg *logger.Logger) *S3 {
	return &S3{api: api, bucket: cfg.Bucket, prefix: cfg.Prefix, logg: logg}
}

// Key is prefix/provider/name.
func (a *S3) Key(provider, name string) string {
	return path.Join(a.prefix, provider, name)
}

func (a *S3) Put(ctx context.Context, provider, name string, content []byte) error {
	key := a.Key(provider, name)
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain; charset=iso-8859-1"),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive "+key)
	}
	if a.logg != nil {
		a.logg.Debug(a.logg.WithField(ctx, "archive_key", key), "file archived")
	}
	return nil
}

// Noop discards files.
type Noop struct{}

func (Noop) Put(context.Context, string, string, []byte) error { return nil }
