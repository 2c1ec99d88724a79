// Package resource opens model resources by name: local files relative to
// a base directory, s3://bucket/key objects, and gzip-compressed variants of
// either (names ending in .gz).
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// S3Client is the part of the S3 API the opener uses. *s3.Client
// satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the client created for s3:// names when none is
// supplied. Empty fields fall back to the AWS default chain.
type S3Config struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Option configures an Opener.
type Option func(*Opener)

// WithBaseDir sets the directory relative file names are resolved against.
func WithBaseDir(dir string) Option {
	return func(o *Opener) { o.baseDir = dir }
}

// WithS3Client sets the client used for s3:// names.
func WithS3Client(c S3Client) Option {
	return func(o *Opener) { o.s3 = c }
}

// WithS3Config sets how the s3:// client is created on first use.
func WithS3Config(cfg S3Config) Option {
	return func(o *Opener) { o.s3cfg = cfg }
}

// WithLogger sets the logger for resource opens.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Opener) { o.log = l }
}

// Opener opens resources by name. It is safe for concurrent use.
type Opener struct {
	baseDir string
	log     zerolog.Logger

	s3cfg  S3Config
	s3     S3Client
	s3Once sync.Once
	s3Err  error
}

// New returns an Opener.
func New(opts ...Option) *Opener {
	o := &Opener{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open returns a reader for name. Names ending in .gz are decompressed.
// A missing file or object yields an error wrapping fs.ErrNotExist.
func (o *Opener) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var (
		rc       io.ReadCloser
		location string
		err      error
	)
	if strings.HasPrefix(name, "s3://") {
		location = name
		rc, err = o.openS3(ctx, name)
	} else {
		location = o.Resolve(name)
		rc, err = os.Open(location)
	}
	if err != nil {
		return nil, fmt.Errorf("resource: open %s: %w", name, err)
	}
	o.log.Debug().Str("resource", name).Str("location", location).Msg("resource opened")
	if !strings.HasSuffix(name, ".gz") {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("resource: gunzip %s: %w", name, err)
	}
	return &gzipReadCloser{Reader: zr, under: rc}, nil
}

// Resolve returns the local path for a relative name.
func (o *Opener) Resolve(name string) string {
	if o.baseDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(o.baseDir, name)
}

func (o *Opener) openS3(ctx context.Context, name string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URL(name)
	if err != nil {
		return nil, err
	}
	client, err := o.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 object %s: %w", name, os.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}

func (o *Opener) client(ctx context.Context) (S3Client, error) {
	o.s3Once.Do(func() {
		if o.s3 != nil {
			return
		}
		o.s3, o.s3Err = newS3Client(ctx, o.s3cfg)
	})
	return o.s3, o.s3Err
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(name string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(name, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", name)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url %q needs a bucket and a key", name)
	}
	return bucket, key, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	return errors.Join(g.Reader.Close(), g.under.Close())
}
