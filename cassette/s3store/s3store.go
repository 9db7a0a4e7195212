// Package s3store keeps one object per cassette in an S3 compatible bucket. Objects use the
// same encodings as filestore, so a cassette directory can be synced to a bucket as is.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/zstd"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/config/secret"
)

type Config struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "cassettes/"
	Prefix string
	// Format defaults to JSON
	Format   cassette.Format
	Compress bool

	// Optional, the default AWS credential chain and endpoint are used when unset.
	// Endpoint and PathStyle are needed for Minio and similar.
	Endpoint  string
	Region    string
	Key       string
	Secret    secret.String
	PathStyle bool
}

type Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
	format     cassette.Format
	compress   bool
}

// New loads the AWS configuration and returns a store on c.Bucket.
func New(ctx context.Context, c Config) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Key != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.Key, c.Secret.Raw(), "")))
	}
	if c.Endpoint != "" {
		resolve := func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				PartitionID:       "aws",
				URL:               c.Endpoint,
				SigningRegion:     region,
				HostnameImmutable: true,
			}, nil
		}
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(resolve)))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = c.PathStyle
	})
	return NewWithClient(client, c)
}

func NewWithClient(client *s3.Client, c Config) (*Store, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}
	format := c.Format
	if format == "" {
		format = cassette.FormatJSON
	}
	if format != cassette.FormatYAML && format != cassette.FormatJSON {
		return nil, fmt.Errorf("s3store: unknown format %q", format)
	}
	return &Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     c.Bucket,
		prefix:     c.Prefix,
		format:     format,
		compress:   c.Compress,
	}, nil
}

func (s *Store) ext() string {
	ext := "." + string(s.format)
	if s.compress {
		ext += ".zst"
	}
	return ext
}

func (s *Store) key(name string) string {
	return s.prefix + name + s.ext()
}

func (s *Store) contentType() string {
	switch {
	case s.compress:
		return "application/zstd"
	case s.format == cassette.FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

func (s *Store) Save(ctx context.Context, name string, interactions []cassette.Interaction) error {
	b, err := cassette.Marshal(s.format, name, interactions)
	if err != nil {
		return err
	}
	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		b = enc.EncodeAll(b, nil)
		_ = enc.Close()
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String(s.contentType()),
	})
	return err
}

func (s *Store) LoadAll(ctx context.Context, name string) ([]cassette.Interaction, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return []cassette.Interaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if s.compress {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if b, err = dec.DecodeAll(b, nil); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", s.key(name), err)
		}
	}
	return cassette.Unmarshal(s.format, b)
}

func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	ext := s.ext()
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if !strings.HasSuffix(key, ext) {
				continue
			}
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), ext))
		}
	}
	sort.Strings(names)
	return names, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
