// Package miniofixture creates a throwaway bucket on a local Minio for each test.
package miniofixture

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"gotest.tools/v3/assert"

	"github.com/circleci/vcr/config/secret"
	"github.com/circleci/vcr/recontext"
	"github.com/circleci/vcr/testing/testrand"
)

// Fixture describes the bucket. Unset fields take the values of the local docker-compose Minio.
type Fixture struct {
	URL    string
	Region string
	Key    secret.String
	Secret secret.String
	Bucket string

	Client *s3.Client
}

// Default sets up a bucket with the default local Minio settings.
func Default(ctx context.Context, t testing.TB) *Fixture {
	fix := &Fixture{}
	Setup(ctx, t, fix)
	return fix
}

// Setup creates fix.Bucket, named after the test unless set, and removes it with everything
// in it when the test ends.
func Setup(ctx context.Context, t testing.TB, fix *Fixture) {
	t.Helper()
	fix.defaults(t)
	if err := fix.reachable(); err != nil && !strings.EqualFold(os.Getenv("CI"), "true") {
		t.Skipf("Minio is not running: %v", err)
	}

	fix.Client = s3.New(s3.Options{
		Region:      fix.Region,
		Credentials: credentials.NewStaticCredentialsProvider(fix.Key.Raw(), fix.Secret.Raw(), ""),
		EndpointResolver: s3.EndpointResolverFromURL(fix.URL, func(e *aws.Endpoint) {
			e.SigningRegion = fix.Region
			e.HostnameImmutable = true
		}),
		UsePathStyle: true,
	})

	_, err := fix.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(fix.Bucket)})
	assert.NilError(t, err, "create bucket %q", fix.Bucket)

	t.Cleanup(func() {
		ctx, cancel := recontext.WithNewTimeout(ctx, 30*time.Second)
		defer cancel()
		assert.Check(t, fix.remove(ctx))
	})
}

func (f *Fixture) defaults(t testing.TB) {
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&f.URL, "http://localhost:9123")
	set(&f.Region, "us-east-1")
	set((*string)(&f.Key), "minio")
	set((*string)(&f.Secret), "minio123")
	if f.Bucket == "" {
		f.Bucket = BucketName(t)
	}
}

func (f *Fixture) reachable() error {
	u, err := url.Parse(f.URL)
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout("tcp", u.Host, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

// BucketName derives a valid bucket name from the test name.
func BucketName(t testing.TB) string {
	t.Helper()
	name := strings.ReplaceAll(strings.ToLower(t.Name()), "_", "-")
	return strings.TrimRight(testrand.Name(name, "-", 63), "-")
}

// remove empties and deletes the bucket. Minio sometimes reports a bucket as not empty just
// after its last object was deleted, so the whole thing is retried.
func (f *Fixture) remove(ctx context.Context) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 5), ctx)
	return backoff.Retry(func() error {
		err := f.empty(ctx)
		if err == nil {
			_, err = f.Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(f.Bucket)})
		}
		var missing *types.NoSuchBucket
		if errors.As(err, &missing) {
			return nil
		}
		return err
	}, b)
}

func (f *Fixture) empty(ctx context.Context) error {
	pages := s3.NewListObjectsV2Paginator(f.Client, &s3.ListObjectsV2Input{Bucket: aws.String(f.Bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return err
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, o := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: o.Key})
		}
		_, err = f.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(f.Bucket),
			Delete: &types.Delete{Objects: ids},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
