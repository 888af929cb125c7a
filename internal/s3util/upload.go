// Package s3util stores generated media in S3 and lists previously stored
// media for the history view. Objects are private; callers receive
// presigned GET URLs.
package s3util

import (
	"bytes"
	"context"
	"fmt"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// DefaultURLExpiry is how long presigned media URLs stay valid.
const DefaultURLExpiry = 24 * time.Hour

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner is the subset of the S3 presign client used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Bucket wraps one media bucket.
type Bucket struct {
	client    ObjectAPI
	presigner Presigner
	name      string
	expiry    time.Duration
}

// NewBucket creates a Bucket. expiry controls presigned URL lifetime
// (DefaultURLExpiry when zero).
func NewBucket(client ObjectAPI, presigner Presigner, name string, expiry time.Duration) *Bucket {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return &Bucket{client: client, presigner: presigner, name: name, expiry: expiry}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Put uploads data under key and returns a presigned GET URL for it.
func (b *Bucket) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	log.Debug().Str("bucket", b.name).Str("key", key).Int("bytes", len(data)).Msg("Uploading media to S3")

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.name,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	return b.PresignedURL(ctx, key)
}

// PresignedURL creates a pre-signed GET URL for key.
func (b *Bucket) PresignedURL(ctx context.Context, key string) (string, error) {
	result, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &b.name, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = b.expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
