package s3util

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Object is one stored media object with a browser-loadable URL.
type Object struct {
	Key          string
	URL          string
	Size         int64
	LastModified time.Time
}

// List returns up to limit objects under prefix, newest first, each with a
// presigned URL. limit <= 0 means no limit.
func (b *Bucket) List(ctx context.Context, prefix string, limit int) ([]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: &b.name, Prefix: &prefix}

	var objects []Object
	for {
		out, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			o := Object{Key: *obj.Key}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
		if out.IsTruncated == nil || !*out.IsTruncated || out.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	if limit > 0 && len(objects) > limit {
		objects = objects[:limit]
	}

	for i := range objects {
		url, err := b.PresignedURL(ctx, objects[i].Key)
		if err != nil {
			return nil, err
		}
		objects[i].URL = url
	}
	return objects, nil
}
