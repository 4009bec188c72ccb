package aws_s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sharedcode/accessmgr"
)

const largeBatchMinSize = 10 * 1024 * 1024

// Archiver is an event sink that writes each flushed batch as one immutable
// JSON object. Object keys start with the batch's first occurredAt in the
// fixed-width wire layout, so a key listing pages the archive in
// chronological order.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiver archives batches under prefix in the given bucket. An empty
// prefix stores at the bucket root.
func NewArchiver(client *s3.Client, bucket string, prefix string) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("client parameter can't be nil")
	}
	if bucket == "" {
		return nil, accessmgr.NewError(accessmgr.ArgumentNilError, "archive bucket name is required")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// Process uploads the batch. Batch keys embed the first event's id, so a
// redelivered batch overwrites its own earlier object rather than duplicating
// it.
func (a *Archiver) Process(ctx context.Context, events []accessmgr.Event) error {
	if len(events) == 0 {
		return nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return a.upload(ctx, a.batchKey(events[0]), data)
}

func (a *Archiver) batchKey(first accessmgr.Event) string {
	return fmt.Sprintf("%s%s_%s.json", a.prefix, first.OccurredAt, first.ID)
}

func (a *Archiver) upload(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if len(data) > largeBatchMinSize {
		uploader := manager.NewUploader(a.client, func(u *manager.Uploader) {
			u.PartSize = largeBatchMinSize
		})
		_, err := uploader.Upload(ctx, input)
		return err
	}
	_, err := a.client.PutObject(ctx, input)
	return err
}

// ReadBatch fetches one archived batch by key.
func (a *Archiver) ReadBatch(ctx context.Context, key string) ([]accessmgr.Event, error) {
	downloader := manager.NewDownloader(a.client, func(d *manager.Downloader) {
		d.PartSize = largeBatchMinSize
	})
	buffer := manager.NewWriteAtBuffer([]byte{})
	_, err := downloader.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	var events []accessmgr.Event
	if err := json.Unmarshal(buffer.Bytes(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ListBatches returns up to limit batch keys after afterKey, oldest first.
// Pass "" to start from the beginning of the archive.
func (a *Archiver) ListBatches(ctx context.Context, afterKey string, limit int32) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(a.prefix),
		MaxKeys: aws.Int32(limit),
	}
	if afterKey != "" {
		input.StartAfter = aws.String(afterKey)
	}
	output, err := a.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(output.Contents))
	for _, obj := range output.Contents {
		keys = append(keys, *obj.Key)
	}
	return keys, nil
}

// CreateArchiveBucket provisions the archive bucket. Already owning the
// bucket is not an error, so instance bootstrap can call this unconditionally.
func CreateArchiveBucket(ctx context.Context, client *s3.Client, bucketName string, region string) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		},
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("couldn't create bucket %s in Region %s, details: %v", bucketName, region, err)
	}
	return nil
}

// RemoveArchiveBucket deletes the archive bucket. The bucket must be empty.
func RemoveArchiveBucket(ctx context.Context, client *s3.Client, bucketName string) error {
	_, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		return fmt.Errorf("couldn't remove bucket %s, details: %v", bucketName, err)
	}
	return nil
}
