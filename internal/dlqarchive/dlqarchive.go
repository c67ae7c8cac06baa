// Package dlqarchive optionally uploads dead-lettered envelopes to S3 for
// retention beyond the bus's bounded trim, per spec §D.2. Archival is
// best-effort: a failed upload is logged and never blocks DLQ processing.
package dlqarchive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mediapipeline/internal/model"
)

// Archiver uploads DLQ envelopes to a fixed S3 bucket. A nil *Archiver (no
// bucket configured) is a valid no-op value.
type Archiver struct {
	client *s3.Client
	bucket string
}

// New builds an Archiver targeting bucket, using the default AWS credential
// chain. Returns nil, nil when bucket is empty — archival is disabled.
func New(ctx context.Context, bucket string) (*Archiver, error) {
	if bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dlqarchive: load aws config: %w", err)
	}
	return &Archiver{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

// Archive uploads entry as s3://bucket/<service>/<originalMessageId>.json.
// Errors are logged by the caller; archival never blocks or retries DLQ
// processing (spec §D.2).
func (a *Archiver) Archive(ctx context.Context, entry model.DLQEntry) error {
	if a == nil {
		return nil
	}

	body, err := marshalEntry(entry)
	if err != nil {
		return fmt.Errorf("dlqarchive: marshal entry: %w", err)
	}

	key := fmt.Sprintf("%s/%s.json", entry.Service, entry.OriginalMessageID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("dlqarchive: put %s: %w", key, err)
	}
	return nil
}
