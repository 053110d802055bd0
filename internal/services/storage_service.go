// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/javajoker/checkout-backend/internal/config"
)

// EventArchive keeps raw provider callback bodies in S3 for replay and
// dispute handling. Without AWS credentials it stores nothing.
type EventArchive struct {
	s3Client s3iface.S3API
	bucket   string
	now      func() time.Time
}

func NewEventArchive(cfg config.AWSConfig) (*EventArchive, error) {
	if cfg.AccessKeyID == "" {
		// Return archive without S3 for local development
		return &EventArchive{bucket: cfg.EventBucket, now: time.Now}, nil
	}

	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewEventArchiveWithClient(s3.New(sess), cfg.EventBucket), nil
}

func NewEventArchiveWithClient(client s3iface.S3API, bucket string) *EventArchive {
	return &EventArchive{s3Client: client, bucket: bucket, now: time.Now}
}

func (a *EventArchive) Enabled() bool {
	return a != nil && a.s3Client != nil
}

// Store writes body under provider/yyyy/mm/dd/eventID.json and returns the key.
func (a *EventArchive) Store(ctx context.Context, provider, eventID string, body []byte) (string, error) {
	if !a.Enabled() {
		return "", nil
	}

	key := a.objectKey(provider, eventID)
	_, err := a.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive provider event: %w", err)
	}
	return key, nil
}

func (a *EventArchive) objectKey(provider, eventID string) string {
	return path.Join("provider-events", provider, a.now().UTC().Format("2006/01/02"), eventID+".json")
}
