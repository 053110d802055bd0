package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/checkout-backend/internal/config"
)

type fakeS3 struct {
	s3iface.S3API
	puts []*s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, in)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestEventArchiveStore(t *testing.T) {
	client := &fakeS3{}
	archive := NewEventArchiveWithClient(client, "events")
	archive.now = func() time.Time { return time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC) }

	key, err := archive.Store(context.Background(), "stripe", "evt_1", []byte(`{"id":"evt_1"}`))

	require.NoError(t, err)
	assert.Equal(t, "provider-events/stripe/2025/03/09/evt_1.json", key)
	require.Len(t, client.puts, 1)
	assert.Equal(t, "events", aws.StringValue(client.puts[0].Bucket))
	assert.Equal(t, `{"id":"evt_1"}`, string(client.body))
}

func TestEventArchiveError(t *testing.T) {
	archive := NewEventArchiveWithClient(&fakeS3{err: errors.New("access denied")}, "events")

	_, err := archive.Store(context.Background(), "stripe", "evt_1", []byte(`{}`))

	assert.ErrorContains(t, err, "access denied")
}

func TestEventArchiveDisabledWithoutCredentials(t *testing.T) {
	archive, err := NewEventArchive(config.AWSConfig{EventBucket: "events"})
	require.NoError(t, err)

	key, err := archive.Store(context.Background(), "stripe", "evt_1", []byte(`{}`))

	assert.NoError(t, err)
	assert.Empty(t, key)
	assert.False(t, archive.Enabled())
}
