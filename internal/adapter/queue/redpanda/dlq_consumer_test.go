package redpanda

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

type fakeActivityLog struct {
	events    []domain.ActivityEvent
	appendErr error
}

func (f *fakeActivityLog) Append(_ domain.Context, e domain.ActivityEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, e)
	return nil
}

func TestRecordPoison(t *testing.T) {
	t.Parallel()

	t.Run("logs reason and job to activity", func(t *testing.T) {
		activity := &fakeActivityLog{}
		dc := &DLQConsumer{activity: activity}
		rec := &kgo.Record{
			Topic: TopicVerifyDLQ,
			Key:   []byte("J069026"),
			Value: []byte("%%%not json"),
			Headers: []kgo.RecordHeader{
				{Key: "dlq_reason", Value: []byte("schema invalid: undecodable payload")},
			},
		}

		dc.recordPoison(context.Background(), rec)

		require.Len(t, activity.events, 1)
		e := activity.events[0]
		assert.Equal(t, domain.EventQueuePoison, e.EventType)
		assert.Equal(t, "Queue message dead-lettered: schema invalid: undecodable payload", e.Description)
		assert.Equal(t, "J069026", e.RelatedJobID)
	})

	t.Run("omits reason suffix when header is absent", func(t *testing.T) {
		activity := &fakeActivityLog{}
		dc := &DLQConsumer{activity: activity}

		dc.recordPoison(context.Background(), &kgo.Record{Key: []byte("J1")})

		require.Len(t, activity.events, 1)
		assert.Equal(t, "Queue message dead-lettered", activity.events[0].Description)
	})

	t.Run("tolerates nil activity log", func(t *testing.T) {
		dc := &DLQConsumer{}

		dc.recordPoison(context.Background(), &kgo.Record{Key: []byte("J1")})
	})

	t.Run("swallows append failures", func(t *testing.T) {
		dc := &DLQConsumer{activity: &fakeActivityLog{appendErr: errors.New("db down")}}

		dc.recordPoison(context.Background(), &kgo.Record{Key: []byte("J1")})
	})
}

func TestHeaderValue(t *testing.T) {
	t.Parallel()
	rec := &kgo.Record{Headers: []kgo.RecordHeader{
		{Key: "dlq_reason", Value: []byte("empty payload")},
		{Key: "dlq_source_topic", Value: []byte(TopicVerify)},
	}}

	assert.Equal(t, "empty payload", headerValue(rec, "dlq_reason"))
	assert.Equal(t, TopicVerify, headerValue(rec, "dlq_source_topic"))
	assert.Empty(t, headerValue(rec, "missing"))
}
