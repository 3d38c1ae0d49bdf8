package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// DLQConsumer drains the dead-letter topic, recording each poison message to
// the activity log and metrics. Messages stay on the topic for manual
// re-drive; nothing is replayed automatically.
type DLQConsumer struct {
	client   *kgo.Client
	activity domain.ActivityLogRepository
	groupID  string
}

// NewDLQConsumer constructs a plain consumer on the DLQ topic.
func NewDLQConsumer(cfg config.Config, groupID string, activity domain.ActivityLogRepository) (*DLQConsumer, error) {
	if len(cfg.QueueBrokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.QueueBrokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicVerifyDLQ),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(tracingHooks()...),
		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
	}
	opts = append(opts, authOpts(cfg)...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("op=queue.dlq_consumer: %w", err)
	}
	slog.Info("dlq consumer ready",
		slog.String("group_id", groupID), slog.String("topic", TopicVerifyDLQ))
	return &DLQConsumer{client: client, activity: activity, groupID: groupID}, nil
}

// Run consumes until ctx is cancelled or the client closes.
func (dc *DLQConsumer) Run(ctx context.Context) error {
	slog.Info("dlq consumer started",
		slog.String("group_id", dc.groupID), slog.String("topic", TopicVerifyDLQ))
	for {
		fetches := dc.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("dlq fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			continue
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			dc.recordPoison(ctx, rec)
		})
	}
}

// recordPoison notes one dead-lettered message. Duplicate entries after a
// crash are fine; the activity log is append-only.
func (dc *DLQConsumer) recordPoison(ctx context.Context, rec *kgo.Record) {
	reason := headerValue(rec, "dlq_reason")
	jobNo := string(rec.Key)
	observability.DLQMessagesTotal.Inc()
	slog.Error("poison message on dead letter queue",
		slog.String("job_no", jobNo),
		slog.String("reason", reason),
		slog.Int64("offset", rec.Offset),
		slog.Int("value_size", len(rec.Value)))
	if dc.activity == nil {
		return
	}
	desc := "Queue message dead-lettered"
	if reason != "" {
		desc = fmt.Sprintf("Queue message dead-lettered: %s", reason)
	}
	if err := dc.activity.Append(ctx, domain.ActivityEvent{
		EventType:    domain.EventQueuePoison,
		Description:  desc,
		RelatedJobID: jobNo,
	}); err != nil {
		slog.Warn("poison message not recorded to activity log", slog.Any("error", err))
	}
}

func headerValue(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close releases the underlying client.
func (dc *DLQConsumer) Close() error {
	if dc.client != nil {
		dc.client.Close()
	}
	return nil
}
