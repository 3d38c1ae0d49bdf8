package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
)

// Consumer drains the verify topic with a group-transact session. Each poll
// batch runs inside one transaction so dead-letter forwards commit atomically
// with the consumed offsets; an aborted batch is redelivered and absorbed by
// the orchestrator's claim step.
type Consumer struct {
	session *kgo.GroupTransactSession
	handler *VerificationHandler
	groupID string
	topic   string
	// maxConcurrency bounds in-flight records per poll batch.
	maxConcurrency int
}

// NewConsumer constructs a Consumer on the verify topic with a per-process
// transactional ID.
func NewConsumer(cfg config.Config, groupID string, handler *VerificationHandler) (*Consumer, error) {
	return NewConsumerWithTopic(cfg, groupID, "ai-job-verifier-consumer-"+uuid.NewString(), handler, TopicVerify)
}

// NewConsumerWithTopic constructs a Consumer on a caller-chosen topic and
// transactional ID. Tests use it for isolation.
func NewConsumerWithTopic(cfg config.Config, groupID, transactionalID string, handler *VerificationHandler, topic string) (*Consumer, error) {
	if len(cfg.QueueBrokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if handler == nil {
		return nil, fmt.Errorf("missing verification handler")
	}

	// Topic bootstrap with a short-lived plain client; the session below
	// refuses to consume a topic that does not exist yet.
	boot, err := kgo.NewClient(append([]kgo.Opt{
		kgo.SeedBrokers(cfg.QueueBrokers...),
	}, authOpts(cfg)...)...)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer_bootstrap: %w", err)
	}
	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ensureTopics(bootCtx, boot, 8)
	cancel()
	boot.Close()

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.QueueBrokers...),
		kgo.TransactionalID(transactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(tracingHooks()...),
		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),
		kgo.FetchMaxBytes(10 << 20),
		kgo.FetchMaxWait(5 * time.Second),
	}
	opts = append(opts, authOpts(cfg)...)

	session, err := kgo.NewGroupTransactSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}

	maxConcurrency := cfg.ConsumerMaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	c := &Consumer{
		session:        session,
		handler:        handler,
		groupID:        groupID,
		topic:          topic,
		maxConcurrency: maxConcurrency,
	}
	if handler.DeadLetter == nil {
		handler.DeadLetter = c.forwardToDLQ
	}
	slog.Info("queue consumer ready",
		slog.String("group_id", groupID),
		slog.String("topic", topic),
		slog.Int("max_concurrency", maxConcurrency))
	return c, nil
}

// Run consumes until ctx is cancelled or the client closes.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("queue consumer started",
		slog.String("group_id", c.groupID), slog.String("topic", c.topic))
	for {
		fetches := c.session.PollFetches(ctx)
		if fetches.IsClientClosed() {
			slog.Info("queue consumer client closed")
			return nil
		}
		if err := ctx.Err(); err != nil {
			slog.Info("queue consumer stopping", slog.Any("cause", err))
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			continue
		}
		if fetches.NumRecords() == 0 {
			continue
		}

		if err := c.session.Begin(); err != nil {
			slog.Error("begin batch transaction failed", slog.Any("error", err))
			continue
		}
		var g errgroup.Group
		g.SetLimit(c.maxConcurrency)
		fetches.EachRecord(func(rec *kgo.Record) {
			g.Go(func() error {
				return c.handler.Handle(ctx, rec)
			})
		})
		batchErr := g.Wait()

		try := kgo.TryCommit
		if batchErr != nil {
			slog.Error("batch processing failed, aborting transaction", slog.Any("error", batchErr))
			try = kgo.TryAbort
		}
		committed, err := c.session.End(ctx, try)
		switch {
		case err != nil:
			slog.Error("end batch transaction failed", slog.Any("error", err))
		case !committed:
			slog.Warn("batch transaction aborted, records will be redelivered",
				slog.Int("records", fetches.NumRecords()))
		default:
			slog.Info("batch committed", slog.Int("records", fetches.NumRecords()))
		}
	}
}

// forwardToDLQ republishes the original bytes on the DLQ topic inside the
// current batch transaction.
func (c *Consumer) forwardToDLQ(ctx context.Context, rec *kgo.Record, reason string) error {
	dead := &kgo.Record{
		Topic: TopicVerifyDLQ,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: append(rec.Headers,
			kgo.RecordHeader{Key: "dlq_reason", Value: []byte(reason)},
			kgo.RecordHeader{Key: "dlq_source_topic", Value: []byte(rec.Topic)},
		),
	}
	return c.session.ProduceSync(ctx, dead).FirstErr()
}

// Close releases the session; an in-flight transaction is aborted.
func (c *Consumer) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}
