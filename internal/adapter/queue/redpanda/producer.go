// Package redpanda provides the Kafka-compatible queue integration.
//
// Verification tasks travel on TopicVerify with exactly-once enqueue
// semantics (transactional producer) and are consumed by a group-transact
// session. Payloads the consumer cannot decode are parked on TopicVerifyDLQ
// with their original bytes intact.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// txn serializes transactions; the client allows one at a time.
	txn chan struct{}
}

var _ domain.Queue = (*Producer)(nil)

// NewProducer constructs a Producer with a per-process transactional ID so
// replicas never fence each other.
func NewProducer(cfg config.Config) (*Producer, error) {
	return NewProducerWithTransactionalID(cfg, "ai-job-verifier-producer-"+uuid.NewString())
}

// NewProducerWithTransactionalID constructs a Producer with a caller-chosen
// transactional ID. Tests use it to isolate producers from each other.
func NewProducerWithTransactionalID(cfg config.Config, transactionalID string) (*Producer, error) {
	if len(cfg.QueueBrokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.QueueBrokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1 << 20),
		kgo.WithHooks(tracingHooks()...),
	}
	opts = append(opts, authOpts(cfg)...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}
	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ensureTopics(bootCtx, client, 1)

	slog.Info("queue producer ready",
		slog.Any("brokers", cfg.QueueBrokers),
		slog.String("transactional_id", transactionalID))
	return &Producer{
		client: client,
		topic:  TopicVerify,
		txn:    make(chan struct{}, 1),
	}, nil
}

// EnqueueVerification publishes one verification task, keyed by job number
// so tasks for the same job stay ordered.
func (p *Producer) EnqueueVerification(ctx domain.Context, payload domain.VerificationTaskPayload) (string, error) {
	return p.EnqueueVerificationToTopic(ctx, payload, p.topic)
}

// EnqueueVerificationToTopic publishes to a specific topic. Tests use unique
// topics for isolation.
func (p *Producer) EnqueueVerificationToTopic(ctx domain.Context, payload domain.VerificationTaskPayload, topic string) (string, error) {
	if payload.VerificationRequestID == "" || payload.JobNo == "" {
		return "", fmt.Errorf("%w: verification request id and job number required", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	select {
	case p.txn <- struct{}{}:
		defer func() { <-p.txn }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(payload.JobNo),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "verification_request_id", Value: []byte(payload.VerificationRequestID)},
			{Key: "job_no", Value: []byte(payload.JobNo)},
		},
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("transaction abort failed", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("verification task enqueued",
		slog.String("request_id", payload.VerificationRequestID),
		slog.String("job_no", payload.JobNo),
		slog.String("topic", topic))
	return payload.VerificationRequestID, nil
}

// Close releases the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// authOpts returns SASL/PLAIN options when queue credentials are configured.
func authOpts(cfg config.Config) []kgo.Opt {
	if cfg.QueueUser == "" {
		return nil
	}
	return []kgo.Opt{kgo.SASL(plain.Auth{
		User: cfg.QueueUser,
		Pass: cfg.QueuePassword,
	}.AsMechanism())}
}

// tracingHooks wires kotel so queue spans join the global trace provider.
func tracingHooks() []kgo.Hook {
	k := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	return k.Hooks()
}
