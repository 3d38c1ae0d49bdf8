package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

const (
	// TopicVerify carries verification task payloads.
	TopicVerify = "verify-jobs"
	// TopicVerifyDLQ receives payloads the consumer could not decode.
	TopicVerifyDLQ = "dlq-verify-jobs"

	// kafkaErrTopicAlreadyExists is Kafka protocol error code 36.
	kafkaErrTopicAlreadyExists = 36
)

// createTopicIfNotExists issues a CreateTopics request and treats
// TOPIC_ALREADY_EXISTS as success, so every process can bootstrap on start.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 || replicationFactor <= 0 {
		return fmt.Errorf("topic %s: partitions and replication factor must be positive", topic)
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("create topic %s: unexpected response type %T", topic, resp)
	}
	for _, t := range createResp.Topics {
		if t.ErrorCode == 0 {
			slog.Info("topic created",
				slog.String("topic", t.Topic),
				slog.Int("partitions", int(partitions)))
			continue
		}
		if t.ErrorCode == kafkaErrTopicAlreadyExists {
			slog.Debug("topic already exists", slog.String("topic", t.Topic))
			continue
		}
		msg := ""
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		return fmt.Errorf("create topic %s: %s (code %d)", t.Topic, msg, t.ErrorCode)
	}
	return nil
}

// ensureTopics bootstraps the verify topic and its DLQ. Failures are logged
// and swallowed; the broker may forbid topic creation while the topics
// already exist.
func ensureTopics(ctx context.Context, client *kgo.Client, partitions int32) {
	for _, topic := range []string{TopicVerify, TopicVerifyDLQ} {
		if err := createTopicIfNotExists(ctx, client, topic, partitions, 1); err != nil {
			slog.Warn("topic bootstrap failed, it may already exist",
				slog.String("topic", topic), slog.Any("error", err))
		}
	}
}
