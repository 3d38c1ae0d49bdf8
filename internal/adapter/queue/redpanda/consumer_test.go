package redpanda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
)

// Constructor validation runs before any broker connection, so these tests
// need no running cluster.
func TestNewConsumerValidation(t *testing.T) {
	t.Parallel()
	handler := &VerificationHandler{}

	t.Run("requires brokers", func(t *testing.T) {
		c, err := NewConsumer(config.Config{}, "verify-workers", handler)

		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "no seed brokers")
	})

	t.Run("requires group ID", func(t *testing.T) {
		cfg := config.Config{QueueBrokers: []string{"localhost:9092"}}
		c, err := NewConsumer(cfg, "", handler)

		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "group ID")
	})

	t.Run("requires handler", func(t *testing.T) {
		cfg := config.Config{QueueBrokers: []string{"localhost:9092"}}
		c, err := NewConsumer(cfg, "verify-workers", nil)

		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "handler")
	})
}

func TestNewDLQConsumerValidation(t *testing.T) {
	t.Parallel()

	t.Run("requires brokers", func(t *testing.T) {
		c, err := NewDLQConsumer(config.Config{}, "dlq-monitor", nil)

		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "no seed brokers")
	})

	t.Run("requires group ID", func(t *testing.T) {
		cfg := config.Config{QueueBrokers: []string{"localhost:9092"}}
		c, err := NewDLQConsumer(cfg, "", nil)

		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "group ID")
	})
}
