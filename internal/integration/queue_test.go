//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// startRedpanda runs a single-node dev-mode broker. The advertised address
// must be reachable from the host, so the kafka port is pinned to a fixed
// host port instead of a random mapped one; parallel tests pass distinct
// ports.
func startRedpanda(t *testing.T, ctx context.Context, hostPort int) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.3.7",
		ExposedPorts: []string{"9092/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--smp", "1",
			"--memory", "512M",
			"--reserve-memory", "0M",
			"--node-id", "0",
			"--check=false",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", fmt.Sprintf("PLAINTEXT://127.0.0.1:%d", hostPort),
			"--default-log-level=error",
			"--mode", "dev-container",
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(90 * time.Second),
		HostConfigModifier: func(hc *containerTypes.HostConfig) {
			if hc.PortBindings == nil {
				hc.PortBindings = nat.PortMap{}
			}
			hc.PortBindings[nat.Port("9092/tcp")] = []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", hostPort)},
			}
		},
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	return fmt.Sprintf("127.0.0.1:%d", hostPort)
}

type handled struct {
	requestID string
	jobNo     string
}

func TestQueueProduceConsume_TransactionalRoundtrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	broker := startRedpanda(t, ctx, 19092)
	cfg := config.Config{QueueBrokers: []string{broker}}

	got := make(chan handled, 4)
	handler := &redpanda.VerificationHandler{
		Process: func(_ context.Context, requestID, jobNo string) error {
			got <- handled{requestID: requestID, jobNo: jobNo}
			return nil
		},
	}

	// The consumer constructor bootstraps the topics.
	consumer, err := redpanda.NewConsumer(cfg, "roundtrip-workers", handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = consumer.Close() })

	producer, err := redpanda.NewProducer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = producer.Close() })

	id1, err := producer.EnqueueVerification(ctx, domain.VerificationTaskPayload{VerificationRequestID: "req-1", JobNo: "J000100"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", id1)
	_, err = producer.EnqueueVerification(ctx, domain.VerificationTaskPayload{VerificationRequestID: "req-2", JobNo: "J000200"})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go func() { _ = consumer.Run(runCtx) }()

	want := map[string]string{"req-1": "J000100", "req-2": "J000200"}
	for i := 0; i < len(want); i++ {
		select {
		case h := <-got:
			assert.Equal(t, want[h.requestID], h.jobNo)
			delete(want, h.requestID)
		case <-time.After(90 * time.Second):
			t.Fatalf("timed out, still waiting for %v", want)
		}
	}
}

func TestQueueDeadLetter_PoisonAndBareJobNumber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	broker := startRedpanda(t, ctx, 19093)
	cfg := config.Config{QueueBrokers: []string{broker}}

	dsn := startPostgres(t, ctx)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.Eventually(t, func() bool { return pool.Ping(ctx) == nil }, 30*time.Second, time.Second)
	require.NoError(t, postgres.Migrate(ctx, pool))

	requests := postgres.NewVerificationRequestRepo(pool)
	activity := postgres.NewActivityLogRepo(pool)

	got := make(chan handled, 4)
	handler := &redpanda.VerificationHandler{
		Requests: requests,
		Process: func(_ context.Context, requestID, jobNo string) error {
			if jobNo != "J000777" {
				t.Errorf("record for job %q reached the orchestrator, want only J000777", jobNo)
			}
			got <- handled{requestID: requestID, jobNo: jobNo}
			return nil
		},
	}

	consumer, err := redpanda.NewConsumer(cfg, "poison-workers", handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = consumer.Close() })

	dlqConsumer, err := redpanda.NewDLQConsumer(cfg, "poison-dlq-workers", activity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dlqConsumer.Close() })

	// Raw producer, standing in for external publishers that bypass the
	// transactional path. One undecodable record and one bare job number.
	raw, err := kgo.NewClient(kgo.SeedBrokers(broker))
	require.NoError(t, err)
	t.Cleanup(raw.Close)
	require.NoError(t, raw.ProduceSync(ctx,
		&kgo.Record{Topic: redpanda.TopicVerify, Key: []byte("poison"), Value: []byte("{invalid json")},
		&kgo.Record{Topic: redpanda.TopicVerify, Key: []byte("J000777"), Value: []byte(`"J000777"`)},
	).FirstErr())

	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go func() { _ = consumer.Run(runCtx) }()
	go func() { _ = dlqConsumer.Run(runCtx) }()

	// The bare job number spawns a PENDING request and is processed.
	var h handled
	select {
	case h = <-got:
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for the bare job number to be processed")
	}
	assert.Equal(t, "J000777", h.jobNo)
	require.NotEmpty(t, h.requestID)
	spawned, err := requests.Get(ctx, h.requestID)
	require.NoError(t, err)
	assert.Equal(t, "J000777", spawned.JobNo)
	assert.Equal(t, domain.RequestPending, spawned.Status)

	// The poison record lands on the DLQ and is noted in the activity log.
	require.Eventually(t, func() bool {
		var n int
		err := pool.QueryRow(ctx,
			`SELECT count(*) FROM activity_log WHERE event_type=$1 AND related_job_id=$2`,
			domain.EventQueuePoison, "poison").Scan(&n)
		return err == nil && n >= 1
	}, 90*time.Second, time.Second, "poison message never reached the activity log")
}
