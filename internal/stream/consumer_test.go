package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"classification-pipeline/internal/events"
	"classification-pipeline/internal/logger"
)

const testTopic = "raw-transactions-test"

func startCluster(t *testing.T) []string {
	t.Helper()
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, testTopic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)
	return cluster.ListenAddrs()
}

func newGroupClient(t *testing.T, addrs []string, group string) *kgo.Client {
	t.Helper()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(addrs...),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumerGroup(group),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(100*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func produce(t *testing.T, addrs []string, values ...string) {
	t.Helper()
	client, err := kgo.NewClient(kgo.SeedBrokers(addrs...))
	require.NoError(t, err)
	defer client.Close()

	for _, v := range values {
		record := &kgo.Record{Topic: testTopic, Value: []byte(v)}
		require.NoError(t, client.ProduceSync(context.Background(), record).FirstErr())
	}
}

type deliveryRecorder struct {
	mu      sync.Mutex
	handled map[int64]int
}

func newDeliveryRecorder() *deliveryRecorder {
	return &deliveryRecorder{handled: map[int64]int{}}
}

// attempt records one delivery and returns which attempt this is.
func (r *deliveryRecorder) attempt(offset int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled[offset]++
	return r.handled[offset]
}

func (r *deliveryRecorder) count(offset int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled[offset]
}

func runConsumer(t *testing.T, consumer *Consumer, handle func(ctx context.Context, record *kgo.Record) error) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(ctx, handle)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func testConsumer(client *kgo.Client) *Consumer {
	return NewConsumer(client, logger.NewWithWriter("stream-test", io.Discard))
}

func TestRunRedeliversTransientFailure(t *testing.T) {
	addrs := startCluster(t)
	produce(t, addrs, "first", "second")

	client := newGroupClient(t, addrs, "redelivery-group")
	recorder := newDeliveryRecorder()

	stop := runConsumer(t, testConsumer(client), func(_ context.Context, record *kgo.Record) error {
		if recorder.attempt(record.Offset) == 1 && record.Offset == 0 {
			return errors.New("store unavailable")
		}
		return nil
	})
	defer stop()

	require.Eventually(t, func() bool {
		return recorder.count(0) >= 2 && recorder.count(1) >= 1
	}, 10*time.Second, 50*time.Millisecond,
		"a transiently failing record must be redelivered, not acknowledged")

	assert.Equal(t, 2, recorder.count(0), "failed once, then succeeded on redelivery")
	assert.Equal(t, 1, recorder.count(1), "later record handled only after the earlier one succeeded")
}

func TestRunCommitsSuccessAndRejection(t *testing.T) {
	addrs := startCluster(t)
	produce(t, addrs, "bad", "good")

	const group = "reject-group"
	client := newGroupClient(t, addrs, group)
	recorder := newDeliveryRecorder()

	stop := runConsumer(t, testConsumer(client), func(_ context.Context, record *kgo.Record) error {
		recorder.attempt(record.Offset)
		if string(record.Value) == "bad" {
			return events.NewValidationError("malformed record")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return recorder.count(0) == 1 && recorder.count(1) == 1
	}, 10*time.Second, 50*time.Millisecond)

	// A further record processed in a later poll guarantees the commit for
	// the first batch has been issued before the consumer shuts down.
	produce(t, addrs, "sentinel")
	require.Eventually(t, func() bool {
		return recorder.count(2) >= 1
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, 1, recorder.count(0), "a rejected record must not be redelivered")
	stop()
	client.Close()

	// A fresh consumer in the same group resumes from the committed
	// offsets: the rejected and the successful record must not reappear.
	second := newGroupClient(t, addrs, group)
	reseen := newDeliveryRecorder()
	stopSecond := runConsumer(t, testConsumer(second), func(_ context.Context, record *kgo.Record) error {
		reseen.attempt(record.Offset)
		return nil
	})
	time.Sleep(1500 * time.Millisecond)
	stopSecond()

	assert.Zero(t, reseen.count(0), "rejected record was committed and must not replay")
	assert.Zero(t, reseen.count(1), "successful record was committed and must not replay")
}
