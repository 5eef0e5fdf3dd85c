//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
)

const testEventTopic = "test-air-quality-events"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node Kafka container and returns its broker address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrlConn, err := kafkago.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err, "dial controller")
	defer ctrlConn.Close()

	require.NoError(t, ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testEventTopic,
		KafkaGroupID: group,
	}
}

// TestEventRoundTrip verifies the adapter layer: a change event published by
// kafka.Writer comes back byte-identical through kafka.Reader and the codec.
func TestEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testEventTopic)

	cfg := testConfig(broker, fmt.Sprintf("test-roundtrip-%d", time.Now().UnixNano()))

	ts := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	sent := domain.NewChangeEvent(domain.CuratedRecord{
		City:      "Nairobi",
		Timestamp: ts,
		Pollutant: domain.PM25,
		Value:     12.5,
		Source:    domain.SourceOpenMeteo,
	}, ts.Add(5*time.Minute))

	var deliveryErr error
	var delivered sync.WaitGroup
	delivered.Add(1)
	writer := kafkaadapter.NewWriter(cfg, func(_ int, err error) {
		deliveryErr = err
		delivered.Done()
	}, discardLogger())

	require.NoError(t, writer.Publish(ctx, sent))
	delivered.Wait()
	require.NoError(t, deliveryErr)
	require.NoError(t, writer.Close())
	assert.Zero(t, writer.InFlight())

	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	raw, err := reader.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(domain.EventKey("Nairobi", ts)), raw.Key)
	assert.Equal(t, testEventTopic, raw.Topic)
	require.NotNil(t, raw.Commit)
	require.NoError(t, raw.Commit(ctx))

	got, err := kafkaadapter.DecodeEvent(raw.Value)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

// --- consumer fakes ---

type recordingRowWriter struct {
	mu      sync.Mutex
	written []domain.ChangeEvent
}

func (w *recordingRowWriter) WriteEvent(_ context.Context, ev domain.ChangeEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, ev)
	return nil
}

func (w *recordingRowWriter) events() []domain.ChangeEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.ChangeEvent(nil), w.written...)
}

type recordingDeadLetter struct {
	mu      sync.Mutex
	reasons []string
}

func (d *recordingDeadLetter) ValidationError(_ any, _ string, _ domain.Pollutant, detail string) {
	d.add("validation_error_" + detail)
}
func (d *recordingDeadLetter) ProcessingError(_ any, _ string, detail string) {
	d.add("processing_error_" + detail)
}
func (d *recordingDeadLetter) APIError(_, detail string) {
	d.add("api_error_" + detail)
}

func (d *recordingDeadLetter) add(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func (d *recordingDeadLetter) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.reasons...)
}

// TestConsumerSkipsPoisonMessage runs the durable consumer against real Kafka
// with a poison message ahead of a valid one: the poison message is
// dead-lettered and skipped, the valid event is materialized.
func TestConsumerSkipsPoisonMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testEventTopic)

	cfg := testConfig(broker, fmt.Sprintf("test-poison-%d", time.Now().UnixNano()))

	ts := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	valid := domain.NewChangeEvent(domain.CuratedRecord{
		City:      "Mombasa",
		Timestamp: ts,
		Pollutant: domain.Ozone,
		Value:     60.0,
		Source:    domain.SourceOpenMeteo,
	}, ts)
	validValue, err := kafkaadapter.EncodeEvent(valid)
	require.NoError(t, err)

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testEventTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-avro{{{")},
		kafkago.Message{Key: []byte("good"), Value: validValue},
	))

	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	rows := &recordingRowWriter{}
	dl := &recordingDeadLetter{}
	consumer := pipeline.NewConsumer(reader, rows, kafkaadapter.DecodeEvent, dl,
		discardLogger(), observability.NewMetricsForTesting())

	consumerCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(consumerCtx) }()

	require.Eventually(t, func() bool {
		return len(rows.events()) == 1
	}, 60*time.Second, 100*time.Millisecond, "valid event should be materialized")

	stop()
	require.NoError(t, <-errCh)

	events := rows.events()
	require.Len(t, events, 1)
	assert.Equal(t, valid, events[0])
	assert.Equal(t, []string{"processing_error_deserialize"}, dl.all())
	assert.NoError(t, consumer.CheckReadiness(ctx))
}
