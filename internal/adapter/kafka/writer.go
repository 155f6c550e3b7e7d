// Package kafka publishes flat time series records to a Kafka topic and reads
// them back.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	json "github.com/goccy/go-json"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

// Message header keys.
const (
	HeaderDataset     = "dataset"
	HeaderMode        = "mode"
	HeaderTableType   = "table_type"
	HeaderPublishedAt = "published_at"
)

const (
	publishAttempts   = 3
	initialBackoff    = 200 * time.Millisecond
	maxPublishBackoff = 5 * time.Second
)

// Writer produces time series records to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	backoff time.Duration
}

// NewWriter creates a Kafka producer for the given topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger, backoff: initialBackoff}
}

// Publish serializes the records of one dataset and writes them in a single
// WriteMessages call.
func (w *Writer) Publish(ctx context.Context, records []timeseries.FlatRecord) error {
	if len(records) == 0 {
		return nil
	}
	publishedAt := domain.Now()
	msgs := make([]kafkago.Message, len(records))
	for i, rec := range records {
		msg, err := serializeToMessage(rec, publishedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.write(ctx, msgs); err != nil {
		return err
	}
	w.logger.Debug("published time series", "dataset", records[0].DatasetName(), "records", len(msgs))
	return nil
}

// write retries WriteMessages with exponential backoff until the attempts run
// out or ctx is cancelled.
func (w *Writer) write(ctx context.Context, msgs []kafkago.Message) error {
	backoff := w.backoff
	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err = w.writer.WriteMessages(ctx, msgs...); err == nil {
			return nil
		}
		if attempt == publishAttempts {
			break
		}
		w.logger.Warn("kafka write failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("write %d messages: %w", len(msgs), ctx.Err())
		}
		backoff = sharedretry.NextBackoff(backoff, maxPublishBackoff)
	}
	return fmt.Errorf("write %d messages after %d attempts: %w", len(msgs), publishAttempts, err)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey is datasetName/tableName/variableName.
func MessageKey(rec timeseries.FlatRecord) string {
	return strings.Join([]string{rec.DatasetName(), rec.TableName(), rec.VariableName()}, "/")
}

// serializeToMessage marshals a FlatRecord into a Kafka message.
func serializeToMessage(rec timeseries.FlatRecord, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize record %s: %w", MessageKey(rec), err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(rec)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderDataset, Value: []byte(rec.DatasetName())},
			{Key: HeaderMode, Value: []byte(rec.Mode())},
			{Key: HeaderTableType, Value: []byte(rec.TableType())},
			{Key: HeaderPublishedAt, Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
