package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

// Reader consumes time series records from a Kafka topic.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer for the topic. An empty groupID reads the
// partition from the first offset without committing.
func NewReader(brokers []string, topic, groupID string, logger *slog.Logger) *Reader {
	cfg := kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if groupID == "" {
		cfg.StartOffset = kafkago.FirstOffset
	}
	return &Reader{reader: kafkago.NewReader(cfg), logger: logger}
}

// ReadRecords reads until limit records have been received or ctx is done.
// A limit of zero or less reads until ctx is done. Records read before the
// context ends are returned without error.
func (r *Reader) ReadRecords(ctx context.Context, limit int) ([]timeseries.FlatRecord, error) {
	var out []timeseries.FlatRecord
	for limit <= 0 || len(out) < limit {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return out, fmt.Errorf("read message: %w", err)
		}
		rec, err := mapMessageToRecord(msg)
		if err != nil {
			r.logger.Warn("skipping undecodable message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRecord(msg kafkago.Message) (timeseries.FlatRecord, error) {
	var rec timeseries.FlatRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", msg.Key, err)
	}
	if rec.DatasetName() == "" {
		return nil, fmt.Errorf("record %q has no %s", msg.Key, timeseries.KeyDatasetName)
	}
	return rec, nil
}
