// Command tsquery extracts flat time series records from converted LiPD
// datasets, a records file or a Kafka topic, filters them and either exports
// the result or folds it back into LiPD datasets.
//
// Usage:
//
//	go run ./cmd/tsquery -dir ./lipd -filter "archiveType is lake sediment" -out records.json
//	go run ./cmd/tsquery -records records.msgpack -filter "age > 1000" -collapse-to ./subset
//	go run ./cmd/tsquery -kafka-brokers localhost:9092 -kafka-topic paleo-timeseries -kafka-wait 10s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/paleo-data-etl/internal/adapter/fs"
	kafkaadapter "github.com/couchcryptid/paleo-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/paleo-data-etl/internal/query"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, "; ") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

type options struct {
	dir          string
	datasets     multiFlag
	recordsFile  string
	kafkaBrokers string
	kafkaTopic   string
	kafkaWait    time.Duration
	filters      multiFlag
	out          string
	format       string
	collapseTo   string
}

func main() {
	var o options
	flag.StringVar(&o.dir, "dir", "./lipd", "directory of converted LiPD datasets")
	flag.Var(&o.datasets, "dataset", "dataset to read (repeatable, default all)")
	flag.StringVar(&o.recordsFile, "records", "", "read records from a .json or .msgpack file instead of -dir")
	flag.StringVar(&o.kafkaBrokers, "kafka-brokers", "", "read records from Kafka (comma-separated brokers)")
	flag.StringVar(&o.kafkaTopic, "kafka-topic", "paleo-timeseries", "Kafka topic to read")
	flag.DurationVar(&o.kafkaWait, "kafka-wait", 10*time.Second, "how long to read from Kafka")
	flag.Var(&o.filters, "filter", `filter expression, e.g. "geo_meanLat > 30" (repeatable, all must match)`)
	flag.StringVar(&o.out, "out", "-", "output file; format follows the extension unless -format is set")
	flag.StringVar(&o.format, "format", "", "output format: json or msgpack")
	flag.StringVar(&o.collapseTo, "collapse-to", "", "write the matching records as LiPD datasets under this directory")
	flag.Parse()

	if err := run(context.Background(), o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tsquery: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout io.Writer) error {
	exprs, err := query.ParseAll(o.filters)
	if err != nil {
		return err
	}

	records, err := loadRecords(ctx, o)
	if err != nil {
		return err
	}
	matched := query.Filter(records, exprs...)
	fmt.Fprintf(os.Stderr, "%d of %d records match\n", len(matched), len(records))

	if o.collapseTo != "" {
		return collapse(matched, o.collapseTo)
	}
	return export(matched, o, stdout)
}

func loadRecords(ctx context.Context, o options) ([]timeseries.FlatRecord, error) {
	switch {
	case o.recordsFile != "":
		return fs.ReadRecordsFile(o.recordsFile)
	case o.kafkaBrokers != "":
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		reader := kafkaadapter.NewReader(sharedcfg.ParseBrokers(o.kafkaBrokers), o.kafkaTopic, "", logger)
		defer reader.Close()
		readCtx, cancel := context.WithTimeout(ctx, o.kafkaWait)
		defer cancel()
		return reader.ReadRecords(readCtx, 0)
	default:
		return storeRecords(fs.NewStore(o.dir), o.datasets)
	}
}

func storeRecords(store *fs.Store, datasets []string) ([]timeseries.FlatRecord, error) {
	if len(datasets) == 0 {
		all, err := store.ListDatasets()
		if err != nil {
			return nil, err
		}
		datasets = all
	}
	var records []timeseries.FlatRecord
	for _, dsn := range datasets {
		doc, err := store.ReadDataset(dsn)
		if err != nil {
			return nil, err
		}
		records = append(records, timeseries.Extract(doc)...)
	}
	return records, nil
}

func export(records []timeseries.FlatRecord, o options, stdout io.Writer) error {
	format := o.format
	if format == "" {
		format = fs.FormatFromPath(o.out)
	}
	if o.out == "-" {
		return fs.EncodeRecords(stdout, records, format)
	}
	if o.format != "" && o.format != fs.FormatFromPath(o.out) {
		return fmt.Errorf("-format %s does not match the extension of %s", o.format, o.out)
	}
	return fs.WriteRecordsFile(o.out, records)
}

func collapse(records []timeseries.FlatRecord, dir string) error {
	docs, warnings := timeseries.Collapse(records, nil)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}
	store := fs.NewStore(dir)
	var errs []error
	for _, doc := range docs {
		path, err := store.WriteDocument(doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := store.WriteTables(doc); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	}
	return errors.Join(errs...)
}
