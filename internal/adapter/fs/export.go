package fs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

// Record export formats.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// FormatFromPath picks the export format from a file extension, defaulting to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

// EncodeRecords writes the records as one JSON array or one msgpack array.
func EncodeRecords(w io.Writer, records []timeseries.FlatRecord, format string) error {
	if records == nil {
		records = []timeseries.FlatRecord{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encode records: %w", err)
		}
		return nil
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encode records: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown record format %q", format)
	}
}

// DecodeRecords reads records written by EncodeRecords.
func DecodeRecords(r io.Reader, format string) ([]timeseries.FlatRecord, error) {
	var records []timeseries.FlatRecord
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	case FormatMsgpack:
		dec := msgpack.NewDecoder(r)
		dec.UseLooseInterfaceDecoding(true)
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown record format %q", format)
	}
	return records, nil
}

// WriteRecordsFile encodes the records to path in the format its extension names.
func WriteRecordsFile(path string, records []timeseries.FlatRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := EncodeRecords(bw, records, FormatFromPath(path)); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadRecordsFile decodes a file written by WriteRecordsFile.
func ReadRecordsFile(path string) ([]timeseries.FlatRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeRecords(bufio.NewReader(f), FormatFromPath(path))
}
