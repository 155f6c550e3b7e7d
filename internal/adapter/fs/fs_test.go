package fs_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/paleo-data-etl/internal/adapter/fs"
	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

const fixtureDataset = "Elsinore.Kirby.2010"

func parseInto(t *testing.T, store *fs.Store) noaa.Result {
	t.Helper()
	f, err := os.Open(filepath.Join("..", "..", "noaa", "testdata", "elsinore.txt"))
	require.NoError(t, err)
	defer f.Close()
	return noaa.NewParser(nil).Parse(f, fixtureDataset, store.Sinks(fixtureDataset))
}

func TestSource_List(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.TXT", "notes.md", "c.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.txt"), 0o755))

	got, err := fs.NewSource(dir).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.TXT"), filepath.Join(dir, "b.txt")}, got)

	_, err = fs.NewSource(filepath.Join(dir, "missing")).List(context.Background())
	require.Error(t, err)
}

func TestDatasetName(t *testing.T) {
	assert.Equal(t, "Elsinore.Kirby.2010", fs.DatasetName("data/Elsinore.Kirby.2010.txt"))
	assert.Equal(t, "core", fs.DatasetName("core.TXT"))
	assert.Equal(t, "core.dat", fs.DatasetName("/tmp/core.dat"))
}

func TestStore_WriteAndReadDataset(t *testing.T) {
	store := fs.NewStore(t.TempDir())
	res := parseInto(t, store)
	require.False(t, res.HasIOFailure())

	path, err := store.WriteDocument(res.Document)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.DatasetDir(fixtureDataset), fixtureDataset+".jsonld"), path)

	for _, name := range []string{
		fixtureDataset + ".paleoData1.measurementTable1.csv",
		fixtureDataset + ".chron1.measurementTable1.csv",
	} {
		assert.FileExists(t, filepath.Join(store.DatasetDir(fixtureDataset), name))
	}

	back, err := store.ReadDataset(fixtureDataset)
	require.NoError(t, err)
	if diff := cmp.Diff(res.Document, back, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("dataset round trip mismatch (-parsed +read):\n%s", diff)
	}

	names, err := store.ListDatasets()
	require.NoError(t, err)
	assert.Equal(t, []string{fixtureDataset}, names)
}

func TestStore_WriteTablesFromValues(t *testing.T) {
	store := fs.NewStore(t.TempDir())
	doc := &domain.Document{
		DatasetName: "Core1",
		PaleoData: []domain.Section{{MeasurementTables: []domain.Table{{
			TableName: "paleo1measurement1",
			Filename:  "Core1.paleoData1.measurementTable1.csv",
			Columns: []domain.Column{
				{Number: 1, VariableName: "depth", Values: []any{1.0, 2.0}},
				{Number: 2, VariableName: "d18O", Values: []any{-3.5, "nan"}},
			},
		}}}},
	}
	_, err := store.WriteDocument(doc)
	require.NoError(t, err)
	require.NoError(t, store.WriteTables(doc))

	data, err := os.ReadFile(filepath.Join(store.DatasetDir("Core1"), "Core1.paleoData1.measurementTable1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1,-3.5\n2,nan\n", string(data))

	back, err := store.ReadDataset("Core1")
	require.NoError(t, err)
	assert.Equal(t, []any{-3.5, "nan"}, back.PaleoData[0].MeasurementTables[0].Columns[1].Values)
}

func TestStore_RejectsBadNames(t *testing.T) {
	store := fs.NewStore(t.TempDir())
	for _, name := range []string{"", "..", "a/b"} {
		_, err := store.WriteDocument(&domain.Document{DatasetName: name})
		require.Error(t, err, name)
		_, err = store.ReadDataset(name)
		require.Error(t, err, name)
		_, err = store.Sinks(name).Create(name + ".paleo1.measurementTable1.csv")
		require.Error(t, err, name)
	}
}

func TestStore_ReadMissingDataset(t *testing.T) {
	_, err := fs.NewStore(t.TempDir()).ReadDataset("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestQuarantine_Record(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { domain.SetClock(nil) })

	path := filepath.Join(t.TempDir(), "logs", "quarantine.jsonl")
	q, err := fs.OpenQuarantine(path)
	require.NoError(t, err)

	w := domain.NewWarning(domain.ErrMalformedLine, 7, "no colon")
	w.Dataset = "Core1"
	require.NoError(t, q.Record("core1.txt", []domain.Warning{w}, nil))
	require.NoError(t, q.Record("core2.txt", nil, nil))

	failure := domain.NewWarning(domain.ErrIOFailure, 0, "read failed")
	failure.Dataset = "Core3"
	require.NoError(t, q.Record("core3.txt", nil, failure))
	require.NoError(t, q.Record("core4.txt", nil, errors.New("publish failed")))
	require.NoError(t, q.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []fs.QuarantineEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e fs.QuarantineEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	require.Len(t, entries, 3)

	assert.Equal(t, fs.QuarantineEntry{
		Time: fixed, File: "core1.txt", Dataset: "Core1", Kind: "malformed_line", Line: 7, Detail: "no colon",
	}, entries[0])
	assert.Equal(t, "io_failure", entries[1].Kind)
	assert.Equal(t, "Core3", entries[1].Dataset)
	assert.True(t, entries[1].Fatal)
	assert.Equal(t, "other", entries[2].Kind)
	assert.Equal(t, "publish failed", entries[2].Detail)
}

func TestRecords_EncodeDecodeCollapse(t *testing.T) {
	res := parseInto(t, fs.NewStore(t.TempDir()))
	records := timeseries.Extract(res.Document)
	require.NotEmpty(t, records)

	for _, format := range []string{fs.FormatJSON, fs.FormatMsgpack} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, fs.EncodeRecords(&buf, records, format))

			back, err := fs.DecodeRecords(&buf, format)
			require.NoError(t, err)
			require.Len(t, back, len(records))
			assert.Equal(t, records[0].VariableName(), back[0].VariableName())

			docs, warnings := timeseries.Collapse(back, nil)
			require.Empty(t, warnings)
			require.Len(t, docs, 1)
			if diff := cmp.Diff(res.Document, docs[0], cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("collapse after %s decode mismatch:\n%s", format, diff)
			}
		})
	}
}

func TestRecordsFile(t *testing.T) {
	records := []timeseries.FlatRecord{{"datasetName": "a", "mode": "paleoData", "paleoData_values": []any{1.0, "nan"}}}
	dir := t.TempDir()
	for _, name := range []string{"out.json", "out.msgpack"} {
		path := filepath.Join(dir, name)
		require.NoError(t, fs.WriteRecordsFile(path, records))
		back, err := fs.ReadRecordsFile(path)
		require.NoError(t, err)
		require.Len(t, back, 1)
		assert.Equal(t, []any{1.0, "nan"}, back[0]["paleoData_values"])
	}

	assert.Error(t, fs.EncodeRecords(&bytes.Buffer{}, records, "xml"))
	assert.Equal(t, fs.FormatMsgpack, fs.FormatFromPath("x.MSGPACK"))
	assert.Equal(t, fs.FormatJSON, fs.FormatFromPath("x.txt"))
}
