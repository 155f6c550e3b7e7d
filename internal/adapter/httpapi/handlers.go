package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/couchcryptid/paleo-data-etl/internal/adapter/fs"
	"github.com/couchcryptid/paleo-data-etl/internal/domain"
	"github.com/couchcryptid/paleo-data-etl/internal/noaa"
	"github.com/couchcryptid/paleo-data-etl/internal/pipeline"
	"github.com/couchcryptid/paleo-data-etl/internal/query"
	"github.com/couchcryptid/paleo-data-etl/internal/timeseries"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"

	// HeaderWarnings carries the number of parse warnings on record responses.
	HeaderWarnings = "X-Parse-Warnings"
)

type warningView struct {
	Kind   string `json:"kind"`
	Line   int    `json:"line,omitempty"`
	Detail string `json:"detail"`
}

func warningViews(warnings []domain.Warning) []warningView {
	out := make([]warningView, len(warnings))
	for i, w := range warnings {
		out[i] = warningView{Kind: w.Kind(), Line: w.Line, Detail: w.Detail}
	}
	return out
}

type convertResponse struct {
	Dataset  string            `json:"dataset"`
	Document *domain.Document  `json:"document"`
	Warnings []warningView     `json:"warnings"`
	Tables   map[string]string `json:"tables"`
	Records  int               `json:"records"`
}

type collapseResponse struct {
	Documents []*domain.Document `json:"documents"`
	Warnings  []warningView      `json:"warnings"`
}

// handleConvert parses the NOAA template in the body and returns the document
// with its CSV tables inline.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	dataset := r.URL.Query().Get("dataset")
	if dataset == "" {
		jsonError(w, "dataset is required", http.StatusBadRequest)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	sinks := noaa.NewMemorySinks()
	conv := s.convert(r, body, dataset, sinks)
	if conv.HasIOFailure() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "template could not be converted",
			"warnings": warningViews(conv.Warnings),
		})
		return
	}

	tables := make(map[string]string)
	for name, payload := range sinks.Payloads() {
		tables[name] = string(payload)
	}
	writeJSON(w, http.StatusOK, convertResponse{
		Dataset:  dataset,
		Document: conv.Document,
		Warnings: warningViews(conv.Warnings),
		Tables:   tables,
		Records:  len(conv.Records),
	})
}

// handleTimeseries converts the template in the body and returns its flat
// records, narrowed by any filter query parameters.
func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dataset := q.Get("dataset")
	if dataset == "" {
		jsonError(w, "dataset is required", http.StatusBadRequest)
		return
	}
	exprs, err := query.ParseAll(q["filter"])
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	format := q.Get("format")
	if format == "" {
		format = fs.FormatJSON
	}
	if format != fs.FormatJSON && format != fs.FormatMsgpack {
		jsonError(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	conv := s.convert(r, body, dataset, nil)
	if conv.HasIOFailure() {
		jsonError(w, "template could not be converted", http.StatusUnprocessableEntity)
		return
	}

	var buf bytes.Buffer
	if err := fs.EncodeRecords(&buf, query.Filter(conv.Records, exprs...), format); err != nil {
		s.logger.Error("encode records", "dataset", dataset, "error", err)
		jsonError(w, "failed to encode records", http.StatusInternalServerError)
		return
	}
	if format == fs.FormatMsgpack {
		w.Header().Set("Content-Type", contentTypeMsgpack)
	} else {
		w.Header().Set("Content-Type", contentTypeJSON)
	}
	w.Header().Set(HeaderWarnings, strconv.Itoa(len(conv.Warnings)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleCollapse folds a JSON or msgpack array of flat records back into
// documents.
func (s *Server) handleCollapse(w http.ResponseWriter, r *http.Request) {
	format := fs.FormatJSON
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == contentTypeMsgpack {
		format = fs.FormatMsgpack
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	records, err := fs.DecodeRecords(bytes.NewReader(body), format)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	docs, warnings := timeseries.Collapse(records, nil)
	if docs == nil {
		docs = []*domain.Document{}
	}
	writeJSON(w, http.StatusOK, collapseResponse{Documents: docs, Warnings: warningViews(warnings)})
}

func (s *Server) convert(r *http.Request, body []byte, dataset string, sinks noaa.SinkFactory) pipeline.Conversion {
	if sinks == nil {
		sinks = noaa.NewMemorySinks()
	}
	conv := s.converter.Convert(r.Context(), bytes.NewReader(body), dataset, sinks)
	s.logger.Debug("converted template",
		"dataset", dataset, "warnings", len(conv.Warnings), "records", len(conv.Records))
	return conv
}

// readBody reads the whole request body within the size limit. On failure the
// error response has already been written.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("body exceeds max size (%d bytes)", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 {
		jsonError(w, "body is empty", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
