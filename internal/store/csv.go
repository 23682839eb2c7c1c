package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradingroom/game-engine/internal/model"
)

// CSVLog implements Log as an append-only CSV flat file, the classic
// classroom setup. Column layout:
//
//	id,timestamp,participant,round,headline,
//	choice_<ticker>...,return_<ticker>...,round_score,cum_score_after
//
// The file is created with its header on first append and never rewritten
// in place; Clear removes it. A single mutex serializes writers so rows
// from concurrent participants never interleave.
type CSVLog struct {
	path    string
	tickers []string

	mu sync.Mutex
}

// NewCSVLog creates a CSV-backed log at path for the given ticker set.
// The ticker set fixes the column layout and must match the scenario's.
func NewCSVLog(path string, tickers []string) *CSVLog {
	ts := make([]string, len(tickers))
	copy(ts, tickers)
	sort.Strings(ts)

	return &CSVLog{path: path, tickers: ts}
}

func (l *CSVLog) header() []string {
	h := []string{"id", "timestamp", "participant", "round", "headline"}
	for _, t := range l.tickers {
		h = append(h, "choice_"+t)
	}
	for _, t := range l.tickers {
		h = append(h, "return_"+t)
	}
	return append(h, "round_score", "cum_score_after")
}

func (l *CSVLog) Append(_ context.Context, rec *model.SubmissionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrStorage, l.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrStorage, l.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(l.header()); err != nil {
			return fmt.Errorf("%w: write header: %v", ErrStorage, err)
		}
	}

	row := []string{
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Participant,
		strconv.Itoa(rec.Round),
		rec.Headline,
	}
	for _, t := range l.tickers {
		row = append(row, string(rec.Choices[t]))
	}
	for _, t := range l.tickers {
		row = append(row, rec.Returns[t].String())
	}
	row = append(row, rec.RoundScore.String(), rec.CumulativeScore.String())

	if err := w.Write(row); err != nil {
		return fmt.Errorf("%w: write row: %v", ErrStorage, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrStorage, err)
	}
	return nil
}

func (l *CSVLog) ListAll(_ context.Context) ([]model.SubmissionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // no submissions yet
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, l.path, err)
	}
	defer f.Close()

	return l.readAll(f)
}

func (l *CSVLog) ListByParticipant(ctx context.Context, participant string) ([]model.SubmissionRecord, error) {
	all, err := l.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.SubmissionRecord
	for _, rec := range all {
		if rec.Participant == participant {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *CSVLog) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrStorage, l.path, err)
	}
	return nil
}

func (l *CSVLog) readAll(r io.Reader) ([]model.SubmissionRecord, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrStorage, err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range l.header() {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: log %s missing column %q", ErrStorage, l.path, required)
		}
	}

	var records []model.SubmissionRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read row: %v", ErrStorage, err)
		}

		rec, err := l.parseRow(col, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *CSVLog) parseRow(col map[string]int, row []string) (model.SubmissionRecord, error) {
	rec := model.SubmissionRecord{
		ID:          row[col["id"]],
		Participant: row[col["participant"]],
		Headline:    row[col["headline"]],
		Choices:     make(map[string]model.Choice, len(l.tickers)),
		Returns:     make(map[string]decimal.Decimal, len(l.tickers)),
	}

	ts, err := time.Parse(time.RFC3339, row[col["timestamp"]])
	if err != nil {
		return rec, fmt.Errorf("%w: bad timestamp %q: %v", ErrStorage, row[col["timestamp"]], err)
	}
	rec.Timestamp = ts

	rec.Round, err = strconv.Atoi(row[col["round"]])
	if err != nil {
		return rec, fmt.Errorf("%w: bad round %q: %v", ErrStorage, row[col["round"]], err)
	}

	for _, t := range l.tickers {
		choice, err := model.ParseChoice(row[col["choice_"+t]])
		if err != nil {
			return rec, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		rec.Choices[t] = choice

		ret, err := decimal.NewFromString(row[col["return_"+t]])
		if err != nil {
			return rec, fmt.Errorf("%w: bad return %s=%q: %v", ErrStorage, t, row[col["return_"+t]], err)
		}
		rec.Returns[t] = ret
	}

	if rec.RoundScore, err = decimal.NewFromString(row[col["round_score"]]); err != nil {
		return rec, fmt.Errorf("%w: bad round_score %q: %v", ErrStorage, row[col["round_score"]], err)
	}
	if rec.CumulativeScore, err = decimal.NewFromString(row[col["cum_score_after"]]); err != nil {
		return rec, fmt.Errorf("%w: bad cum_score_after %q: %v", ErrStorage, row[col["cum_score_after"]], err)
	}
	return rec, nil
}
