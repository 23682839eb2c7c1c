package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradingroom/game-engine/internal/model"
)

// MemoryLog implements Log with an in-memory slice. Used for testing and
// development. Not suitable for a real classroom session (no persistence).
type MemoryLog struct {
	mu      sync.RWMutex
	records []model.SubmissionRecord
}

// NewMemoryLog creates a new in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, rec *model.SubmissionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Store a copy to avoid external mutation.
	l.records = append(l.records, cloneRecord(rec))
	return nil
}

func (l *MemoryLog) ListAll(_ context.Context) ([]model.SubmissionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.SubmissionRecord, 0, len(l.records))
	for i := range l.records {
		out = append(out, cloneRecord(&l.records[i]))
	}
	return out, nil
}

func (l *MemoryLog) ListByParticipant(_ context.Context, participant string) ([]model.SubmissionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.SubmissionRecord
	for i := range l.records {
		if l.records[i].Participant == participant {
			out = append(out, cloneRecord(&l.records[i]))
		}
	}
	return out, nil
}

func (l *MemoryLog) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = nil
	return nil
}

func cloneRecord(rec *model.SubmissionRecord) model.SubmissionRecord {
	out := *rec
	out.Choices = make(map[string]model.Choice, len(rec.Choices))
	for k, v := range rec.Choices {
		out.Choices[k] = v
	}
	out.Returns = make(map[string]decimal.Decimal, len(rec.Returns))
	for k, v := range rec.Returns {
		out.Returns[k] = v
	}
	return out
}
