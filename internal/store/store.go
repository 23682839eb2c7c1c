// Package store defines the durable submission log for the game engine.
// Implementations include a CSV flat file (the classic classroom setup),
// PostgreSQL, a Redis read-through cache wrapper, and in-memory (for
// testing).
//
// The log is append-only: records are never updated or deleted in normal
// operation; only Clear wipes it.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/tradingroom/game-engine/internal/model"
)

// ErrStorage wraps failures of the durable log. Session state is not
// rolled back on append failure; the boundary surfaces the warning.
var ErrStorage = errors.New("store: durable log failure")

// Log is the append-only submission log. Append calls from concurrent
// participants serialize inside each implementation; readers observe
// either the old or new complete set of records, never a partial row.
type Log interface {
	// Append persists one immutable submission record.
	Append(ctx context.Context, rec *model.SubmissionRecord) error

	// ListAll returns every record in append order.
	ListAll(ctx context.Context) ([]model.SubmissionRecord, error)

	// ListByParticipant returns one participant's records in append order.
	ListByParticipant(ctx context.Context, participant string) ([]model.SubmissionRecord, error)

	// Clear wipes the log. Only a full game reset calls this.
	Clear(ctx context.Context) error
}

// Leaderboard folds records into one entry per participant, sorted best
// first. Records are assumed to be in append order; both RoundsPlayed and
// CumulativeScore describe the participant's latest run, so a record whose
// round number does not increase marks a reset-and-replay and restarts
// the round count.
func Leaderboard(records []model.SubmissionRecord) []model.LeaderboardEntry {
	index := make(map[string]int)
	lastRound := make(map[string]int)
	var entries []model.LeaderboardEntry

	for _, rec := range records {
		i, ok := index[rec.Participant]
		if !ok {
			index[rec.Participant] = len(entries)
			entries = append(entries, model.LeaderboardEntry{Participant: rec.Participant})
			i = len(entries) - 1
		}
		if ok && rec.Round <= lastRound[rec.Participant] {
			entries[i].RoundsPlayed = 0
		}
		lastRound[rec.Participant] = rec.Round
		entries[i].RoundsPlayed++
		entries[i].CumulativeScore = rec.CumulativeScore
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CumulativeScore.GreaterThan(entries[j].CumulativeScore)
	})
	return entries
}
