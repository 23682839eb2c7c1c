// Package model defines the core domain types shared across the game engine.
// All returns and scores use shopspring/decimal — never float64 for points.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Choice is a participant's decision for one ticker in one round.
type Choice string

const (
	Buy  Choice = "Buy"
	Sell Choice = "Sell"
	Hold Choice = "Hold"
)

// ParseChoice validates a raw choice string.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case Buy, Sell, Hold:
		return Choice(s), nil
	}
	return "", fmt.Errorf("invalid choice %q (must be Buy, Sell, or Hold)", s)
}

// SubmissionRecord is an immutable record of one accepted round submission.
// Once appended to the durable log, these are never modified or deleted;
// only a full wipe clears the log.
// Schema: {timestamp, participant, round, choices, returns, scores}
type SubmissionRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Participant string    `json:"participant"`
	// Round is the 1-based display round number (engine round index + 1).
	Round    int    `json:"round"`
	Headline string `json:"headline"`
	// Choices holds the submitted decision per ticker.
	Choices map[string]Choice `json:"choices"`
	// Returns holds the round's per-ticker returns, revealed at submit time.
	Returns         map[string]decimal.Decimal `json:"returns"`
	RoundScore      decimal.Decimal            `json:"round_score"`
	CumulativeScore decimal.Decimal            `json:"cumulative_score"`
}

// LeaderboardEntry aggregates one participant's progress from the log.
type LeaderboardEntry struct {
	Participant     string          `json:"participant"`
	RoundsPlayed    int             `json:"rounds_played"`
	CumulativeScore decimal.Decimal `json:"cumulative_score"`
}
