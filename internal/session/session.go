// Package session holds per-participant game state and drives the
// round state machine: Active(round, unlocked) → Submitted(round, locked)
// → Active(round+1) ... → Completed.
//
// One Engine owns every participant's session for the process, keyed by
// participant name. Mutations are serialized under a single mutex; the
// durable log is the only side effect.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradingroom/game-engine/internal/model"
	"github.com/tradingroom/game-engine/internal/scenario"
	"github.com/tradingroom/game-engine/internal/score"
	"github.com/tradingroom/game-engine/internal/store"
)

var (
	// ErrEmptyParticipant is returned when a participant name is empty or
	// whitespace only.
	ErrEmptyParticipant = errors.New("session: participant name must not be empty")

	// ErrUnknownParticipant is returned when no session exists for the
	// named participant.
	ErrUnknownParticipant = errors.New("session: no session for participant")

	// ErrRoundLocked is returned when a round that was already submitted
	// is submitted again before advancing.
	ErrRoundLocked = errors.New("session: round already submitted")

	// ErrCompleted is returned when submitting after the final round.
	ErrCompleted = errors.New("session: all rounds completed")

	// ErrNotSubmitted is returned when advancing from a round that has
	// not been submitted yet.
	ErrNotSubmitted = errors.New("session: current round not submitted yet")
)

// state is one participant's in-memory progress.
type state struct {
	roundIndex  int
	locked      bool
	roundScores []decimal.Decimal
	cumulative  decimal.Decimal
}

// Snapshot is the view of a session handed to the presentation layer.
// It never contains the current round's returns; those are revealed only
// in the Result of a successful submission.
type Snapshot struct {
	Participant string `json:"participant"`
	// RoundIndex is 0-based; equals TotalRounds once the session completes.
	RoundIndex      int               `json:"round_index"`
	RoundNumber     int               `json:"round_number,omitempty"`
	TotalRounds     int               `json:"total_rounds"`
	Headline        string            `json:"headline,omitempty"`
	Tickers         []string          `json:"tickers"`
	Locked          bool              `json:"locked"`
	Completed       bool              `json:"completed"`
	RoundScores     []decimal.Decimal `json:"round_scores"`
	CumulativeScore decimal.Decimal   `json:"cumulative_score"`
}

// Result is the outcome of an accepted submission. Returns and payoffs
// for the submitted round are revealed here.
type Result struct {
	Record  model.SubmissionRecord     `json:"record"`
	Payoffs map[string]decimal.Decimal `json:"payoffs"`
	// LogErr is non-nil when the durable append failed. Session state is
	// still valid; the boundary surfaces the warning to the operator.
	LogErr error `json:"-"`
}

// Engine owns all sessions for one process. Methods serialize under a
// mutex (single-instance, same pattern as a serialized trade executor);
// different participants' state never leaks across sessions.
type Engine struct {
	table *scenario.Table
	log   store.Log

	mu       sync.Mutex
	sessions map[string]*state
}

// NewEngine creates an engine over an immutable scenario table and a
// durable submission log.
func NewEngine(table *scenario.Table, log store.Log) *Engine {
	return &Engine{
		table:    table,
		log:      log,
		sessions: make(map[string]*state),
	}
}

// Start creates a session in Active(0, unlocked) for a new participant, or
// returns the existing session unchanged (idempotent "continue").
func (e *Engine) Start(participant string) (Snapshot, error) {
	name, err := cleanName(participant)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[name]
	if !ok {
		s = &state{cumulative: decimal.Zero}
		e.sessions[name] = s
	}
	return e.snapshot(name, s), nil
}

// State returns the current snapshot without mutating anything.
func (e *Engine) State(participant string) (Snapshot, error) {
	name, err := cleanName(participant)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, name)
	}
	return e.snapshot(name, s), nil
}

// Submit accepts one choice per ticker for the current round, scores it,
// appends a durable record, and locks the round.
//
// A storage failure does not roll back the session: the round outcome is
// still valid for display, so the Result carries the error in LogErr for
// the boundary to surface instead.
func (e *Engine) Submit(ctx context.Context, participant string, choices map[string]model.Choice) (Result, error) {
	name, err := cleanName(participant)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, name)
	}
	if s.roundIndex >= e.table.RoundCount() {
		return Result{}, ErrCompleted
	}
	if s.locked {
		return Result{}, fmt.Errorf("%w: round %d", ErrRoundLocked, s.roundIndex)
	}

	round, err := e.table.Round(s.roundIndex)
	if err != nil {
		return Result{}, err
	}

	payoffs, roundScore, err := score.RoundScore(choices, round.Returns)
	if err != nil {
		return Result{}, err
	}

	s.roundScores = append(s.roundScores, roundScore)
	// Cumulative is derived state: recompute from round scores.
	s.cumulative = score.Cumulative(s.roundScores)
	s.locked = true

	record := model.SubmissionRecord{
		ID:              uuid.New().String(),
		Timestamp:       time.Now().UTC(),
		Participant:     name,
		Round:           round.Number,
		Headline:        round.Headline,
		Choices:         copyChoices(choices),
		Returns:         round.Returns,
		RoundScore:      roundScore,
		CumulativeScore: s.cumulative,
	}

	logErr := e.log.Append(ctx, &record)

	return Result{Record: record, Payoffs: payoffs, LogErr: logErr}, nil
}

// Advance moves a submitted session to the next round, or to Completed
// after the final round.
func (e *Engine) Advance(participant string) (Snapshot, error) {
	name, err := cleanName(participant)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, name)
	}
	if s.roundIndex >= e.table.RoundCount() {
		return Snapshot{}, ErrCompleted
	}
	if !s.locked {
		return Snapshot{}, fmt.Errorf("%w: round %d", ErrNotSubmitted, s.roundIndex)
	}

	s.roundIndex++
	s.locked = false
	return e.snapshot(name, s), nil
}

// Reset returns one participant to Active(0, unlocked) with empty scores.
// Historical records in the durable log are untouched.
func (e *Engine) Reset(participant string) error {
	name, err := cleanName(participant)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions[name] = &state{cumulative: decimal.Zero}
	return nil
}

// ResetAll clears every in-memory session and wipes the durable log.
// Irreversible; confirmation is the boundary's responsibility.
func (e *Engine) ResetAll(ctx context.Context) error {
	e.mu.Lock()
	e.sessions = make(map[string]*state)
	e.mu.Unlock()

	if err := e.log.Clear(ctx); err != nil {
		return fmt.Errorf("session: wiping submission log: %w", err)
	}
	return nil
}

// ActiveSessions reports the number of sessions currently held in memory.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// snapshot builds a Snapshot for s. Caller holds e.mu.
func (e *Engine) snapshot(name string, s *state) Snapshot {
	snap := Snapshot{
		Participant:     name,
		RoundIndex:      s.roundIndex,
		TotalRounds:     e.table.RoundCount(),
		Tickers:         e.table.Tickers(),
		Locked:          s.locked,
		Completed:       s.roundIndex >= e.table.RoundCount(),
		RoundScores:     append([]decimal.Decimal(nil), s.roundScores...),
		CumulativeScore: s.cumulative,
	}
	if !snap.Completed {
		if round, err := e.table.Round(s.roundIndex); err == nil {
			snap.RoundNumber = round.Number
			snap.Headline = round.Headline
		}
	}
	return snap
}

func cleanName(participant string) (string, error) {
	name := strings.TrimSpace(participant)
	if name == "" {
		return "", ErrEmptyParticipant
	}
	return name, nil
}

func copyChoices(choices map[string]model.Choice) map[string]model.Choice {
	out := make(map[string]model.Choice, len(choices))
	for k, v := range choices {
		out[k] = v
	}
	return out
}
