package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradingroom/game-engine/internal/model"
)

// PostgresLog implements Log using PostgreSQL. Scores are stored as
// NUMERIC for exact decimal precision; per-ticker choices and returns are
// stored as JSONB so the ticker set stays configurable without schema
// changes.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates a PostgreSQL-backed submission log.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// EnsureSchema creates the submissions table if it does not exist.
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS submissions (
			id              TEXT PRIMARY KEY,
			submitted_at    TIMESTAMPTZ NOT NULL,
			participant     TEXT NOT NULL,
			round           INTEGER NOT NULL,
			headline        TEXT NOT NULL,
			choices         JSONB NOT NULL,
			returns         JSONB NOT NULL,
			round_score     NUMERIC NOT NULL,
			cum_score_after NUMERIC NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrStorage, err)
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, rec *model.SubmissionRecord) error {
	choices, err := json.Marshal(rec.Choices)
	if err != nil {
		return fmt.Errorf("%w: encode choices: %v", ErrStorage, err)
	}
	returns, err := json.Marshal(rec.Returns)
	if err != nil {
		return fmt.Errorf("%w: encode returns: %v", ErrStorage, err)
	}

	_, err = l.pool.Exec(ctx,
		`INSERT INTO submissions (id, submitted_at, participant, round, headline, choices, returns, round_score, cum_score_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC)`,
		rec.ID, rec.Timestamp, rec.Participant, rec.Round, rec.Headline,
		choices, returns,
		rec.RoundScore.String(), rec.CumulativeScore.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert submission: %v", ErrStorage, err)
	}
	return nil
}

func (l *PostgresLog) ListAll(ctx context.Context) ([]model.SubmissionRecord, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, submitted_at, participant, round, headline, choices, returns,
		        round_score::TEXT, cum_score_after::TEXT
		 FROM submissions ORDER BY submitted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list submissions: %v", ErrStorage, err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

func (l *PostgresLog) ListByParticipant(ctx context.Context, participant string) ([]model.SubmissionRecord, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, submitted_at, participant, round, headline, choices, returns,
		        round_score::TEXT, cum_score_after::TEXT
		 FROM submissions WHERE participant = $1 ORDER BY submitted_at, id`, participant)
	if err != nil {
		return nil, fmt.Errorf("%w: list submissions for %s: %v", ErrStorage, participant, err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

func (l *PostgresLog) Clear(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, `TRUNCATE submissions`); err != nil {
		return fmt.Errorf("%w: truncate submissions: %v", ErrStorage, err)
	}
	return nil
}

// scanSubmissions reads pgx rows into SubmissionRecord slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSubmissions(rows pgxRows) ([]model.SubmissionRecord, error) {
	var records []model.SubmissionRecord
	for rows.Next() {
		var rec model.SubmissionRecord
		var choices, returns []byte
		var roundScore, cumScore string

		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Participant, &rec.Round, &rec.Headline,
			&choices, &returns, &roundScore, &cumScore); err != nil {
			return nil, fmt.Errorf("%w: scan submission: %v", ErrStorage, err)
		}

		if err := json.Unmarshal(choices, &rec.Choices); err != nil {
			return nil, fmt.Errorf("%w: decode choices: %v", ErrStorage, err)
		}
		if err := json.Unmarshal(returns, &rec.Returns); err != nil {
			return nil, fmt.Errorf("%w: decode returns: %v", ErrStorage, err)
		}

		var err error
		if rec.RoundScore, err = decimal.NewFromString(roundScore); err != nil {
			return nil, fmt.Errorf("%w: bad round_score %q: %v", ErrStorage, roundScore, err)
		}
		if rec.CumulativeScore, err = decimal.NewFromString(cumScore); err != nil {
			return nil, fmt.Errorf("%w: bad cum_score_after %q: %v", ErrStorage, cumScore, err)
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}
