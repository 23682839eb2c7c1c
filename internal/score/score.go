// Package score implements the payoff rule for the trading room game.
//
// Each round a participant chooses Buy, Sell, or Hold per ticker against
// a predefined return (in percentage points):
//   - Buy  → +return
//   - Sell → −return
//   - Hold → 0
//
// A round score is the sum of payoffs across the ticker set. A return of
// exactly 0 pays 0 for every choice.
//
// All returns and scores use shopspring/decimal — never float64 for points.
package score

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tradingroom/game-engine/internal/model"
)

var (
	// ErrChoiceSetMismatch is returned when the submitted choices do not
	// cover exactly the round's ticker set.
	ErrChoiceSetMismatch = errors.New("score: choices must cover exactly the ticker set")

	// ErrInvalidChoice is returned for a choice outside {Buy, Sell, Hold}.
	ErrInvalidChoice = errors.New("score: invalid choice")
)

// Payoff returns the signed payoff for one choice against one return.
func Payoff(choice model.Choice, ret decimal.Decimal) decimal.Decimal {
	switch choice {
	case model.Buy:
		return ret
	case model.Sell:
		return ret.Neg()
	default:
		return decimal.Zero
	}
}

// RoundScore computes per-ticker payoffs and their sum for one round.
// The choice key set must equal the returns key set exactly, and every
// choice must be valid.
func RoundScore(choices map[string]model.Choice, returns map[string]decimal.Decimal) (map[string]decimal.Decimal, decimal.Decimal, error) {
	if len(choices) != len(returns) {
		return nil, decimal.Zero, fmt.Errorf("%w: got %d choices for %d tickers",
			ErrChoiceSetMismatch, len(choices), len(returns))
	}

	payoffs := make(map[string]decimal.Decimal, len(returns))
	total := decimal.Zero

	// Deterministic iteration keeps error messages stable.
	tickers := make([]string, 0, len(returns))
	for t := range returns {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, t := range tickers {
		choice, ok := choices[t]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: missing choice for %s", ErrChoiceSetMismatch, t)
		}
		if _, err := model.ParseChoice(string(choice)); err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidChoice, t, choice)
		}
		p := Payoff(choice, returns[t])
		payoffs[t] = p
		total = total.Add(p)
	}

	return payoffs, total, nil
}

// Cumulative sums a sequence of round scores. The cumulative score is a
// derived value: callers recompute it from round scores rather than trust
// a running total.
func Cumulative(roundScores []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, s := range roundScores {
		total = total.Add(s)
	}
	return total
}
