// Package scenario loads and validates the round table for a game session:
// an ordered list of rounds, each with a headline and a fixed return per
// ticker in the session's ticker set.
//
// Two source formats are supported: the classic CSV layout
// (round,headline,<one column per ticker>) and a YAML list of rounds.
// A table is loaded once at startup and is immutable afterwards.
package scenario

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	// ErrConfig is returned for any malformed or missing scenario
	// configuration. Fatal at startup; no partial table is ever produced.
	ErrConfig = errors.New("scenario: invalid configuration")

	// ErrRoundOutOfRange is returned when a round index is outside
	// [0, RoundCount). Unreachable through the public HTTP surface.
	ErrRoundOutOfRange = errors.New("scenario: round index out of range")
)

// DefaultTickers is the stock set the classroom game ships with.
var DefaultTickers = []string{"CEN", "FBU", "AIR", "FPH", "WHS"}

// Round is one scenario step.
type Round struct {
	// Index is the 0-based position in play order.
	Index int `json:"index"`
	// Number is the 1-based display round number shown to participants
	// and stored in submission records.
	Number   int                        `json:"number"`
	Headline string                     `json:"headline"`
	Returns  map[string]decimal.Decimal `json:"returns"`
}

// Table is an immutable ordered sequence of rounds sharing one ticker set.
type Table struct {
	tickers []string
	rounds  []Round
}

// LoadFile loads a scenario from a CSV or YAML file, dispatching on the
// file extension.
func LoadFile(path string, tickers []string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f, tickers)
	default:
		return LoadCSV(f, tickers)
	}
}

// LoadCSV parses the classic layout: a header row of
// round,headline,<ticker...> followed by one row per round. Rows are
// ordered by their round number. The ticker columns must match the
// expected set exactly.
func LoadCSV(r io.Reader, tickers []string) (*Table, error) {
	if err := validateTickers(tickers); err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing header row: %v", ErrConfig, err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range append([]string{"round", "headline"}, tickers...) {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrConfig, required)
		}
	}
	if len(col) != len(tickers)+2 {
		return nil, fmt.Errorf("%w: header has %d columns, expected round, headline and %d tickers",
			ErrConfig, len(col), len(tickers))
	}

	var rounds []Round
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrConfig, line, err)
		}

		number, err := strconv.Atoi(strings.TrimSpace(row[col["round"]]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: round %q is not an integer", ErrConfig, line, row[col["round"]])
		}

		returns := make(map[string]decimal.Decimal, len(tickers))
		for _, t := range tickers {
			ret, err := decimal.NewFromString(strings.TrimSpace(row[col[t]]))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: return %s=%q is not numeric", ErrConfig, line, t, row[col[t]])
			}
			returns[t] = ret
		}

		rounds = append(rounds, Round{
			Number:   number,
			Headline: row[col["headline"]],
			Returns:  returns,
		})
	}

	sort.SliceStable(rounds, func(i, j int) bool { return rounds[i].Number < rounds[j].Number })
	return newTable(tickers, rounds)
}

// yamlScenario is the YAML source layout:
//
//	rounds:
//	  - headline: "Rates cut 50bp"
//	    returns: {CEN: 1.2, FBU: -0.4, ...}
//
// Returns are decoded as raw nodes so the scalar text reaches decimal
// parsing verbatim, without a float64 round trip.
type yamlScenario struct {
	Rounds []struct {
		Headline string               `yaml:"headline"`
		Returns  map[string]yaml.Node `yaml:"returns"`
	} `yaml:"rounds"`
}

// LoadYAML parses a YAML scenario. Round order is list order; every
// round's returns must cover the expected ticker set exactly.
func LoadYAML(r io.Reader, tickers []string) (*Table, error) {
	if err := validateTickers(tickers); err != nil {
		return nil, err
	}

	var src yamlScenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	rounds := make([]Round, 0, len(src.Rounds))
	for i, yr := range src.Rounds {
		if len(yr.Returns) != len(tickers) {
			return nil, fmt.Errorf("%w: round %d has %d returns, expected %d",
				ErrConfig, i+1, len(yr.Returns), len(tickers))
		}
		returns := make(map[string]decimal.Decimal, len(tickers))
		for _, t := range tickers {
			node, ok := yr.Returns[t]
			if !ok {
				return nil, fmt.Errorf("%w: round %d missing return for %s", ErrConfig, i+1, t)
			}
			ret, err := decimal.NewFromString(node.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: round %d: return %s=%q is not numeric", ErrConfig, i+1, t, node.Value)
			}
			returns[t] = ret
		}
		rounds = append(rounds, Round{
			Number:   i + 1,
			Headline: yr.Headline,
			Returns:  returns,
		})
	}

	return newTable(tickers, rounds)
}

// newTable runs the shared invariant checks and freezes the table.
func newTable(tickers []string, rounds []Round) (*Table, error) {
	if len(rounds) == 0 {
		return nil, fmt.Errorf("%w: scenario has no rounds", ErrConfig)
	}

	seen := make(map[int]bool, len(rounds))
	for i := range rounds {
		if seen[rounds[i].Number] {
			return nil, fmt.Errorf("%w: duplicate round number %d", ErrConfig, rounds[i].Number)
		}
		seen[rounds[i].Number] = true
		rounds[i].Index = i
	}

	ts := make([]string, len(tickers))
	copy(ts, tickers)
	sort.Strings(ts)

	return &Table{tickers: ts, rounds: rounds}, nil
}

func validateTickers(tickers []string) error {
	if len(tickers) == 0 {
		return fmt.Errorf("%w: empty ticker set", ErrConfig)
	}
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: blank ticker", ErrConfig)
		}
		if seen[t] {
			return fmt.Errorf("%w: duplicate ticker %s", ErrConfig, t)
		}
		seen[t] = true
	}
	return nil
}

// RoundCount returns the number of rounds in the scenario.
func (t *Table) RoundCount() int {
	return len(t.rounds)
}

// Round returns the round at 0-based index i. The returned round's map is
// a copy; callers cannot mutate the table through it.
func (t *Table) Round(i int) (Round, error) {
	if i < 0 || i >= len(t.rounds) {
		return Round{}, fmt.Errorf("%w: %d (have %d rounds)", ErrRoundOutOfRange, i, len(t.rounds))
	}
	r := t.rounds[i]
	returns := make(map[string]decimal.Decimal, len(r.Returns))
	for k, v := range r.Returns {
		returns[k] = v
	}
	r.Returns = returns
	return r, nil
}

// Tickers returns a copy of the session's sorted ticker set.
func (t *Table) Tickers() []string {
	ts := make([]string, len(t.tickers))
	copy(ts, t.tickers)
	return ts
}
