package game_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradingroom/game-engine/internal/game"
	"github.com/tradingroom/game-engine/internal/model"
	"github.com/tradingroom/game-engine/internal/scenario"
	"github.com/tradingroom/game-engine/internal/session"
	"github.com/tradingroom/game-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a game service over a one-round scenario
// ({CEN: 2, FBU: -1, AIR: 0}), an in-memory log, and a chi router.
func newTestEnv(t *testing.T) (*store.MemoryLog, chi.Router) {
	t.Helper()
	src := "round,headline,CEN,FBU,AIR\n1,Rates cut 50bp,2,-1,0\n"
	table, err := scenario.LoadCSV(strings.NewReader(src), []string{"CEN", "FBU", "AIR"})
	if err != nil {
		t.Fatalf("failed to load test scenario: %v", err)
	}

	log := store.NewMemoryLog()
	engine := session.NewEngine(table, log)
	svc := game.NewService(engine, log, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return log, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func startAlice(t *testing.T, router chi.Router) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/sessions", game.StartRequest{Participant: "Alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("starting session: %d %s", w.Code, w.Body.String())
	}
}

func submitAlice(t *testing.T, router chi.Router, cen, fbu, air string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, "POST", "/api/v1/sessions/Alice/submit", game.SubmitRequest{
		Choices: map[string]string{"CEN": cen, "FBU": fbu, "AIR": air},
	})
}

// --- Session lifecycle ---

func TestStartSession(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/sessions", game.StartRequest{Participant: "Alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var snap session.Snapshot
	json.Unmarshal(w.Body.Bytes(), &snap)

	if snap.Participant != "Alice" || snap.RoundIndex != 0 || snap.Locked {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Headline != "Rates cut 50bp" {
		t.Errorf("expected round headline, got %q", snap.Headline)
	}
	if len(snap.Tickers) != 3 {
		t.Errorf("expected 3 tickers, got %v", snap.Tickers)
	}
}

func TestStartSession_EmptyName(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/sessions", game.StartRequest{Participant: "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty participant, got %d", w.Code)
	}
}

func TestGetSession_DoesNotRevealReturns(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)

	w := doJSON(t, router, "GET", "/api/v1/sessions/Alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), `"returns"`) {
		t.Errorf("state snapshot must not expose the round's returns: %s", w.Body.String())
	}
}

func TestGetSession_Unknown(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/sessions/Nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Submission flow ---

func TestSubmitRound_Scores(t *testing.T) {
	log, router := newTestEnv(t)
	startAlice(t, router)

	w := submitAlice(t, router, "Buy", "Buy", "Hold")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp game.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.RoundScore.Equal(d(1)) {
		t.Errorf("round score = %s, want 1", resp.RoundScore)
	}
	if !resp.CumulativeScore.Equal(d(1)) {
		t.Errorf("cumulative = %s, want 1", resp.CumulativeScore)
	}
	// Returns are revealed only now.
	if !resp.Returns["CEN"].Equal(d(2)) {
		t.Errorf("submit response should reveal returns, got %v", resp.Returns)
	}
	if !resp.Payoffs["FBU"].Equal(d(-1)) {
		t.Errorf("payoffs = %v, want FBU -1", resp.Payoffs)
	}
	if resp.LogWarning != "" {
		t.Errorf("unexpected log warning: %s", resp.LogWarning)
	}

	records, _ := log.ListAll(context.Background())
	if len(records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(records))
	}
	if records[0].Participant != "Alice" || !records[0].RoundScore.Equal(d(1)) {
		t.Errorf("unexpected log record: %+v", records[0])
	}
}

func TestSubmitRound_AllSell(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)

	w := submitAlice(t, router, "Sell", "Sell", "Hold")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp game.SubmitResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.RoundScore.Equal(d(-1)) {
		t.Errorf("round score = %s, want -1", resp.RoundScore)
	}
}

func TestSubmitRound_LockedRejected(t *testing.T) {
	log, router := newTestEnv(t)
	startAlice(t, router)

	submitAlice(t, router, "Buy", "Buy", "Hold")

	w := submitAlice(t, router, "Sell", "Sell", "Sell")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for locked round, got %d: %s", w.Code, w.Body.String())
	}

	records, _ := log.ListAll(context.Background())
	if len(records) != 1 {
		t.Errorf("rejected resubmit reached the log: %d records", len(records))
	}
}

func TestSubmitRound_InvalidChoice(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)

	w := submitAlice(t, router, "Short", "Buy", "Hold")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid choice, got %d", w.Code)
	}
}

func TestSubmitRound_IncompleteChoices(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)

	w := doJSON(t, router, "POST", "/api/v1/sessions/Alice/submit", game.SubmitRequest{
		Choices: map[string]string{"CEN": "Buy"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for incomplete choices, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdvance_CompletesSession(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)
	submitAlice(t, router, "Buy", "Buy", "Hold")

	w := doJSON(t, router, "POST", "/api/v1/sessions/Alice/advance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var snap session.Snapshot
	json.Unmarshal(w.Body.Bytes(), &snap)
	if !snap.Completed {
		t.Errorf("one-round session should complete after advance: %+v", snap)
	}

	// Terminal state rejects further submissions.
	w = submitAlice(t, router, "Buy", "Buy", "Hold")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 after completion, got %d", w.Code)
	}
}

func TestAdvance_WithoutSubmit(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)

	w := doJSON(t, router, "POST", "/api/v1/sessions/Alice/advance", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for advance before submit, got %d", w.Code)
	}
}

// --- Resets ---

func TestResetParticipant_KeepsLog(t *testing.T) {
	log, router := newTestEnv(t)
	startAlice(t, router)
	submitAlice(t, router, "Buy", "Buy", "Hold")

	w := doJSON(t, router, "DELETE", "/api/v1/sessions/Alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Fresh state, historical record intact.
	var snap session.Snapshot
	wState := doJSON(t, router, "GET", "/api/v1/sessions/Alice", nil)
	json.Unmarshal(wState.Body.Bytes(), &snap)
	if snap.Locked || len(snap.RoundScores) != 0 {
		t.Errorf("reset session not pristine: %+v", snap)
	}
	records, _ := log.ListAll(context.Background())
	if len(records) != 1 {
		t.Errorf("participant reset touched the log: %d records", len(records))
	}
}

func TestResetEverything_RequiresConfirm(t *testing.T) {
	log, router := newTestEnv(t)
	startAlice(t, router)
	submitAlice(t, router, "Buy", "Buy", "Hold")

	w := doJSON(t, router, "DELETE", "/api/v1/sessions", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without confirm, got %d", w.Code)
	}
	records, _ := log.ListAll(context.Background())
	if len(records) != 1 {
		t.Errorf("unconfirmed wipe touched the log: %d records", len(records))
	}

	w = doJSON(t, router, "DELETE", "/api/v1/sessions?confirm=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with confirm, got %d: %s", w.Code, w.Body.String())
	}
	records, _ = log.ListAll(context.Background())
	if len(records) != 0 {
		t.Errorf("confirmed wipe left %d records", len(records))
	}
	wState := doJSON(t, router, "GET", "/api/v1/sessions/Alice", nil)
	if wState.Code != http.StatusNotFound {
		t.Errorf("expected 404 after wipe, got %d", wState.Code)
	}
}

// --- Scoreboards ---

func TestLeaderboard(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)
	submitAlice(t, router, "Buy", "Buy", "Hold")

	doJSON(t, router, "POST", "/api/v1/sessions", game.StartRequest{Participant: "Bob"})
	doJSON(t, router, "POST", "/api/v1/sessions/Bob/submit", game.SubmitRequest{
		Choices: map[string]string{"CEN": "Sell", "FBU": "Sell", "AIR": "Hold"},
	})

	w := doJSON(t, router, "GET", "/api/v1/leaderboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var entries []model.LeaderboardEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Alice scored +1, Bob -1: best first.
	if entries[0].Participant != "Alice" || !entries[0].CumulativeScore.Equal(d(1)) {
		t.Errorf("unexpected leader: %+v", entries[0])
	}
	if entries[1].Participant != "Bob" || !entries[1].CumulativeScore.Equal(d(-1)) {
		t.Errorf("unexpected runner-up: %+v", entries[1])
	}
}

func TestLeaderboard_Empty(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/leaderboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestHistory(t *testing.T) {
	_, router := newTestEnv(t)
	startAlice(t, router)
	submitAlice(t, router, "Buy", "Buy", "Hold")

	w := doJSON(t, router, "GET", "/api/v1/history/Alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var records []model.SubmissionRecord
	json.Unmarshal(w.Body.Bytes(), &records)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Round != 1 || !records[0].RoundScore.Equal(d(1)) {
		t.Errorf("unexpected record: %+v", records[0])
	}

	// No history for an unknown participant is an empty list, not an error.
	w = doJSON(t, router, "GET", "/api/v1/history/Nobody", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty history, got %d %s", w.Code, w.Body.String())
	}
}
