// Package game provides the HTTP surface of the trading room game: the
// presentation layer (any web frontend) starts sessions, submits choices,
// advances rounds, and reads scoreboards through these handlers.
//
// All scores use shopspring/decimal — never float64 for points.
package game

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradingroom/game-engine/internal/metrics"
	"github.com/tradingroom/game-engine/internal/model"
	"github.com/tradingroom/game-engine/internal/score"
	"github.com/tradingroom/game-engine/internal/session"
	"github.com/tradingroom/game-engine/internal/store"
)

// Service handles game operations over one session engine and one
// durable log.
type Service struct {
	engine *session.Engine
	log    store.Log
	hub    *Hub // optional; nil disables scoreboard broadcasts
}

// NewService creates a new game service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(engine *session.Engine, log store.Log, hub *Hub) *Service {
	return &Service{
		engine: engine,
		log:    log,
		hub:    hub,
	}
}

// Routes mounts all game endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/sessions", s.StartSession)
	r.Delete("/sessions", s.ResetEverything)
	r.Get("/sessions/{participant}", s.GetSession)
	r.Post("/sessions/{participant}/submit", s.SubmitRound)
	r.Post("/sessions/{participant}/advance", s.AdvanceRound)
	r.Delete("/sessions/{participant}", s.ResetParticipant)
	r.Get("/leaderboard", s.GetLeaderboard)
	r.Get("/history/{participant}", s.GetHistory)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Request/Response types ---

// StartRequest is the JSON body for POST /sessions.
type StartRequest struct {
	Participant string `json:"participant"`
}

// SubmitRequest is the JSON body for POST /sessions/{participant}/submit.
// Choices maps every ticker in play to Buy, Sell, or Hold.
type SubmitRequest struct {
	Choices map[string]string `json:"choices"`
}

// SubmitResponse reveals the submitted round's returns and payoffs.
type SubmitResponse struct {
	Participant     string                     `json:"participant"`
	Round           int                        `json:"round"`
	Headline        string                     `json:"headline"`
	Choices         map[string]model.Choice    `json:"choices"`
	Returns         map[string]decimal.Decimal `json:"returns"`
	Payoffs         map[string]decimal.Decimal `json:"payoffs"`
	RoundScore      decimal.Decimal            `json:"round_score"`
	CumulativeScore decimal.Decimal            `json:"cumulative_score"`
	// LogWarning is set when the round was scored but the durable log
	// append failed; the record may be missing from the submissions file.
	LogWarning string `json:"log_warning,omitempty"`
}

// --- HTTP Handlers ---

// StartSession handles POST /api/v1/sessions
// Idempotent: starting an existing participant returns their state.
func (s *Service) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := s.engine.Start(req.Participant)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	metrics.ActiveSessions.Set(float64(s.engine.ActiveSessions()))
	slog.Info("session started", "participant", snap.Participant, "round", snap.RoundIndex)

	writeJSON(w, http.StatusOK, snap)
}

// GetSession handles GET /api/v1/sessions/{participant}
// The snapshot never includes the current round's returns.
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.State(chi.URLParam(r, "participant"))
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SubmitRound handles POST /api/v1/sessions/{participant}/submit
// Scores the round, appends a durable record, and locks the round.
func (s *Service) SubmitRound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	participant := chi.URLParam(r, "participant")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	choices := make(map[string]model.Choice, len(req.Choices))
	for ticker, raw := range req.Choices {
		choice, err := model.ParseChoice(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		choices[ticker] = choice
	}

	result, err := s.engine.Submit(r.Context(), participant, choices)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	metrics.RoundsSubmitted.Inc()
	metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	for _, choice := range result.Record.Choices {
		metrics.ChoicesTotal.WithLabelValues(string(choice)).Inc()
	}

	resp := SubmitResponse{
		Participant:     result.Record.Participant,
		Round:           result.Record.Round,
		Headline:        result.Record.Headline,
		Choices:         result.Record.Choices,
		Returns:         result.Record.Returns,
		Payoffs:         result.Payoffs,
		RoundScore:      result.Record.RoundScore,
		CumulativeScore: result.Record.CumulativeScore,
	}

	if result.LogErr != nil {
		// Round outcome stands; the operator is warned the record may be
		// missing from the durable log.
		metrics.LogErrors.Inc()
		slog.Error("submission log append failed",
			"participant", result.Record.Participant,
			"round", result.Record.Round,
			"err", result.LogErr,
		)
		resp.LogWarning = "submission scored but not persisted: " + result.LogErr.Error()
	}

	slog.Info("round submitted",
		"participant", result.Record.Participant,
		"round", result.Record.Round,
		"round_score", result.Record.RoundScore.String(),
		"cumulative", result.Record.CumulativeScore.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(ScoreUpdate{
			Type:            "submission",
			Participant:     result.Record.Participant,
			Round:           result.Record.Round,
			RoundScore:      result.Record.RoundScore.String(),
			CumulativeScore: result.Record.CumulativeScore.String(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// AdvanceRound handles POST /api/v1/sessions/{participant}/advance
func (s *Service) AdvanceRound(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Advance(chi.URLParam(r, "participant"))
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	if snap.Completed {
		metrics.SessionsCompleted.Inc()
		slog.Info("session completed",
			"participant", snap.Participant,
			"cumulative", snap.CumulativeScore.String(),
		)
	}

	writeJSON(w, http.StatusOK, snap)
}

// ResetParticipant handles DELETE /api/v1/sessions/{participant}
// Clears in-memory state only; historical log records remain.
func (s *Service) ResetParticipant(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participant")
	if err := s.engine.Reset(participant); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	metrics.ActiveSessions.Set(float64(s.engine.ActiveSessions()))
	slog.Info("participant reset", "participant", participant)

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "participant": participant})
}

// ResetEverything handles DELETE /api/v1/sessions?confirm=true
// Wipes every session and the durable log. The confirm parameter is the
// explicit-confirmation boundary the engine itself does not impose.
func (s *Service) ResetEverything(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, "full reset requires ?confirm=true", http.StatusBadRequest)
		return
	}

	if err := s.engine.ResetAll(r.Context()); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	metrics.ActiveSessions.Set(0)
	slog.Warn("all sessions and submission log wiped")

	if s.hub != nil {
		s.hub.Broadcast(ScoreUpdate{Type: "reset"})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "wiped"})
}

// GetLeaderboard handles GET /api/v1/leaderboard
// Derived from the durable log, so it survives process restarts.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	records, err := s.log.ListAll(r.Context())
	if err != nil {
		writeError(w, "failed to read submission log", http.StatusInternalServerError)
		return
	}

	entries := store.Leaderboard(records)
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetHistory handles GET /api/v1/history/{participant}
// Returns every persisted record for one participant in append order.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.log.ListByParticipant(r.Context(), chi.URLParam(r, "participant"))
	if err != nil {
		writeError(w, "failed to read submission log", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.SubmissionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Helpers ---

// errStatus maps engine and scoring errors onto HTTP statuses: bad input
// is 400, unknown sessions 404, out-of-order actions 409, storage 500.
func errStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyParticipant),
		errors.Is(err, score.ErrChoiceSetMismatch),
		errors.Is(err, score.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownParticipant):
		return http.StatusNotFound
	case errors.Is(err, session.ErrRoundLocked),
		errors.Is(err, session.ErrCompleted),
		errors.Is(err, session.ErrNotSubmitted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
