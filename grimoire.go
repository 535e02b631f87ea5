package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"grimoire/deduction"
)

const analysisTimeout = 30 * time.Second

// maxAnalyzeBody caps POST /api/analyze request bodies.
const maxAnalyzeBody = 1 << 20

var engine *deduction.Engine

// analysisMu serializes analyses so stored runs follow the order of changes.
var analysisMu sync.Mutex

// GameState is the full table snapshot pushed to clients.
type GameState struct {
	Type     string                        `json:"type"` // always "state"
	GameID   int64                         `json:"game_id"`
	Players  []string                      `json:"players"`
	POV      string                        `json:"pov,omitempty"`
	Claims   map[string]deduction.RawClaim `json:"claims"`
	Deaths   []deduction.Death             `json:"deaths"`
	Analysis *AnalysisView                 `json:"analysis,omitempty"`
	Problem  string                        `json:"problem,omitempty"`
}

// AnalysisView is a stored run with its result decoded.
type AnalysisView struct {
	*Analysis
	Result *deduction.Result `json:"result"`
}

// Narration carries storyteller text as it streams in.
type Narration struct {
	Type       string `json:"type"` // always "narration"
	AnalysisID string `json:"analysis_id"`
	Text       string `json:"text"`
	Done       bool   `json:"done"`
}

func buildState(game *Game) (*GameState, error) {
	in, err := loadInput(game)
	if err != nil {
		return nil, err
	}
	state := &GameState{
		Type:    "state",
		GameID:  game.ID,
		Players: in.Players,
		POV:     game.POV,
		Claims:  in.Claims,
		Deaths:  in.Deaths,
		Problem: game.Problem,
	}
	if state.Players == nil {
		state.Players = []string{}
	}
	if state.Deaths == nil {
		state.Deaths = []deduction.Death{}
	}
	if game.Problem != "" || len(in.Players) == 0 {
		return state, nil
	}

	a, err := latestAnalysis(game.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	} else if err != nil {
		return nil, fmt.Errorf("load analysis: %w", err)
	}
	res, err := a.decodeResult()
	if err != nil {
		return nil, err
	}
	state.Analysis = &AnalysisView{Analysis: a, Result: res}
	return state, nil
}

func currentState() (*GameState, error) {
	game, err := getOrCreateCurrentGame()
	if err != nil {
		return nil, err
	}
	return buildState(game)
}

func broadcastState() {
	state, err := currentState()
	if err != nil {
		logError("broadcastState", err)
		return
	}
	hub.broadcastJSON(state)
}

// runAnalysis analyzes everything recorded for the current game and stores
// the run. Roster and quota errors are kept on the game as its problem
// instead. An empty table is not analyzed.
func runAnalysis(ctx context.Context) (*Analysis, error) {
	analysisMu.Lock()
	defer analysisMu.Unlock()

	game, err := getOrCreateCurrentGame()
	if err != nil {
		return nil, err
	}
	in, err := loadInput(game)
	if err != nil {
		return nil, err
	}
	if len(in.Players) == 0 {
		return nil, setProblem(game.ID, "")
	}

	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()
	start := time.Now()
	res, err := engine.Analyze(ctx, in)
	switch {
	case err == nil, errors.Is(err, deduction.ErrTooManyWorlds):
	case errors.Is(err, context.DeadlineExceeded):
		return nil, setProblem(game.ID, "analysis timed out")
	case isInputError(err):
		DebugLog("runAnalysis", "Game %d cannot be analyzed: %v", game.ID, err)
		return nil, setProblem(game.ID, err.Error())
	default:
		return nil, err
	}

	if err := setProblem(game.ID, ""); err != nil {
		return nil, err
	}
	a, err := saveAnalysis(game.ID, res)
	if err != nil {
		return nil, err
	}
	log.Printf("Analysis %s: game %d %s with %d worlds in %v", a.ID, game.ID, a.Status, a.Worlds, time.Since(start).Round(time.Millisecond))
	LogDBState("after analysis " + a.ID)
	return a, nil
}

// isInputError reports errors caused by what was recorded rather than by
// the server.
func isInputError(err error) bool {
	return errors.Is(err, deduction.ErrInvalidRoster) ||
		errors.Is(err, deduction.ErrNoQuota) ||
		errors.Is(err, deduction.ErrUnknownRole)
}

// refresh re-runs the analysis and pushes the new state to everyone.
func refresh(client *Client) {
	if _, err := runAnalysis(context.Background()); err != nil {
		logError("refresh: runAnalysis", err)
		sendErrorToast(client.playerID, "Analysis failed")
	}
	broadcastState()
}

func handleWSMessage(client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error for player %d: %v", client.playerID, err)
		sendErrorToast(client.playerID, "Malformed message")
		return
	}

	LogWSMessage("IN", client.name, string(message))

	game, err := getOrCreateCurrentGame()
	if err != nil {
		logError("handleWSMessage: getOrCreateCurrentGame", err)
		sendErrorToast(client.playerID, "Failed to get game")
		return
	}

	switch msg.Action {
	case "set_roster":
		err = handleWSSetRoster(game, msg)
	case "set_pov":
		err = setPOV(game.ID, strings.TrimSpace(msg.POV))
	case "set_claim":
		err = handleWSSetClaim(game, msg)
	case "clear_claim":
		err = clearClaim(game.ID, msg.Player)
	case "record_death":
		err = recordDeath(game.ID, deduction.Death{Player: msg.Player, Night: msg.Night, Time: deduction.TimeOfDay(msg.Time)})
	case "undo_death":
		err = undoDeath(game.ID, msg.Player)
	case "analyze":
		// nothing recorded; just re-run
	case "narrate":
		handleWSNarrate(client, game, msg)
		return
	default:
		log.Printf("Unknown action: %s for player %d (%s) in game %d", msg.Action, client.playerID, client.name, game.ID)
		sendErrorToast(client.playerID, "Unknown action")
		return
	}

	if err != nil {
		DebugLog("handleWSMessage", "Action %s by '%s' rejected: %v", msg.Action, client.name, err)
		sendErrorToast(client.playerID, userMessage(err))
		return
	}
	refresh(client)
}

func handleWSSetRoster(game *Game, msg WSMessage) error {
	names := make([]string, 0, len(msg.Players))
	seen := make(map[string]bool, len(msg.Players))
	for _, p := range msg.Players {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("%w: empty player name", deduction.ErrInvalidRoster)
		}
		if seen[p] {
			return fmt.Errorf("%w: %q is seated twice", deduction.ErrInvalidRoster, p)
		}
		seen[p] = true
		names = append(names, p)
	}
	if err := setRoster(game.ID, names); err != nil {
		return err
	}
	log.Printf("Game %d roster: %s", game.ID, strings.Join(names, ", "))
	return nil
}

func handleWSSetClaim(game *Game, msg WSMessage) error {
	if msg.Claim == nil {
		return fmt.Errorf("%w: empty claim", deduction.ErrMalformedClaim)
	}
	if role, _ := msg.Claim["role"].(string); role == "" {
		return fmt.Errorf("%w: claim has no role", deduction.ErrMalformedClaim)
	}
	return setClaim(game.ID, msg.Player, msg.Claim)
}

func handleWSNarrate(client *Client, game *Game, msg WSMessage) {
	if globalStoryteller == nil {
		sendErrorToast(client.playerID, "Storyteller is disabled")
		return
	}
	var a *Analysis
	var err error
	if msg.AnalysisID != "" {
		a, err = getAnalysis(msg.AnalysisID)
	} else {
		a, err = latestAnalysis(game.ID)
	}
	if errors.Is(err, sql.ErrNoRows) || (a != nil && a.GameID != game.ID) {
		sendErrorToast(client.playerID, "No analysis to narrate")
		return
	}
	if err != nil {
		logError("handleWSNarrate: load analysis", err)
		sendErrorToast(client.playerID, "Failed to load analysis")
		return
	}
	narrateAnalysis(a)
}

// userMessage turns a recording error into toast text.
func userMessage(err error) string {
	switch {
	case errors.Is(err, errNotSeated), errors.Is(err, errInvalidDeath),
		isInputError(err), errors.Is(err, deduction.ErrMalformedClaim):
		return err.Error()
	default:
		return "Something went wrong"
	}
}

// ============================================================================
// HTTP API
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: %v", err)
	}
}

func writeToast(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(renderToast("error", message))
}

// handleGame returns the current table snapshot.
func handleGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := getPlayerIdFromSession(r); err != nil {
		writeToast(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	state, err := currentState()
	if err != nil {
		logError("handleGame: currentState", err)
		writeToast(w, http.StatusInternalServerError, "Failed to load game")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleAnalyze runs a one-off analysis of the posted input without
// touching the recorded game.
func handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in deduction.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody))
	if err := dec.Decode(&in); err != nil {
		writeToast(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analysisTimeout)
	defer cancel()
	res, err := engine.Analyze(ctx, in)
	switch {
	case err == nil, errors.Is(err, deduction.ErrTooManyWorlds):
		DebugLog("handleAnalyze", "%s with %d worlds for %d players", res.Status, res.Worlds, len(in.Players))
		writeJSON(w, http.StatusOK, res)
	case isInputError(err):
		writeToast(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeToast(w, http.StatusGatewayTimeout, "analysis timed out")
	default:
		logError("handleAnalyze: Analyze", err)
		writeToast(w, http.StatusInternalServerError, "Something went wrong")
	}
}
