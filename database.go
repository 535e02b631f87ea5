package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"grimoire/deduction"
)

type Game struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	POV     string `db:"pov"`     // player excluded from suspicion; empty = none
	Problem string `db:"problem"` // why the last analysis could not run
}

// Player is a storyteller account, not a seat at the table.
type Player struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	SecretCode string `db:"secret_code"`
}

type ClaimRow struct {
	Player string `db:"player"`
	Body   string `db:"body"` // claim document as JSON
}

type DeathRow struct {
	Player string `db:"player"`
	Night  int    `db:"night"`
	Time   string `db:"time"`
}

// Analysis is one persisted engine run.
type Analysis struct {
	ID        string    `db:"id" json:"id"`
	GameID    int64     `db:"game_id" json:"game_id"`
	Status    string    `db:"status" json:"status"`
	Worlds    int       `db:"worlds" json:"worlds"`
	Result    string    `db:"result" json:"-"`
	Narration string    `db:"narration" json:"narration,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

var (
	errNotSeated    = errors.New("player is not seated")
	errInvalidDeath = errors.New("invalid death")
)

func getOrCreateCurrentGame() (*Game, error) {
	var game Game
	err := db.Get(&game, "SELECT rowid as id, name, pov, problem FROM game ORDER BY rowid DESC LIMIT 1")
	if err == sql.ErrNoRows {
		result, err := db.Exec("INSERT INTO game (name, pov) VALUES ('', '')")
		if err != nil {
			return nil, err
		}
		gameID, _ := result.LastInsertId()
		game = Game{ID: gameID}
		log.Printf("Created new game: id=%d", gameID)
		DebugLog("getOrCreateCurrentGame", "Created new game %d", gameID)
		LogDBState("after new game created")
	} else if err != nil {
		return nil, err
	}
	return &game, nil
}

func setProblem(gameID int64, problem string) error {
	_, err := db.Exec("UPDATE game SET problem = ? WHERE rowid = ?", problem, gameID)
	return err
}

func getSeats(gameID int64) ([]string, error) {
	var names []string
	err := db.Select(&names, "SELECT name FROM seat WHERE game_id = ? ORDER BY position", gameID)
	return names, err
}

func isSeated(gameID int64, name string) (bool, error) {
	var n int
	err := db.Get(&n, "SELECT COUNT(*) FROM seat WHERE game_id = ? AND name = ?", gameID, name)
	return n > 0, err
}

// setRoster replaces the seating order. Claims, deaths and the point of view
// of players who left the table are dropped with them.
func setRoster(gameID int64, names []string) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM seat WHERE game_id = ?", gameID); err != nil {
		return fmt.Errorf("clear seats: %w", err)
	}
	for i, name := range names {
		if _, err := tx.Exec("INSERT INTO seat (game_id, position, name) VALUES (?, ?, ?)", gameID, i, name); err != nil {
			return fmt.Errorf("seat %q: %w", name, err)
		}
	}
	for _, table := range []string{"claim", "death"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE game_id = ? AND player NOT IN (SELECT name FROM seat WHERE game_id = ?)", gameID, gameID); err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
	}
	if _, err := tx.Exec("UPDATE game SET pov = '' WHERE rowid = ? AND pov NOT IN (SELECT name FROM seat WHERE game_id = ?)", gameID, gameID); err != nil {
		return fmt.Errorf("prune pov: %w", err)
	}
	return tx.Commit()
}

func setPOV(gameID int64, name string) error {
	if name != "" {
		if ok, err := isSeated(gameID, name); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %q", errNotSeated, name)
		}
	}
	_, err := db.Exec("UPDATE game SET pov = ? WHERE rowid = ?", name, gameID)
	return err
}

// setClaim stores a claim document for a seated player, replacing any
// earlier one. The document is validated when the engine runs.
func setClaim(gameID int64, player string, claim deduction.RawClaim) error {
	if ok, err := isSeated(gameID, player); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %q", errNotSeated, player)
	}
	body, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	_, err = db.Exec(`INSERT INTO claim (game_id, player, body) VALUES (?, ?, ?)
		ON CONFLICT(game_id, player) DO UPDATE SET body = excluded.body`, gameID, player, string(body))
	return err
}

func clearClaim(gameID int64, player string) error {
	_, err := db.Exec("DELETE FROM claim WHERE game_id = ? AND player = ?", gameID, player)
	return err
}

// recordDeath stores a death; a player dies at most once.
func recordDeath(gameID int64, d deduction.Death) error {
	if ok, err := isSeated(gameID, d.Player); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %q", errNotSeated, d.Player)
	}
	if d.Night < 1 || d.Night > deduction.MaxNight {
		return fmt.Errorf("%w: night must be between 1 and %d, got %d", errInvalidDeath, deduction.MaxNight, d.Night)
	}
	if d.Time != deduction.Day {
		d.Time = deduction.Night
	}
	_, err := db.Exec(`INSERT INTO death (game_id, player, night, time) VALUES (?, ?, ?, ?)
		ON CONFLICT(game_id, player) DO UPDATE SET night = excluded.night, time = excluded.time`,
		gameID, d.Player, d.Night, string(d.Time))
	return err
}

func undoDeath(gameID int64, player string) error {
	_, err := db.Exec("DELETE FROM death WHERE game_id = ? AND player = ?", gameID, player)
	return err
}

// loadInput assembles everything recorded for a game into an engine input.
func loadInput(game *Game) (deduction.Input, error) {
	in := deduction.Input{POV: game.POV, Claims: make(map[string]deduction.RawClaim)}

	players, err := getSeats(game.ID)
	if err != nil {
		return in, fmt.Errorf("load seats: %w", err)
	}
	in.Players = players

	var claims []ClaimRow
	if err := db.Select(&claims, "SELECT player, body FROM claim WHERE game_id = ?", game.ID); err != nil {
		return in, fmt.Errorf("load claims: %w", err)
	}
	for _, c := range claims {
		var raw deduction.RawClaim
		if err := json.Unmarshal([]byte(c.Body), &raw); err != nil {
			return in, fmt.Errorf("decode claim of %s: %w", c.Player, err)
		}
		in.Claims[c.Player] = raw
	}

	var deaths []DeathRow
	if err := db.Select(&deaths, "SELECT player, night, time FROM death WHERE game_id = ? ORDER BY rowid", game.ID); err != nil {
		return in, fmt.Errorf("load deaths: %w", err)
	}
	for _, d := range deaths {
		in.Deaths = append(in.Deaths, deduction.Death{Player: d.Player, Night: d.Night, Time: deduction.TimeOfDay(d.Time)})
	}
	return in, nil
}

// saveAnalysis persists a finished run under a fresh id.
func saveAnalysis(gameID int64, res *deduction.Result) (*Analysis, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	a := &Analysis{
		ID:        uuid.NewString(),
		GameID:    gameID,
		Status:    string(res.Status),
		Worlds:    res.Worlds,
		Result:    string(body),
		CreatedAt: time.Now().UTC(),
	}
	_, err = db.NamedExec(`INSERT INTO analysis (id, game_id, status, worlds, result, narration, created_at)
		VALUES (:id, :game_id, :status, :worlds, :result, :narration, :created_at)`, a)
	if err != nil {
		return nil, fmt.Errorf("insert analysis: %w", err)
	}
	return a, nil
}

func latestAnalysis(gameID int64) (*Analysis, error) {
	var a Analysis
	err := db.Get(&a, `SELECT id, game_id, status, worlds, result, narration, created_at
		FROM analysis WHERE game_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, gameID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getAnalysis(id string) (*Analysis, error) {
	var a Analysis
	err := db.Get(&a, `SELECT id, game_id, status, worlds, result, narration, created_at
		FROM analysis WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func setNarration(id, text string) error {
	_, err := db.Exec("UPDATE analysis SET narration = ? WHERE id = ?", text, id)
	return err
}

// decodeResult parses the stored engine result.
func (a *Analysis) decodeResult() (*deduction.Result, error) {
	var res deduction.Result
	if err := json.Unmarshal([]byte(a.Result), &res); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", a.ID, err)
	}
	return &res, nil
}

func initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS game (
		name TEXT NOT NULL DEFAULT '',
		pov TEXT NOT NULL DEFAULT '',
		problem TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS player (
		name TEXT UNIQUE NOT NULL,
		secret_code TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS session (
		token INTEGER PRIMARY KEY,
		player_id INTEGER NOT NULL,
		FOREIGN KEY (player_id) REFERENCES player(rowid)
	);
	CREATE TABLE IF NOT EXISTS seat (
		game_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		FOREIGN KEY (game_id) REFERENCES game(rowid),
		UNIQUE(game_id, position),
		UNIQUE(game_id, name)
	);
	CREATE TABLE IF NOT EXISTS claim (
		game_id INTEGER NOT NULL,
		player TEXT NOT NULL,
		body TEXT NOT NULL,
		FOREIGN KEY (game_id) REFERENCES game(rowid),
		UNIQUE(game_id, player)
	);
	CREATE TABLE IF NOT EXISTS death (
		game_id INTEGER NOT NULL,
		player TEXT NOT NULL,
		night INTEGER NOT NULL,
		time TEXT NOT NULL DEFAULT 'night',
		FOREIGN KEY (game_id) REFERENCES game(rowid),
		UNIQUE(game_id, player)
	);
	CREATE TABLE IF NOT EXISTS analysis (
		id TEXT PRIMARY KEY,
		game_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		worlds INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL,
		narration TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (game_id) REFERENCES game(rowid)
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_game ON analysis(game_id, created_at);
	`
	_, err := db.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}
