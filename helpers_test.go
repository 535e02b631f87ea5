package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"

	"grimoire/deduction"
)

// ============================================================================
// Test Logger
// ============================================================================

// TestLogger wraps AppLogger for test use with testing.T integration
type TestLogger struct {
	*AppLogger
	t *testing.T
}

// NewTestLogger creates a test logger from TEST_* environment variables.
// Log files are written under TEST_OUTPUT_DIR, one directory per test.
func NewTestLogger(t *testing.T) *TestLogger {
	config := LogConfig{
		LogRequests: os.Getenv("TEST_LOG_REQUESTS") == "1",
		LogDB:       os.Getenv("TEST_LOG_DB") == "1",
		LogWS:       os.Getenv("TEST_LOG_WS") == "1",
		Debug:       os.Getenv("TEST_DEBUG") == "1",
	}
	if dir := os.Getenv("TEST_OUTPUT_DIR"); dir != "" {
		config.OutputDir = filepath.Join(dir, strings.ReplaceAll(t.Name(), "/", "_"))
	}

	al, err := NewAppLogger(config)
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return &TestLogger{AppLogger: al, t: t}
}

// Debug logs a debug message using testing.T.Logf
func (tl *TestLogger) Debug(format string, args ...any) {
	if !tl.debug {
		return
	}
	tl.t.Logf("[DEBUG] "+format, args...)
}

// ============================================================================
// Test Server
// ============================================================================

// TestContext holds test infrastructure including logger and isolated resources
type TestContext struct {
	t       *testing.T
	logger  *TestLogger
	baseURL string
	cleanup func()
	db      *sqlx.DB // Per-test database
	hub     *Hub     // Per-test WebSocket hub
}

// newTestContext starts a server backed by a fresh database and hub.
// Tests using it must not run in parallel: handlers read the globals.
func newTestContext(t *testing.T) *TestContext {
	logger := NewTestLogger(t)

	dbPath := filepath.Join(t.TempDir(), "grimoire.db")
	testDB, err := sqlx.Connect("sqlite3",
		fmt.Sprintf("file:%s?_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", dbPath))
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Disable AI storyteller in tests by default (individual tests may override)
	globalStoryteller = nil
	appLogger = logger.AppLogger
	db = testDB
	if err := initDB(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	engine = deduction.NewEngine(deduction.Config{Workers: 2, Debugf: logger.Debug})

	logger.LogDB("after initDB")

	testHub := newHub()
	go testHub.run()
	hub = testHub

	server := httptest.NewServer(newRouter(logger.AppLogger))
	logger.Debug("Test server on %s, db %s", server.URL, dbPath)

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			logger.LogDB("before cleanup")
			testHub.stop() // closes server-side WebSocket connections
			server.Close()
			testDB.Close()
			logger.Close()
		})
	}
	t.Cleanup(cleanup)

	return &TestContext{
		t:       t,
		logger:  logger,
		baseURL: server.URL,
		cleanup: cleanup,
		db:      testDB,
		hub:     testHub,
	}
}

// ============================================================================
// Test Clients
// ============================================================================

// TestPlayer is a signed-up account with its own cookie jar.
type TestPlayer struct {
	Name       string
	SecretCode string
	ctx        *TestContext
	http       *http.Client
}

func (ctx *TestContext) newHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}
	if ctx.logger.logRequests {
		client.Transport = &LoggingRoundTripper{Transport: http.DefaultTransport, Logger: ctx.logger.AppLogger}
	}
	return client
}

func (ctx *TestContext) postForm(client *http.Client, path string, form url.Values) (*http.Response, map[string]any) {
	ctx.t.Helper()
	resp, err := client.PostForm(ctx.baseURL+path, form)
	if err != nil {
		ctx.t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

// signupPlayer creates an account and fails the test if that does not work.
func (ctx *TestContext) signupPlayer(name string) *TestPlayer {
	ctx.t.Helper()
	client := ctx.newHTTPClient()
	resp, body := ctx.postForm(client, "/signup", url.Values{"name": {name}})
	if resp.StatusCode != http.StatusCreated {
		ctx.logger.LogDB("FAIL: signup " + name)
		ctx.t.Fatalf("Signup %s: status %d, body %v", name, resp.StatusCode, body)
	}
	code, _ := body["secret_code"].(string)
	ctx.logger.Debug("Signed up %s with code %s", name, code)
	return &TestPlayer{Name: name, SecretCode: code, ctx: ctx, http: client}
}

func (tp *TestPlayer) get(path string) *http.Response {
	tp.ctx.t.Helper()
	resp, err := tp.http.Get(tp.ctx.baseURL + path)
	if err != nil {
		tp.ctx.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// TestConn is one WebSocket connection of a player.
type TestConn struct {
	player *TestPlayer
	conn   *websocket.Conn
}

// connect opens a WebSocket carrying the player's session cookie and
// consumes the initial state snapshot.
func (tp *TestPlayer) connect() (*TestConn, *GameState) {
	tp.ctx.t.Helper()
	wsURL := "ws" + strings.TrimPrefix(tp.ctx.baseURL, "http") + "/ws"
	dialer := websocket.Dialer{Jar: tp.http.Jar, HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		tp.ctx.t.Fatalf("%s: dial %s: %v (status %d)", tp.Name, wsURL, err, status)
	}
	tc := &TestConn{player: tp, conn: conn}
	tp.ctx.t.Cleanup(func() { conn.Close() })
	state := tc.waitForState("initial snapshot", func(*GameState) bool { return true })
	return tc, state
}

func (tc *TestConn) send(msg WSMessage) {
	tc.player.ctx.t.Helper()
	if err := tc.conn.WriteJSON(msg); err != nil {
		tc.player.ctx.t.Fatalf("%s: send %s: %v", tc.player.Name, msg.Action, err)
	}
}

// next reads messages until one of the given type arrives.
func (tc *TestConn) next(msgType string, deadline time.Time) ([]byte, error) {
	for {
		tc.conn.SetReadDeadline(deadline)
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return nil, err
		}
		tc.player.ctx.logger.Debug("[%s] received %s", tc.player.Name, head.Type)
		if head.Type == msgType {
			return data, nil
		}
	}
}

// waitForState reads until a state message satisfies cond.
func (tc *TestConn) waitForState(description string, cond func(*GameState) bool) *GameState {
	tc.player.ctx.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		data, err := tc.next("state", deadline)
		if err != nil {
			tc.player.ctx.logger.LogDB("FAIL: " + description)
			tc.player.ctx.t.Fatalf("%s: waiting for %s: %v", tc.player.Name, description, err)
		}
		var state GameState
		if err := json.Unmarshal(data, &state); err != nil {
			tc.player.ctx.t.Fatalf("%s: decode state: %v", tc.player.Name, err)
		}
		if cond(&state) {
			return &state
		}
	}
}

// waitForToast returns the next toast.
func (tc *TestConn) waitForToast() Toast {
	tc.player.ctx.t.Helper()
	data, err := tc.next("toast", time.Now().Add(10*time.Second))
	if err != nil {
		tc.player.ctx.t.Fatalf("%s: waiting for toast: %v", tc.player.Name, err)
	}
	var toast Toast
	if err := json.Unmarshal(data, &toast); err != nil {
		tc.player.ctx.t.Fatalf("%s: decode toast: %v", tc.player.Name, err)
	}
	return toast
}

// waitForNarration reads narration messages until the final one.
func (tc *TestConn) waitForNarration() Narration {
	tc.player.ctx.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		data, err := tc.next("narration", deadline)
		if err != nil {
			tc.player.ctx.t.Fatalf("%s: waiting for narration: %v", tc.player.Name, err)
		}
		var n Narration
		if err := json.Unmarshal(data, &n); err != nil {
			tc.player.ctx.t.Fatalf("%s: decode narration: %v", tc.player.Name, err)
		}
		if n.Done {
			return n
		}
	}
}

// hasAnalysis matches states carrying a run for exactly these players.
func hasAnalysis(players ...string) func(*GameState) bool {
	return func(s *GameState) bool {
		if s.Analysis == nil || s.Analysis.Result == nil || len(s.Players) != len(players) {
			return false
		}
		for i, p := range players {
			if s.Players[i] != p {
				return false
			}
		}
		return true
	}
}

func generateTestName(base string, n uint8) string {
	return fmt.Sprintf("%s%d", base, n)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

// mockStoryteller is a test double for the Storyteller interface.
// It streams fixed chunks without calling any LLM.
type mockStoryteller struct {
	chunks []string
	mu     sync.Mutex
	facts  []string
}

func (m *mockStoryteller) Tell(ctx context.Context, facts []string, onChunk func(string)) (string, error) {
	m.mu.Lock()
	m.facts = facts
	m.mu.Unlock()
	for _, c := range m.chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if onChunk != nil {
			onChunk(c)
		}
	}
	return strings.Join(m.chunks, ""), nil
}

func (m *mockStoryteller) lastFacts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facts
}
