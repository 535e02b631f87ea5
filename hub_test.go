package main

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketSync(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()

	ctx.logger.Debug("=== Testing WebSocket synchronization ===")

	alice, _ := ctx.signupPlayer("Alice").connect()
	bob, initial := ctx.signupPlayer("Bob").connect()
	if len(initial.Players) != 0 || initial.Analysis != nil {
		t.Fatalf("Fresh game should be empty, got %+v", initial)
	}

	alice.send(WSMessage{Action: "set_roster", Players: []string{"Ann", "Ben", "Cat", "Dan", "Eve"}})

	state := bob.waitForState("roster from Alice", hasAnalysis("Ann", "Ben", "Cat", "Dan", "Eve"))
	if state.Problem != "" {
		t.Errorf("Five players should be analyzable, got problem %q", state.Problem)
	}
	if state.Analysis.Status != "conclusive" {
		t.Errorf("Expected a conclusive analysis, got %s", state.Analysis.Status)
	}

	// The sender sees its own change too
	alice.waitForState("own roster", hasAnalysis("Ann", "Ben", "Cat", "Dan", "Eve"))

	ctx.logger.Debug("=== Test passed ===")
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	ctx := newTestContext(t)

	alice, _ := ctx.signupPlayer("Alice").connect()
	alice.send(WSMessage{Action: "set_roster", Players: []string{"A", "B", "C", "D", "E"}})
	alice.waitForState("roster", hasAnalysis("A", "B", "C", "D", "E"))

	// A late joiner gets the full table without asking
	_, state := ctx.signupPlayer("Late").connect()
	if !hasAnalysis("A", "B", "C", "D", "E")(state) {
		t.Errorf("Late joiner should receive the analyzed table, got %+v", state)
	}
}

func TestWebSocketRequiresLogin(t *testing.T) {
	ctx := newTestContext(t)

	wsURL := "ws" + strings.TrimPrefix(ctx.baseURL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Anonymous WebSocket connection should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for anonymous connection, got %v", resp)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	ctx := newTestContext(t)

	alice, _ := ctx.signupPlayer("Alice").connect()
	bob, _ := ctx.signupPlayer("Bob").connect()
	if n := waitForClients(ctx.hub, 2); n != 2 {
		t.Fatalf("Expected 2 registered clients, got %d", n)
	}

	bob.conn.Close()
	if n := waitForClients(ctx.hub, 1); n != 1 {
		t.Fatalf("Closed client should be unregistered, %d clients left", n)
	}

	alice.send(WSMessage{Action: "set_roster", Players: []string{"A", "B", "C", "D", "E"}})
	alice.waitForState("roster after Bob left", hasAnalysis("A", "B", "C", "D", "E"))
}

// waitForClients polls until the hub holds n clients or five seconds pass.
func waitForClients(h *Hub, n int) int {
	deadline := time.Now().Add(5 * time.Second)
	for h.count() != n && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	return h.count()
}

func TestUnknownActionToast(t *testing.T) {
	ctx := newTestContext(t)

	alice, _ := ctx.signupPlayer("Alice").connect()
	alice.send(WSMessage{Action: "start_game"})

	toast := alice.waitForToast()
	if toast.Level != "error" || toast.Message != "Unknown action" {
		t.Errorf("Expected unknown action toast, got %+v", toast)
	}
}
