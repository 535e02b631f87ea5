package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"grimoire/deduction"
)

// WSMessage represents a message from the client
type WSMessage struct {
	Action     string             `json:"action"`
	Players    []string           `json:"players,omitempty"`
	Player     string             `json:"player,omitempty"`
	Claim      deduction.RawClaim `json:"claim,omitempty"`
	Night      int                `json:"night,omitempty"`
	Time       string             `json:"time,omitempty"`
	POV        string             `json:"pov,omitempty"`
	AnalysisID string             `json:"analysis_id,omitempty"`
}

// Client represents a websocket connection with player info
type Client struct {
	conn     *websocket.Conn
	playerID int64
	name     string
	writeMu  sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

func (c *Client) write(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	LogWSMessage("OUT", c.name, string(message))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// sendJSON writes one message to this connection only.
func (c *Client) sendJSON(v any) {
	message, err := json.Marshal(v)
	if err != nil {
		logError("sendJSON: marshal", err)
		return
	}
	if err := c.write(message); err != nil {
		log.Printf("WebSocket write error to %s: %v", c.name, err)
	}
}

// WebSocket hub for broadcasting updates to all connected clients
type Hub struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

var hub = newHub()

func (h *Hub) sendToPlayer(playerID int64, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.playerID == playerID {
			if err := client.write(message); err != nil {
				log.Printf("WebSocket write error to player %d: %v", playerID, err)
			}
		}
	}
}

// broadcastJSON queues v for every connected client.
func (h *Hub) broadcastJSON(v any) {
	message, err := json.Marshal(v)
	if err != nil {
		logError("broadcastJSON: marshal", err)
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (player %d: %s). Total: %d", client.playerID, client.name, total)
			DebugLog("hub.register", "Player '%s' (ID: %d) connected via WebSocket", client.name, client.playerID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				DebugLog("hub.unregister", "Player '%s' (ID: %d) disconnected", client.name, client.playerID)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)

		case message := <-h.broadcast:
			var failed []*websocket.Conn
			h.mu.RLock()
			for conn, client := range h.clients {
				if err := client.write(message); err != nil {
					log.Printf("WebSocket write error: %v", err)
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			if len(failed) > 0 {
				h.mu.Lock()
				for _, conn := range failed {
					conn.Close()
					delete(h.clients, conn)
				}
				h.mu.Unlock()
			}
		}
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Capture globals at entry to avoid race conditions in parallel tests
	currentDB := db
	currentHub := hub

	playerID, err := getPlayerIdFromSession(r)
	if err != nil {
		DebugLog("handleWebSocket", "Rejected WebSocket connection - not logged in")
		http.Error(w, "Not logged in", http.StatusUnauthorized)
		return
	}

	var playerName string
	currentDB.Get(&playerName, "SELECT name FROM player WHERE rowid = ?", playerID)
	DebugLog("handleWebSocket", "Player '%s' (ID: %d) initiating WebSocket connection", playerName, playerID)

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for player %d (%s): %v", playerID, playerName, err)
		return
	}

	DebugLog("handleWebSocket", "WebSocket upgraded successfully for player '%s' (ID: %d)", playerName, playerID)
	client := &Client{conn: conn, playerID: playerID, name: playerName}
	currentHub.register <- client

	// The snapshot is read after registration so no later change is missed.
	if state, err := currentState(); err != nil {
		logError("handleWebSocket: currentState", err)
		sendErrorToast(client.playerID, "Failed to load game")
	} else {
		client.sendJSON(state)
	}

	// Handle messages and disconnection
	go func() {
		defer func() {
			currentHub.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			handleWSMessage(client, message)
		}
	}()
}
