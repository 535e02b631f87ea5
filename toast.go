package main

import (
	"encoding/json"
	"log"
	"strconv"
	"sync/atomic"
)

// Toast represents a notification message to show to the user
type Toast struct {
	Type    string `json:"type"` // always "toast"
	ID      string `json:"id"`
	Level   string `json:"level"` // "error", "warning", "success", "info"
	Message string `json:"message"`
}

var toastCounter atomic.Int64

// renderToast encodes a toast notification message
func renderToast(level, message string) []byte {
	toast := Toast{
		Type:    "toast",
		ID:      strconv.FormatInt(toastCounter.Add(1), 10),
		Level:   level,
		Message: message,
	}
	data, err := json.Marshal(toast)
	if err != nil {
		log.Printf("Failed to render toast: %v", err)
		return nil
	}
	return data
}

// sendErrorToast sends an error toast to a specific player via WebSocket
func sendErrorToast(playerID int64, message string) {
	if data := renderToast("error", message); data != nil {
		hub.sendToPlayer(playerID, data)
	}
}
