package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
)

const sessionCookieName = "grimoire_session"

func generateSecretCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func setSessionCookie(w http.ResponseWriter, playerID int64) error {
	tokenBig, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return err
	}
	token := tokenBig.Int64()

	if _, err := db.Exec("INSERT INTO session (token, player_id) VALUES (?, ?)", token, playerID); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    strconv.FormatInt(token, 10),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func getPlayerIdFromSession(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return -1, err
	}

	token, err := strconv.ParseInt(cookie.Value, 10, 64)
	if err != nil {
		return -1, err
	}

	var playerID int64
	err = db.Get(&playerID, "SELECT player_id FROM session WHERE token = ?", token)
	if err != nil {
		return -1, err
	}

	return playerID, nil
}

// accountResponse is returned by signup and login.
type accountResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SecretCode string `json:"secret_code"`
}

func handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeToast(w, http.StatusBadRequest, "Name is required")
		return
	}

	var existing Player
	err := db.Get(&existing, "SELECT rowid as id, name, secret_code FROM player WHERE name = ?", name)
	if err == nil {
		writeToast(w, http.StatusConflict, "Name already taken. Use login with secret code if this is you.")
		return
	}
	if err != sql.ErrNoRows {
		logError("handleSignup: db.Get player", err)
		writeToast(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	secretCode, err := generateSecretCode()
	if err != nil {
		logError("handleSignup: generateSecretCode", err)
		writeToast(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	result, err := db.Exec("INSERT INTO player (name, secret_code) VALUES (?, ?)", name, secretCode)
	if err != nil {
		logError("handleSignup: db.Exec insert player", err)
		writeToast(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	playerID, _ := result.LastInsertId()
	log.Printf("New player created: name='%s', id=%d", name, playerID)
	DebugLog("handleSignup", "Player '%s' signed up with ID %d", name, playerID)
	LogDBState("after signup: " + name)

	if err := setSessionCookie(w, playerID); err != nil {
		logError("handleSignup: setSessionCookie", err)
		writeToast(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{ID: playerID, Name: name, SecretCode: secretCode})
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	secretCode := r.FormValue("secret_code")

	if name == "" || secretCode == "" {
		writeToast(w, http.StatusBadRequest, "Name and secret code are required")
		return
	}

	var player Player
	err := db.Get(&player, "SELECT rowid as id, name, secret_code FROM player WHERE name = ? AND secret_code = ?", name, secretCode)
	if err == sql.ErrNoRows {
		writeToast(w, http.StatusUnauthorized, "Invalid name or secret code")
		return
	}
	if err != nil {
		logError("handleLogin: db.Get player", err)
		writeToast(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	log.Printf("Player logged in: name='%s', id=%d", name, player.ID)
	DebugLog("handleLogin", "Player '%s' logged in with ID %d", name, player.ID)
	if err := setSessionCookie(w, player.ID); err != nil {
		logError("handleLogin: setSessionCookie", err)
		writeToast(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{ID: player.ID, Name: player.Name, SecretCode: player.SecretCode})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	playerID, _ := getPlayerIdFromSession(r)
	var playerName string
	db.Get(&playerName, "SELECT name FROM player WHERE rowid = ?", playerID)

	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		token, _ := strconv.ParseInt(cookie.Value, 10, 64)
		db.Exec("DELETE FROM session WHERE token = ?", token)
	}

	log.Printf("Player logged out: name='%s', id=%d", playerName, playerID)
	DebugLog("handleLogout", "Player '%s' (ID: %d) logged out", playerName, playerID)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusNoContent)
}
