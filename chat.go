package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxMessageLength = 2000

// ChatMessage is one group-chat message as sent to clients.
type ChatMessage struct {
	ID       int64     `json:"id"`
	ThreadID int       `json:"thread_id"`
	From     int       `json:"from"`
	Nickname string    `json:"nickname,omitempty"`
	Body     string    `json:"body"`
	Ts       time.Time `json:"ts"`
}

// ServerEvent represents a server-sent event on the WebSocket.
type ServerEvent struct {
	Type string `json:"type"` // "message" | "info" | "error"
	Data any    `json:"data,omitempty"`
}

// Client represents one WebSocket connection bound to a chat thread.
type Client struct {
	userID   int
	threadID int
	conn     *websocket.Conn
	send     chan ServerEvent
}

// Hub fans messages out to every connection watching a thread.
type Hub struct {
	clientsByThread map[int]map[*Client]bool
	mu              sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByThread: make(map[int]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByThread[c.threadID] == nil {
		h.clientsByThread[c.threadID] = make(map[*Client]bool)
	}
	h.clientsByThread[c.threadID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByThread[c.threadID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByThread, c.threadID)
		}
	}
}

func (h *Hub) broadcast(threadID int, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByThread[threadID] {
		select {
		case c.send <- evt:
		default:
			// Drop the event if the client's buffer is full
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the Next dev server origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// global hub
var chatHub = newHub()

// threadMember checks that the thread exists and that the user is an active
// member of its group. Returns the owning group id for convenience.
func threadMember(db *sql.DB, threadID, userID int) (bool, error) {
	var member bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1
			FROM chat_threads t
			JOIN group_memberships gm ON gm.group_id = t.group_id AND gm.is_active
			WHERE t.id = $1 AND gm.user_id = $2
		)
	`, threadID, userID).Scan(&member)
	return member, err
}

// GET /ws/chat?thread={id}&token={jwt}
func wsChatHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Browsers can't set headers on WebSocket requests, so the token
		// may arrive as a query parameter instead.
		userID, ok := wsUserID(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		threadID, err := strconv.Atoi(r.URL.Query().Get("thread"))
		if err != nil {
			http.Error(w, "Missing thread", http.StatusBadRequest)
			return
		}
		member, err := threadMember(db, threadID, userID)
		if err != nil || !member {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WS upgrade error for user %d: %v", userID, err)
			return
		}

		client := &Client{
			userID:   userID,
			threadID: threadID,
			conn:     conn,
			send:     make(chan ServerEvent, 16),
		}
		chatHub.register(client)
		client.send <- ServerEvent{Type: "info", Data: "connected"}

		go clientWriter(client)
		clientReader(db, client)
	}
}

func wsUserID(r *http.Request) (int, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if id, _, ok := parseToken(strings.TrimPrefix(auth, "Bearer ")); ok {
			return id, true
		}
	}
	if q := r.URL.Query().Get("token"); q != "" {
		if id, _, ok := parseToken(q); ok {
			return id, true
		}
	}
	return 0, false
}

func clientWriter(c *Client) {
	for evt := range c.send {
		if err := c.conn.WriteJSON(evt); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func clientReader(db *sql.DB, c *Client) {
	defer func() {
		chatHub.unregister(c)
		close(c.send)
	}()
	for {
		var incoming struct {
			Body string `json:"body"`
		}
		if err := c.conn.ReadJSON(&incoming); err != nil {
			return
		}
		body := strings.TrimSpace(incoming.Body)
		if body == "" || len(body) > maxMessageLength {
			c.send <- ServerEvent{Type: "error", Data: "invalid_message"}
			continue
		}
		msg, err := storeMessage(db, c.threadID, c.userID, body)
		if err != nil {
			log.Println("Error storing chat message:", err)
			c.send <- ServerEvent{Type: "error", Data: "send_failed"}
			continue
		}
		chatHub.broadcast(c.threadID, ServerEvent{Type: "message", Data: msg})
	}
}

func storeMessage(db *sql.DB, threadID, userID int, body string) (*ChatMessage, error) {
	msg := &ChatMessage{ThreadID: threadID, From: userID, Body: body}
	err := db.QueryRow(`
		INSERT INTO messages (thread_id, user_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, threadID, userID, body).Scan(&msg.ID, &msg.Ts)
	if err != nil {
		return nil, err
	}
	_ = db.QueryRow("SELECT nickname FROM profiles WHERE user_id = $1", userID).Scan(&msg.Nickname)
	return msg, nil
}

// GET|POST /chats/{threadId}/messages
func chatMessagesRouter(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		// Expect: chats/{threadId}/messages
		if len(parts) != 3 || parts[0] != "chats" || parts[2] != "messages" {
			http.NotFound(w, r)
			return
		}
		threadID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		member, err := threadMember(db, threadID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !member {
			writeError(w, http.StatusForbidden, "access_denied")
			return
		}

		switch r.Method {
		case http.MethodGet:
			rows, err := db.Query(`
				SELECT m.id, m.user_id, COALESCE(p.nickname, ''), m.body, m.created_at
				FROM messages m
				LEFT JOIN profiles p ON p.user_id = m.user_id
				WHERE m.thread_id = $1 AND m.deleted_at IS NULL
				ORDER BY m.created_at ASC, m.id ASC
			`, threadID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			defer rows.Close()

			messages := []ChatMessage{}
			for rows.Next() {
				msg := ChatMessage{ThreadID: threadID}
				if err := rows.Scan(&msg.ID, &msg.From, &msg.Nickname, &msg.Body, &msg.Ts); err != nil {
					continue
				}
				messages = append(messages, msg)
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"messages":        messages,
				"current_user_id": userID,
			})

		case http.MethodPost:
			var req struct {
				Body string `json:"body"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
			body := strings.TrimSpace(req.Body)
			if body == "" {
				writeError(w, http.StatusBadRequest, "empty_message")
				return
			}
			if len(body) > maxMessageLength {
				writeError(w, http.StatusBadRequest, "message_too_long")
				return
			}
			msg, err := storeMessage(db, threadID, userID, body)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "send_failed")
				log.Println("Error storing chat message:", err)
				return
			}
			// Notify connected members
			chatHub.broadcast(threadID, ServerEvent{Type: "message", Data: msg})
			writeJSON(w, http.StatusCreated, msg)

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}
