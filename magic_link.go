package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"
)

const magicLinkLifetime = 15 * time.Minute

func newMagicLinkToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// POST /auth/magic-link  {"email": "...", "mode": "login"|"signup"}
// Issues a single-use login token and mails the link. In signup mode the
// account is created first (profile and preferences follow at onboarding).
func magicLinkHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		var req struct {
			Email string `json:"email"`
			Mode  string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "missing_email")
			return
		}

		var userID int
		err := db.QueryRow("SELECT id FROM users WHERE email = $1", req.Email).Scan(&userID)
		switch {
		case err == sql.ErrNoRows && req.Mode == "signup":
			err = db.QueryRow(
				"INSERT INTO users (email, role, status) VALUES ($1, $2, $3) RETURNING id",
				req.Email, roleUser, userStatusActive,
			).Scan(&userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "register_error")
				log.Println("Error creating magic-link user:", err)
				return
			}
		case err == sql.ErrNoRows:
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error querying user for magic link:", err)
			return
		case req.Mode == "signup":
			writeError(w, http.StatusConflict, "email_exists")
			return
		}

		token, err := newMagicLinkToken()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		_, err = db.Exec(
			"INSERT INTO magic_links (user_id, token, expires_at) VALUES ($1, $2, $3)",
			userID, token, time.Now().Add(magicLinkLifetime),
		)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error storing magic link:", err)
			return
		}

		sendMagicLinkEmail(req.Email, token)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

// POST /auth/verify  {"token": "..."}
// Redeems a magic-link token: single use, 15 minute window.
func magicLinkVerifyHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			writeError(w, http.StatusBadRequest, "missing_token")
			return
		}

		var userID int
		var role string
		err := withTx(r.Context(), db, func(tx *sql.Tx) error {
			var expiresAt time.Time
			var used bool
			var linkID int
			err := tx.QueryRow(`
				SELECT m.id, m.user_id, m.expires_at, m.used, u.role
				FROM magic_links m
				JOIN users u ON u.id = m.user_id
				WHERE m.token = $1
				FOR UPDATE
			`, req.Token).Scan(&linkID, &userID, &expiresAt, &used, &role)
			if err != nil {
				return err
			}
			if used || time.Now().After(expiresAt) {
				return sql.ErrNoRows
			}
			_, err = tx.Exec("UPDATE magic_links SET used = TRUE WHERE id = $1", linkID)
			return err
		})
		if err == sql.ErrNoRows {
			writeError(w, http.StatusUnauthorized, "invalid_or_expired_token")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error verifying magic link:", err)
			return
		}

		tokenString, err := issueToken(userID, role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": tokenString, "id": userID})
	}
}

// sendMagicLinkEmail delivers the login link over SMTP when configured and
// falls back to the server log in development, so the flow works without a
// mail server.
func sendMagicLinkEmail(email, token string) {
	baseURL := os.Getenv("APP_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	link := fmt.Sprintf("%s/auth/verify?token=%s", baseURL, token)

	host := os.Getenv("SMTP_HOST")
	if host == "" {
		log.Printf("MAGIC LINK (dev mode) to=%s link=%s", email, link)
		return
	}

	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	from := os.Getenv("EMAIL_FROM")
	if from == "" {
		from = "noreply@friendmatch.app"
	}

	msg := []byte("From: " + from + "\r\n" +
		"To: " + email + "\r\n" +
		"Subject: Login Link - FriendMatch\r\n" +
		"\r\n" +
		"Click the link below to log in (valid for 15 minutes):\r\n" +
		link + "\r\n")

	var auth smtp.Auth
	if user := os.Getenv("SMTP_USER"); user != "" {
		auth = smtp.PlainAuth("", user, os.Getenv("SMTP_PASS"), host)
	}
	if err := smtp.SendMail(host+":"+port, auth, from, []string{email}, msg); err != nil {
		log.Println("Error sending magic link email:", err)
	}
}
