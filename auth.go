package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// UserIDKey is the key type for storing user ID in context
type UserIDKey string

const userIDKey UserIDKey = "userID"
const userRoleKey UserIDKey = "userRole"

const tokenLifetime = 24 * time.Hour

func issueToken(userID int, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(tokenLifetime).Unix(),
	})
	return token.SignedString(jwtSecret)
}

func registerHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		type RegisterRequest struct {
			Email     string `json:"email"`
			Password  string `json:"password"`
			Nickname  string `json:"nickname"`
			BirthYear int    `json:"birth_year"`
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		req.Email = strings.TrimSpace(req.Email)
		req.Nickname = strings.TrimSpace(req.Nickname)
		if req.Email == "" || req.Password == "" || req.Nickname == "" || req.BirthYear == 0 {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		if len(req.Password) < 8 {
			writeError(w, http.StatusBadRequest, "password_too_short")
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "hash_error")
			log.Println("Error hashing password:", err)
			return
		}

		var newID int
		err = withTx(r.Context(), db, func(tx *sql.Tx) error {
			if err := tx.QueryRow(
				"INSERT INTO users (email, password_hash, role, status) VALUES ($1, $2, $3, $4) RETURNING id",
				req.Email, string(hashedPassword), roleUser, userStatusActive,
			).Scan(&newID); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO profiles (user_id, nickname, birth_year) VALUES ($1, $2, $3)",
				newID, req.Nickname, req.BirthYear,
			); err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO verifications (user_id, status) VALUES ($1, $2)",
				newID, verificationUnverified,
			); err != nil {
				return err
			}
			// Preference defaults match the onboarding form's initial state.
			_, err := tx.Exec(`
				INSERT INTO preferences (
					user_id, age_band_min, age_band_max, preferred_areas, available_times, interests,
					drinking_ok, smoking_ok, quiet_mode, no_alcohol_meetups, conversation_depth
				) VALUES ($1, 20, 40, '[]', '[]', '[]', TRUE, FALSE, FALSE, FALSE, $2)
			`, newID, depthBalanced)
			return err
		})
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
				writeError(w, http.StatusConflict, "email_exists")
				return
			}
			writeError(w, http.StatusInternalServerError, "register_error")
			log.Println("Error saving user to database:", err)
			return
		}

		tokenString, err := issueToken(newID, roleUser)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			log.Println("Error generating token for new user:", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{"token": tokenString, "id": newID})
	}
}

func loginHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		type LoginRequest struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		req.Email = strings.TrimSpace(req.Email)
		req.Password = strings.TrimSpace(req.Password)
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		var userID int
		var passwordHash sql.NullString
		var role, status string
		err := db.QueryRow(
			"SELECT id, password_hash, role, status FROM users WHERE email = $1",
			req.Email,
		).Scan(&userID, &passwordHash, &role, &status)
		if err == sql.ErrNoRows {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		} else if err != nil {
			log.Println("Error querying user:", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		// Magic-link-only accounts have no password hash.
		if !passwordHash.Valid {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash.String), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		if status == userStatusBanned {
			writeError(w, http.StatusForbidden, "account_banned")
			return
		}

		tokenString, err := issueToken(userID, role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			log.Println("Error generating token:", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"token": tokenString, "id": userID})
	}
}

// logoutHandler exists for symmetry with the frontend's session handling.
// Bearer tokens are stateless, so there is nothing to revoke server-side.
func logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseToken(tokenStr string) (userID int, role string, ok bool) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, "", false
	}
	// jwt.MapClaims stores numbers as float64 by default
	fv, ok := claims["user_id"].(float64)
	if !ok {
		return 0, "", false
	}
	role, _ = claims["role"].(string)
	return int(fv), role, true
}

func authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID, role, ok := parseToken(strings.TrimPrefix(authHeader, "Bearer "))
		if !ok {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, userRoleKey, role)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin gates administrative endpoints on the role claim.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(userRoleKey).(string); role != roleAdmin {
			writeError(w, http.StatusForbidden, "admin_access_required")
			return
		}
		next(w, r)
	})
}

// requireVerified gates member-only endpoints (events, RSVP) on an approved
// identity check.
func requireVerified(db *sql.DB, next http.HandlerFunc) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)
		var status string
		err := db.QueryRow("SELECT status FROM verifications WHERE user_id = $1", userID).Scan(&status)
		if err != nil && err != sql.ErrNoRows {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if status != verificationVerified {
			writeError(w, http.StatusForbidden, "verification_required")
			return
		}
		next(w, r)
	})
}
