package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// GET /me
func meHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		var email, role string
		var nickname sql.NullString
		var verificationStatus sql.NullString
		err := db.QueryRow(`
			SELECT u.email, u.role, p.nickname, v.status
			FROM users u
			LEFT JOIN profiles p ON p.user_id = u.id
			LEFT JOIN verifications v ON v.user_id = u.id
			WHERE u.id = $1
		`, userID).Scan(&email, &role, &nickname, &verificationStatus)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		status := verificationUnverified
		if verificationStatus.Valid {
			status = verificationStatus.String
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":                  userID,
			"email":               email,
			"role":                role,
			"nickname":            nickname.String,
			"verification_status": status,
		})
	})
}

// GET|PATCH /me/profile
func meProfileHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodGet:
			var nickname, bio string
			var birthYear int
			var photoFile sql.NullString
			err := db.QueryRow(
				"SELECT nickname, birth_year, COALESCE(bio, ''), photo_file FROM profiles WHERE user_id = $1",
				userID,
			).Scan(&nickname, &birthYear, &bio, &photoFile)
			if err == sql.ErrNoRows {
				writeError(w, http.StatusNotFound, "profile_not_found")
				return
			} else if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"id":         userID,
				"nickname":   nickname,
				"birth_year": birthYear,
				"bio":        bio,
				"photo_file": photoFile.String,
			})

		case http.MethodPatch:
			var req struct {
				Nickname  string `json:"nickname"`
				BirthYear int    `json:"birth_year"`
				Bio       string `json:"bio"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
			req.Nickname = strings.TrimSpace(req.Nickname)
			if req.Nickname == "" || req.BirthYear == 0 {
				writeError(w, http.StatusBadRequest, "missing_fields")
				return
			}
			res, err := db.Exec(
				"UPDATE profiles SET nickname = $1, birth_year = $2, bio = $3 WHERE user_id = $4",
				req.Nickname, req.BirthYear, req.Bio, userID,
			)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "profile_save_error")
				log.Println("Error updating profile:", err)
				return
			}
			if aff, _ := res.RowsAffected(); aff == 0 {
				writeError(w, http.StatusNotFound, "profile_not_found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

// GET|PATCH /me/preferences
func mePreferencesHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodGet:
			var pref Preference
			var areas, times, interests []byte
			err := db.QueryRow(`
				SELECT age_band_min, age_band_max, preferred_areas, available_times, interests,
				       drinking_ok, smoking_ok, quiet_mode, no_alcohol_meetups, conversation_depth
				FROM preferences WHERE user_id = $1
			`, userID).Scan(
				&pref.AgeBandMin, &pref.AgeBandMax, &areas, &times, &interests,
				&pref.DrinkingOk, &pref.SmokingOk, &pref.QuietMode, &pref.NoAlcoholMeetups,
				&pref.ConversationDepth,
			)
			if err == sql.ErrNoRows {
				writeError(w, http.StatusNotFound, "preferences_not_found")
				return
			} else if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"age_band_min":       pref.AgeBandMin,
				"age_band_max":       pref.AgeBandMax,
				"preferred_areas":    orEmpty(decodeStringList(areas)),
				"available_times":    orEmpty(decodeStringList(times)),
				"interests":          orEmpty(decodeStringList(interests)),
				"drinking_ok":        pref.DrinkingOk,
				"smoking_ok":         pref.SmokingOk,
				"quiet_mode":         pref.QuietMode,
				"no_alcohol_meetups": pref.NoAlcoholMeetups,
				"conversation_depth": pref.ConversationDepth,
			})

		case http.MethodPatch:
			var req struct {
				AgeBandMin        int      `json:"age_band_min"`
				AgeBandMax        int      `json:"age_band_max"`
				PreferredAreas    []string `json:"preferred_areas"`
				AvailableTimes    []string `json:"available_times"`
				Interests         []string `json:"interests"`
				DrinkingOk        bool     `json:"drinking_ok"`
				SmokingOk         bool     `json:"smoking_ok"`
				QuietMode         bool     `json:"quiet_mode"`
				NoAlcoholMeetups  bool     `json:"no_alcohol_meetups"`
				ConversationDepth string   `json:"conversation_depth"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
			if req.AgeBandMin <= 0 || req.AgeBandMax < req.AgeBandMin {
				writeError(w, http.StatusBadRequest, "invalid_age_band")
				return
			}
			switch req.ConversationDepth {
			case depthLight, depthBalanced, depthDeep:
			default:
				writeError(w, http.StatusBadRequest, "invalid_conversation_depth")
				return
			}

			res, err := db.Exec(`
				UPDATE preferences SET
					age_band_min = $1, age_band_max = $2,
					preferred_areas = $3, available_times = $4, interests = $5,
					drinking_ok = $6, smoking_ok = $7, quiet_mode = $8,
					no_alcohol_meetups = $9, conversation_depth = $10
				WHERE user_id = $11
			`, req.AgeBandMin, req.AgeBandMax,
				encodeStringList(req.PreferredAreas), encodeStringList(req.AvailableTimes), encodeStringList(req.Interests),
				req.DrinkingOk, req.SmokingOk, req.QuietMode, req.NoAlcoholMeetups,
				req.ConversationDepth, userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "preferences_save_error")
				log.Println("Error updating preferences:", err)
				return
			}
			if aff, _ := res.RowsAffected(); aff == 0 {
				writeError(w, http.StatusNotFound, "preferences_not_found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

// orEmpty keeps JSON responses array-typed where nil would render as null.
func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
