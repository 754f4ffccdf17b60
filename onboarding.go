package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// POST /onboarding
// One-shot profile + preference setup after first login. Creates the
// UNVERIFIED verification row if registration didn't already.
func onboardingHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		type OnboardingRequest struct {
			Nickname          string   `json:"nickname"`
			BirthYear         int      `json:"birth_year"`
			Bio               string   `json:"bio"`
			Interests         []string `json:"interests"`
			ConversationDepth string   `json:"conversation_depth"`
			DrinkingOk        *bool    `json:"drinking_ok"`
			SmokingOk         *bool    `json:"smoking_ok"`
			QuietMode         *bool    `json:"quiet_mode"`
			NoAlcoholMeetups  *bool    `json:"no_alcohol_meetups"`
			AgeBandMin        int      `json:"age_band_min"`
			AgeBandMax        int      `json:"age_band_max"`
			PreferredAreas    []string `json:"preferred_areas"`
			AvailableTimes    []string `json:"available_times"`
		}

		var req OnboardingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		req.Nickname = strings.TrimSpace(req.Nickname)
		if req.Nickname == "" || req.BirthYear == 0 {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		// Form defaults for anything the client left out.
		if req.AgeBandMin == 0 {
			req.AgeBandMin = 20
		}
		if req.AgeBandMax == 0 {
			req.AgeBandMax = 50
		}
		switch req.ConversationDepth {
		case depthLight, depthBalanced, depthDeep:
		case "":
			req.ConversationDepth = depthBalanced
		default:
			writeError(w, http.StatusBadRequest, "invalid_conversation_depth")
			return
		}
		drinking := true
		if req.DrinkingOk != nil {
			drinking = *req.DrinkingOk
		}
		smoking := req.SmokingOk != nil && *req.SmokingOk
		quiet := req.QuietMode != nil && *req.QuietMode
		noAlcohol := req.NoAlcoholMeetups != nil && *req.NoAlcoholMeetups

		userID := r.Context().Value(userIDKey).(int)

		err := withTx(r.Context(), db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				INSERT INTO profiles (user_id, nickname, birth_year, bio)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id) DO UPDATE SET
					nickname = EXCLUDED.nickname,
					birth_year = EXCLUDED.birth_year,
					bio = EXCLUDED.bio
			`, userID, req.Nickname, req.BirthYear, req.Bio); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				INSERT INTO verifications (user_id, status)
				VALUES ($1, $2)
				ON CONFLICT (user_id) DO NOTHING
			`, userID, verificationUnverified); err != nil {
				return err
			}

			_, err := tx.Exec(`
				INSERT INTO preferences (
					user_id, age_band_min, age_band_max, preferred_areas, available_times, interests,
					drinking_ok, smoking_ok, quiet_mode, no_alcohol_meetups, conversation_depth
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (user_id) DO UPDATE SET
					age_band_min = EXCLUDED.age_band_min,
					age_band_max = EXCLUDED.age_band_max,
					preferred_areas = EXCLUDED.preferred_areas,
					available_times = EXCLUDED.available_times,
					interests = EXCLUDED.interests,
					drinking_ok = EXCLUDED.drinking_ok,
					smoking_ok = EXCLUDED.smoking_ok,
					quiet_mode = EXCLUDED.quiet_mode,
					no_alcohol_meetups = EXCLUDED.no_alcohol_meetups,
					conversation_depth = EXCLUDED.conversation_depth
			`, userID, req.AgeBandMin, req.AgeBandMax,
				encodeStringList(req.PreferredAreas), encodeStringList(req.AvailableTimes), encodeStringList(req.Interests),
				drinking, smoking, quiet, noAlcohol, req.ConversationDepth)
			return err
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "onboarding_error")
			log.Println("Error saving onboarding data:", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
}
