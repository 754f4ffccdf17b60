package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
)

// PersonalityScores holds Big Five trait scores on a 0-100 scale.
type PersonalityScores struct {
	Extraversion      int `json:"extraversion"`
	Openness          int `json:"openness"`
	Agreeableness     int `json:"agreeableness"`
	Conscientiousness int `json:"conscientiousness"`
	Neuroticism       int `json:"neuroticism"`
}

// calculatePersonalityScores maps the 25 test answers (q1..q25, values 1-5)
// onto Big Five traits: five questions per trait, scaled to 0-100.
func calculatePersonalityScores(answers map[string]int) PersonalityScores {
	sum := func(from, to int) int {
		total := 0
		for i := from; i <= to; i++ {
			total += answers[fmt.Sprintf("q%d", i)]
		}
		return total
	}
	scale := func(total int) int {
		return int(math.Round(float64(total) / 25.0 * 100))
	}
	return PersonalityScores{
		Extraversion:      scale(sum(1, 5)),
		Openness:          scale(sum(6, 10)),
		Agreeableness:     scale(sum(11, 15)),
		Conscientiousness: scale(sum(16, 20)),
		Neuroticism:       scale(sum(21, 25)),
	}
}

// personalityType labels the score profile. Checked in order; the first
// matching archetype wins.
func personalityType(s PersonalityScores) string {
	switch {
	case s.Extraversion > 70 && s.Agreeableness > 70:
		return "The Connector"
	case s.Openness > 70 && s.Extraversion > 60:
		return "The Explorer"
	case s.Conscientiousness > 70 && s.Agreeableness > 60:
		return "The Organizer"
	case s.Openness > 70 && s.Neuroticism < 40:
		return "The Creative"
	case s.Agreeableness > 70 && s.Conscientiousness > 60:
		return "The Supporter"
	case s.Extraversion < 40 && s.Conscientiousness > 60:
		return "The Thinker"
	case s.Extraversion > 60 && s.Openness > 60:
		return "The Adventurer"
	default:
		return "The Balanced"
	}
}

// GET|POST /personality-test
func personalityTestHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodPost:
			var req struct {
				Answers map[string]int `json:"answers"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Answers) == 0 {
				writeError(w, http.StatusBadRequest, "invalid_answers")
				return
			}
			for _, v := range req.Answers {
				if v < 1 || v > 5 {
					writeError(w, http.StatusBadRequest, "invalid_answers")
					return
				}
			}

			scores := calculatePersonalityScores(req.Answers)
			typeLabel := personalityType(scores)

			_, err := db.Exec(`
				INSERT INTO personality_tests (
					user_id, extraversion, openness, agreeableness, conscientiousness, neuroticism, type_label, taken_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
				ON CONFLICT (user_id) DO UPDATE SET
					extraversion = EXCLUDED.extraversion,
					openness = EXCLUDED.openness,
					agreeableness = EXCLUDED.agreeableness,
					conscientiousness = EXCLUDED.conscientiousness,
					neuroticism = EXCLUDED.neuroticism,
					type_label = EXCLUDED.type_label,
					taken_at = NOW()
			`, userID, scores.Extraversion, scores.Openness, scores.Agreeableness,
				scores.Conscientiousness, scores.Neuroticism, typeLabel)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				log.Println("Error saving personality test:", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"scores": scores,
				"type":   typeLabel,
			})

		case http.MethodGet:
			var scores PersonalityScores
			var typeLabel string
			err := db.QueryRow(`
				SELECT extraversion, openness, agreeableness, conscientiousness, neuroticism, type_label
				FROM personality_tests WHERE user_id = $1
			`, userID).Scan(
				&scores.Extraversion, &scores.Openness, &scores.Agreeableness,
				&scores.Conscientiousness, &scores.Neuroticism, &typeLabel,
			)
			if err == sql.ErrNoRows {
				writeError(w, http.StatusNotFound, "not_taken")
				return
			} else if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"scores": scores,
				"type":   typeLabel,
			})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}
