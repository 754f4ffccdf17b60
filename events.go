package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// POST /admin/events
// Admins schedule meetups for a group (one per week of the series).
func adminCreateEventHandler(db *sql.DB) http.HandlerFunc {
	return requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		var req struct {
			GroupID    int    `json:"group_id"`
			Title      string `json:"title"`
			Venue      string `json:"venue"`
			StartsAt   string `json:"starts_at"`
			WeekNumber int    `json:"week_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.GroupID == 0 || req.Title == "" || req.StartsAt == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_starts_at")
			return
		}

		var exists bool
		if err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)", req.GroupID).Scan(&exists); err != nil || !exists {
			writeError(w, http.StatusNotFound, "group_not_found")
			return
		}

		var eventID int
		err = db.QueryRow(`
			INSERT INTO events (group_id, title, venue, starts_at, week_number)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, req.GroupID, req.Title, req.Venue, startsAt, req.WeekNumber).Scan(&eventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error creating event:", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": eventID})
	})
}

// GET /groups/{id}/events
// Event series for a group, members only, with the caller's RSVP state.
func groupEventsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		groupID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		member, err := isGroupMember(db, groupID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !member {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		rows, err := db.Query(`
			SELECT e.id, e.title, COALESCE(e.venue, ''), e.starts_at, e.week_number,
			       COALESCE(r.status, '')
			FROM events e
			LEFT JOIN rsvps r ON r.event_id = e.id AND r.user_id = $2
			WHERE e.group_id = $1
			ORDER BY e.starts_at ASC
		`, groupID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		events := []map[string]interface{}{}
		for rows.Next() {
			var id, weekNumber int
			var title, venue, rsvpStatus string
			var startsAt time.Time
			if err := rows.Scan(&id, &title, &venue, &startsAt, &weekNumber, &rsvpStatus); err != nil {
				continue
			}
			entry := map[string]interface{}{
				"id":          id,
				"title":       title,
				"venue":       venue,
				"starts_at":   startsAt,
				"week_number": weekNumber,
			}
			if rsvpStatus != "" {
				entry["my_rsvp"] = rsvpStatus
			}
			events = append(events, entry)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	})
}

// POST|DELETE /events/{id}/rsvp
// POST confirms attendance, DELETE cancels. Verified group members only.
func eventRSVPRouter(db *sql.DB) http.HandlerFunc {
	return requireVerified(db, func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		// Expect: events/{id}/rsvp
		if len(parts) != 3 || parts[0] != "events" || parts[2] != "rsvp" {
			http.NotFound(w, r)
			return
		}
		eventID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		var groupID int
		err = db.QueryRow("SELECT group_id FROM events WHERE id = $1", eventID).Scan(&groupID)
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "event_not_found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		member, err := isGroupMember(db, groupID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !member {
			writeError(w, http.StatusForbidden, "not_a_group_member")
			return
		}

		switch r.Method {
		case http.MethodPost:
			_, err = db.Exec(`
				INSERT INTO rsvps (event_id, user_id, status)
				VALUES ($1, $2, $3)
				ON CONFLICT (event_id, user_id) DO UPDATE SET status = EXCLUDED.status
			`, eventID, userID, rsvpConfirmed)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "rsvp_error")
				log.Println("Error saving RSVP:", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": rsvpConfirmed})

		case http.MethodDelete:
			res, err := db.Exec(
				"UPDATE rsvps SET status = $1 WHERE event_id = $2 AND user_id = $3",
				rsvpCancelled, eventID, userID,
			)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "rsvp_error")
				return
			}
			if aff, _ := res.RowsAffected(); aff == 0 {
				writeError(w, http.StatusNotFound, "rsvp_not_found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": rsvpCancelled})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}
