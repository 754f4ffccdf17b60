package main

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
)

// GET /me/groups
// Groups where the caller holds an active membership, newest first.
func myGroupsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
			SELECT g.id, g.cohort_name, g.status, g.target_area, g.target_time_slot,
			       gm.compatibility_score,
			       (SELECT COUNT(*) FROM group_memberships m2 WHERE m2.group_id = g.id AND m2.is_active) AS member_count
			FROM group_memberships gm
			JOIN groups g ON g.id = gm.group_id
			WHERE gm.user_id = $1 AND gm.is_active
			ORDER BY g.created_at DESC, g.id DESC
		`, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		groups := []map[string]interface{}{}
		for rows.Next() {
			var id, memberCount int
			var cohortName, status, targetArea, targetTimeSlot string
			var score float64
			if err := rows.Scan(&id, &cohortName, &status, &targetArea, &targetTimeSlot, &score, &memberCount); err != nil {
				continue
			}
			groups = append(groups, map[string]interface{}{
				"id":                  id,
				"cohort_name":         cohortName,
				"status":              status,
				"target_area":         targetArea,
				"target_time_slot":    targetTimeSlot,
				"compatibility_score": score,
				"member_count":        memberCount,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
	})
}

// isGroupMember reports whether the user holds an active membership.
func isGroupMember(db *sql.DB, groupID, userID int) (bool, error) {
	var member bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM group_memberships
			WHERE group_id = $1 AND user_id = $2 AND is_active
		)
	`, groupID, userID).Scan(&member)
	return member, err
}

// Dispatcher for /groups/{id} and /groups/{id}/events
func groupsDispatcher(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "groups" {
			http.NotFound(w, r)
			return
		}
		if len(parts) == 2 {
			groupDetailHandler(db).ServeHTTP(w, r)
			return
		}
		if len(parts) == 3 && parts[2] == "events" {
			groupEventsHandler(db).ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}
}

// GET /groups/{id}
// Full group view for members: members, chat thread, meeting target.
func groupDetailHandler(db *sql.DB) http.HandlerFunc {
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

		var cohortName, status, targetArea, targetTimeSlot string
		err = db.QueryRow(
			"SELECT cohort_name, status, target_area, target_time_slot FROM groups WHERE id = $1",
			groupID,
		).Scan(&cohortName, &status, &targetArea, &targetTimeSlot)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		rows, err := db.Query(`
			SELECT gm.user_id, COALESCE(p.nickname, ''), COALESCE(p.birth_year, 0), gm.compatibility_score
			FROM group_memberships gm
			LEFT JOIN profiles p ON p.user_id = gm.user_id
			WHERE gm.group_id = $1 AND gm.is_active
			ORDER BY gm.joined_at ASC, gm.id ASC
		`, groupID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		members := []map[string]interface{}{}
		for rows.Next() {
			var memberID, birthYear int
			var nickname string
			var score float64
			if err := rows.Scan(&memberID, &nickname, &birthYear, &score); err != nil {
				continue
			}
			entry := map[string]interface{}{
				"user_id":             memberID,
				"nickname":            nickname,
				"compatibility_score": score,
			}
			// Expose the birth decade only; exact ages stay private.
			if birthYear > 0 {
				entry["birth_decade"] = (birthYear / 10) * 10
			}
			members = append(members, entry)
		}

		var threadID sql.NullInt64
		_ = db.QueryRow("SELECT id FROM chat_threads WHERE group_id = $1", groupID).Scan(&threadID)

		resp := map[string]interface{}{
			"id":               groupID,
			"cohort_name":      cohortName,
			"status":           status,
			"target_area":      targetArea,
			"target_time_slot": targetTimeSlot,
			"members":          members,
		}
		if threadID.Valid {
			resp["chat_thread_id"] = threadID.Int64
		}
		writeJSON(w, http.StatusOK, resp)
	})
}
