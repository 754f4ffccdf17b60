package main

import (
	"log"
	"net/http"
	"sync"
)

// Only one matching run may touch the pool at a time: two concurrent runs
// could claim the same users for different groups. TryLock turns a second
// trigger into an immediate 409 instead of queueing it.
var matchingRunMu sync.Mutex

// POST /admin/matching/run
// Triggers one full matching pass over the eligible pool.
func matchingRunHandler(store MatchStore) http.HandlerFunc {
	return requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		if !matchingRunMu.TryLock() {
			writeError(w, http.StatusConflict, "matching_already_running")
			return
		}
		defer matchingRunMu.Unlock()

		result, err := NewMatcher(store).Run(r.Context(), defaultMinGroupSize, defaultMaxGroupSize)
		if err != nil {
			log.Println("Matching run failed:", err)
			writeError(w, http.StatusInternalServerError, "matching_error")
			return
		}

		log.Printf("Matching run complete: %d groups created, %d waitlisted", len(result.Groups), result.Waitlisted)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":        true,
			"groups_created": len(result.Groups),
			"waitlisted":     result.Waitlisted,
			"groups":         result.Groups,
		})
	})
}
