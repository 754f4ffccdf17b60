package main

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const verificationUploadRoot = "./uploads/verification"

// POST /verification/submit  (multipart form, fields: "id_image", "selfie_image")
// Stores both images on disk and moves the user's verification to PENDING.
func verificationSubmitHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		// Two images at ~5MB each.
		r.Body = http.MaxBytesReader(w, r.Body, 12<<20)
		if err := r.ParseMultipartForm(12 << 20); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}

		idFile, _, err := r.FormFile("id_image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_id_image")
			return
		}
		defer idFile.Close()
		selfieFile, _, err := r.FormFile("selfie_image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_selfie_image")
			return
		}
		defer selfieFile.Close()

		dir := filepath.Join(verificationUploadRoot, strconv.Itoa(userID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, "mkdir_failed")
			return
		}

		idPath, err := saveVerificationImage(idFile, dir, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		selfiePath, err := saveVerificationImage(selfieFile, dir, "selfie")
		if err != nil {
			_ = os.Remove(idPath)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := db.Exec(`
			UPDATE verifications
			SET status = $1, id_image_path = $2, selfie_image_path = $3, submitted_at = NOW()
			WHERE user_id = $4
		`, verificationPending, idPath, selfiePath, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error updating verification:", err)
			return
		}
		if aff, _ := res.RowsAffected(); aff == 0 {
			// Onboarding not done yet; drop the orphaned files.
			_ = os.Remove(idPath)
			_ = os.Remove(selfiePath)
			writeError(w, http.StatusConflict, "verification_not_initialized")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
}

// saveVerificationImage sniffs the MIME type from the first bytes, then
// writes via a temp file and rename so a failed upload never leaves a
// half-written image behind.
func saveVerificationImage(f multipart.File, dir, kind string) (string, error) {
	head := make([]byte, 512)
	n, _ := f.Read(head)
	ctype := http.DetectContentType(head[:n])

	var ext string
	switch ctype {
	case "image/jpeg":
		ext = "jpg"
	case "image/png":
		ext = "png"
	default:
		return "", fmt.Errorf("only_jpeg_or_png_allowed")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek_failed")
	}

	filename := fmt.Sprintf("%s_%s.%s", kind, uuid.NewString(), ext)
	dst := filepath.Join(dir, filename)
	tmp := dst + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("save_failed")
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("save_failed")
	}
	out.Close()
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("save_failed")
	}
	return dst, nil
}

// GET /verification/status
func verificationStatusHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)
		var status string
		err := db.QueryRow("SELECT status FROM verifications WHERE user_id = $1", userID).Scan(&status)
		if err == sql.ErrNoRows {
			status = verificationUnverified
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	})
}

// GET /admin/verifications
// The review queue: every PENDING submission, oldest first.
func adminVerificationsHandler(db *sql.DB) http.HandlerFunc {
	return requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		rows, err := db.Query(`
			SELECT v.user_id, u.email, COALESCE(p.nickname, ''), v.submitted_at
			FROM verifications v
			JOIN users u ON u.id = v.user_id
			LEFT JOIN profiles p ON p.user_id = v.user_id
			WHERE v.status = $1
			ORDER BY v.submitted_at ASC
		`, verificationPending)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		pending := []map[string]interface{}{}
		for rows.Next() {
			var userID int
			var email, nickname string
			var submittedAt sql.NullTime
			if err := rows.Scan(&userID, &email, &nickname, &submittedAt); err != nil {
				continue
			}
			entry := map[string]interface{}{
				"user_id":  userID,
				"email":    email,
				"nickname": nickname,
			}
			if submittedAt.Valid {
				entry["submitted_at"] = submittedAt.Time
			}
			pending = append(pending, entry)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"pending": pending})
	})
}

// POST /admin/verifications/{userId}/approve
// POST /admin/verifications/{userId}/reject
func adminVerificationActionRouter(db *sql.DB) http.HandlerFunc {
	return requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		// Expect: admin/verifications/{userId}/(approve|reject)
		if len(parts) != 4 || parts[0] != "admin" || parts[1] != "verifications" {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[2])
		if err != nil {
			http.NotFound(w, r)
			return
		}

		var newStatus string
		switch parts[3] {
		case "approve":
			newStatus = verificationVerified
		case "reject":
			newStatus = verificationRejected
		default:
			http.NotFound(w, r)
			return
		}

		reviewerID := r.Context().Value(userIDKey).(int)
		res, err := db.Exec(`
			UPDATE verifications
			SET status = $1, reviewed_at = NOW(), reviewed_by = $2
			WHERE user_id = $3 AND status = $4
		`, newStatus, reviewerID, targetID, verificationPending)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error reviewing verification:", err)
			return
		}
		if aff, _ := res.RowsAffected(); aff == 0 {
			writeError(w, http.StatusNotFound, "no_pending_verification")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": newStatus})
	})
}
