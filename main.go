package main

import (
	"log"
	"net/http"
	"os"
)

// JWT secret from environment variable or fallback
func getJWTSecret() []byte {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("your_secret_key_please_change_in_production")
}

var jwtSecret = getJWTSecret()

func main() {
	initDB()

	mux := http.NewServeMux()

	// Make sure the upload directory for verification documents exists
	_ = os.MkdirAll("./uploads/verification", 0o755)

	// Core auth endpoints
	mux.Handle("/register", registerHandler(db))
	mux.Handle("/login", loginHandler(db))
	mux.Handle("/logout", logoutHandler())
	mux.Handle("/auth/magic-link", magicLinkHandler(db))
	mux.Handle("/auth/verify", magicLinkVerifyHandler(db))

	// Onboarding, profile & preferences
	mux.Handle("/onboarding", onboardingHandler(db))
	mux.Handle("/me", meHandler(db))
	mux.Handle("/me/profile", meProfileHandler(db))
	mux.Handle("/me/preferences", mePreferencesHandler(db))
	mux.Handle("/me/groups", myGroupsHandler(db))

	// Identity verification
	mux.Handle("/verification/submit", verificationSubmitHandler(db))
	mux.Handle("/verification/status", verificationStatusHandler(db))

	// Groups & events
	mux.Handle("/groups/", groupsDispatcher(db)) // /groups/{id}, /groups/{id}/events
	mux.Handle("/events/", eventRSVPRouter(db))  // POST/DELETE /events/{id}/rsvp

	// Group chat
	mux.Handle("/chats/", chatMessagesRouter(db)) // GET/POST /chats/{threadId}/messages
	mux.Handle("/ws/chat", wsChatHandler(db))

	// Personality test
	mux.Handle("/personality-test", personalityTestHandler(db))

	// Admin surface
	matchStore := newPgMatchStore(db)
	mux.Handle("/admin/matching/run", matchingRunHandler(matchStore))
	mux.Handle("/admin/verifications", adminVerificationsHandler(db))
	mux.Handle("/admin/verifications/", adminVerificationActionRouter(db))
	mux.Handle("/admin/events", adminCreateEventHandler(db))

	// Health check endpoint for Docker
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Default().Println("Starting FriendMatch Backend on port " + port + "...")
	http.ListenAndServe(":"+port, withCORS(mux))
}
