package main

// User lifecycle states. Suspended and banned accounts keep their rows but
// drop out of every matching query.
const (
	userStatusActive    = "ACTIVE"
	userStatusSuspended = "SUSPENDED"
	userStatusBanned    = "BANNED"
)

const (
	roleUser  = "USER"
	roleAdmin = "ADMIN"
)

// Identity verification states.
const (
	verificationUnverified = "UNVERIFIED"
	verificationPending    = "PENDING"
	verificationVerified   = "VERIFIED"
	verificationRejected   = "REJECTED"
)

// Group lifecycle. The matching engine only ever creates FORMING groups;
// later transitions are an admin concern.
const (
	groupForming   = "FORMING"
	groupActive    = "ACTIVE"
	groupCompleted = "COMPLETED"
	groupDisbanded = "DISBANDED"
)

// Conversation depth preference values.
const (
	depthLight    = "LIGHT"
	depthBalanced = "BALANCED"
	depthDeep     = "DEEP"
)

const (
	rsvpConfirmed = "CONFIRMED"
	rsvpCancelled = "CANCELLED"
)

// Profile holds the per-user attributes the scorer derives age from.
type Profile struct {
	UserID    int
	Nickname  string
	BirthYear int
	Bio       string
	PhotoFile string
}

// Preference holds a user's matching preferences. The set-valued fields are
// stored as JSON arrays in Postgres and decoded once at load time.
type Preference struct {
	UserID            int
	AgeBandMin        int
	AgeBandMax        int
	PreferredAreas    []string
	AvailableTimes    []string
	Interests         []string
	DrinkingOk        bool
	SmokingOk         bool
	QuietMode         bool
	NoAlcoholMeetups  bool
	ConversationDepth string
}

// MatchUser is the matching engine's view of a user. Profile or Preference
// may be nil when onboarding is incomplete; such users score 0 against
// everyone.
type MatchUser struct {
	ID         int
	Profile    *Profile
	Preference *Preference
}
