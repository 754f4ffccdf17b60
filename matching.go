package main

import (
	"context"
	"log"
	"sort"
	"time"
)

const (
	defaultMinGroupSize = 4
	defaultMaxGroupSize = 6

	// Candidates scoring at or below this are not worth grouping.
	minViableScore = 30
)

// MatchScore pairs a candidate with their compatibility against the subject.
type MatchScore struct {
	UserID int `json:"user_id"`
	Score  int `json:"score"`
}

// MatchResult is the outcome of one full matching run.
type MatchResult struct {
	Groups     []int `json:"groups"`
	Waitlisted int   `json:"waitlisted"`
}

// GroupDraft is everything the store needs to materialize one group
// atomically: the group row, one membership per member carrying the averaged
// score, and the group's chat thread.
type GroupDraft struct {
	CohortName     string
	TargetArea     string
	TargetTimeSlot string
	Score          float64
	MemberIDs      []int
}

// MatchStore is the matching engine's view of persistence. The production
// implementation is Postgres (pgMatchStore); tests use an in-memory fake.
type MatchStore interface {
	// VerifiedUser loads a single verified user with profile and preference
	// attached. Returns nil (no error) when the user does not exist or has
	// not passed identity verification.
	VerifiedUser(ctx context.Context, id int) (*MatchUser, error)

	// Candidates returns every active, verified user whose id is not in
	// exclude, with profile and preference attached, in stable query order.
	Candidates(ctx context.Context, exclude map[int]struct{}) ([]*MatchUser, error)

	// EligiblePool returns active, verified users who hold no active
	// membership in a FORMING or ACTIVE group, in stable query order.
	EligiblePool(ctx context.Context) ([]*MatchUser, error)

	// CreateGroup creates the group, its memberships and its chat thread in
	// one transaction and returns the new group id. A failure must leave no
	// partial group behind.
	CreateGroup(ctx context.Context, draft GroupDraft) (int, error)
}

// Matcher runs the compatibility scoring and greedy grouping over a store.
type Matcher struct {
	store MatchStore
	now   func() time.Time
}

func NewMatcher(store MatchStore) *Matcher {
	return &Matcher{store: store, now: time.Now}
}

// Score computes the 0-100 compatibility between two users. Every factor is
// symmetric, so Score(a,b) == Score(b,a). Users without a complete profile
// and preference record score 0 against everyone.
func (m *Matcher) Score(a, b *MatchUser) int {
	if a.Profile == nil || a.Preference == nil || b.Profile == nil || b.Preference == nil {
		return 0
	}

	pa, pb := a.Preference, b.Preference
	year := m.now().Year()
	ageA := year - a.Profile.BirthYear
	ageB := year - b.Profile.BirthYear

	score := 0

	// Age fit (20): full points only when each age falls inside the other's
	// accepted band; half credit for ages within 5 years of each other.
	if ageB >= pa.AgeBandMin && ageB <= pa.AgeBandMax &&
		ageA >= pb.AgeBandMin && ageA <= pb.AgeBandMax {
		score += 20
	} else if absInt(ageA-ageB) <= 5 {
		score += 10
	}

	// Area (15), time slot (15) and interest (20) overlap.
	score += min(15, 5*overlapCount(pa.PreferredAreas, pb.PreferredAreas))
	score += min(15, 3*overlapCount(pa.AvailableTimes, pb.AvailableTimes))
	score += min(20, 4*overlapCount(pa.Interests, pb.Interests))

	// Lifestyle (15).
	if pa.DrinkingOk == pb.DrinkingOk {
		score += 5
	}
	if pa.SmokingOk == pb.SmokingOk {
		score += 5
	}
	if pa.ConversationDepth == pb.ConversationDepth {
		score += 5
	} else if pa.ConversationDepth == depthBalanced || pb.ConversationDepth == depthBalanced {
		score += 2
	}

	// Quiet mode (10).
	if pa.QuietMode == pb.QuietMode {
		score += 10
	} else if !pa.QuietMode && !pb.QuietMode {
		score += 5
	}

	// Boundary compatibility: someone who needs alcohol-free meetups pairs
	// well with someone who doesn't want drinking venues. Both directions
	// may fire.
	if pa.NoAlcoholMeetups && !pb.DrinkingOk {
		score += 5
	}
	if pb.NoAlcoholMeetups && !pa.DrinkingOk {
		score += 5
	}

	return min(100, score)
}

// FindMatches ranks all viable candidates for the given user, best first.
// An unverified or unknown subject yields an empty result, not an error.
// The sort is stable so equal scores keep their query order across runs.
func (m *Matcher) FindMatches(ctx context.Context, userID int, exclude map[int]struct{}) ([]MatchScore, error) {
	user, err := m.store.VerifiedUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	skip := make(map[int]struct{}, len(exclude)+1)
	for id := range exclude {
		skip[id] = struct{}{}
	}
	skip[userID] = struct{}{}

	candidates, err := m.store.Candidates(ctx, skip)
	if err != nil {
		return nil, err
	}

	var ranked []MatchScore
	for _, c := range candidates {
		if s := m.Score(user, c); s > minViableScore {
			ranked = append(ranked, MatchScore{UserID: c.ID, Score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

// Run performs one greedy matching pass: iterate the eligible pool in query
// order, let each still-unmatched user pick their best-scoring partners, and
// materialize any prospective group that reaches minSize. Earlier users get
// first pick, so the outcome is order-sensitive. No backtracking.
//
// A store failure aborts the run; groups already materialized stay valid,
// everyone else remains in the pool for the next run.
func (m *Matcher) Run(ctx context.Context, minSize, maxSize int) (MatchResult, error) {
	pool, err := m.store.EligiblePool(ctx)
	if err != nil {
		return MatchResult{}, err
	}

	if len(pool) < minSize {
		log.Printf("matching: not enough users for a group (%d available, need %d)", len(pool), minSize)
		return MatchResult{Groups: []int{}, Waitlisted: len(pool)}, nil
	}

	inPool := make(map[int]*MatchUser, len(pool))
	for _, u := range pool {
		inPool[u.ID] = u
	}

	matched := make(map[int]struct{})
	groups := []int{}

	for _, u := range pool {
		if _, done := matched[u.ID]; done {
			continue
		}

		ranked, err := m.FindMatches(ctx, u.ID, matched)
		if err != nil {
			return MatchResult{}, err
		}

		members := []*MatchUser{u}
		for _, ms := range ranked {
			if len(members) >= maxSize {
				break
			}
			// Verified users already sitting in a forming/active group are
			// valid candidates store-side but are never pulled into a new
			// group: only members of this run's pool qualify.
			cand, free := inPool[ms.UserID]
			if !free {
				continue
			}
			if _, taken := matched[ms.UserID]; taken {
				continue
			}
			members = append(members, cand)
		}

		// Too small: leave everyone unmatched. A later user's search may
		// still pick them up.
		if len(members) < minSize {
			continue
		}

		groupID, err := m.materializeGroup(ctx, members)
		if err != nil {
			return MatchResult{}, err
		}
		groups = append(groups, groupID)
		for _, member := range members {
			matched[member.ID] = struct{}{}
		}
	}

	return MatchResult{Groups: groups, Waitlisted: len(pool) - len(matched)}, nil
}

// materializeGroup computes the final members' averaged pairwise score and
// the group's derived meeting target, then hands the draft to the store for
// atomic creation.
func (m *Matcher) materializeGroup(ctx context.Context, members []*MatchUser) (int, error) {
	var total, pairs int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			total += m.Score(members[i], members[j])
			pairs++
		}
	}
	avg := 0.0
	if pairs > 0 {
		avg = float64(total) / float64(pairs)
	}

	ids := make([]int, len(members))
	areas := make([][]string, 0, len(members))
	times := make([][]string, 0, len(members))
	for i, member := range members {
		ids[i] = member.ID
		if member.Preference != nil {
			areas = append(areas, member.Preference.PreferredAreas)
			times = append(times, member.Preference.AvailableTimes)
		}
	}

	draft := GroupDraft{
		CohortName:     "Cohort " + m.now().Format("2006-01-02"),
		TargetArea:     mostFrequent(areas),
		TargetTimeSlot: mostFrequent(times),
		Score:          avg,
		MemberIDs:      ids,
	}
	return m.store.CreateGroup(ctx, draft)
}

// mostFrequent returns the most common value across all lists, counting
// duplicates across members. Ties break toward the lexicographically
// smaller value so repeated runs over the same pool derive the same target.
func mostFrequent(lists [][]string) string {
	counts := make(map[string]int)
	for _, list := range lists {
		for _, v := range list {
			counts[v]++
		}
	}

	best, bestCount := "", 0
	for v, n := range counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}

// overlapCount is the size of the set intersection. Stored lists may carry
// duplicate tags; each distinct value counts once so the result is the same
// whichever side the duplicate sits on.
func overlapCount(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	n := 0
	for _, v := range b {
		if _, ok := set[v]; ok {
			delete(set, v)
			n++
		}
	}
	return n
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
