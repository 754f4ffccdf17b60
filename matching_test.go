package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMatchStore is an in-memory MatchStore. Users appear in iteration order,
// matching the ORDER BY u.id the Postgres implementation uses.
type fakeMatchStore struct {
	users      []*MatchUser
	unverified map[int]bool
	grouped    map[int]bool // already holds an active membership in a forming/active group
	created    []GroupDraft
	nextID     int
	createErr  error
}

func newFakeMatchStore(users ...*MatchUser) *fakeMatchStore {
	return &fakeMatchStore{
		users:      users,
		unverified: map[int]bool{},
		grouped:    map[int]bool{},
		nextID:     100,
	}
}

func (f *fakeMatchStore) VerifiedUser(ctx context.Context, id int) (*MatchUser, error) {
	if f.unverified[id] {
		return nil, nil
	}
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeMatchStore) Candidates(ctx context.Context, exclude map[int]struct{}) ([]*MatchUser, error) {
	var out []*MatchUser
	for _, u := range f.users {
		if f.unverified[u.ID] {
			continue
		}
		if _, skip := exclude[u.ID]; skip {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeMatchStore) EligiblePool(ctx context.Context) ([]*MatchUser, error) {
	var out []*MatchUser
	for _, u := range f.users {
		if f.unverified[u.ID] || f.grouped[u.ID] {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeMatchStore) CreateGroup(ctx context.Context, draft GroupDraft) (int, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, draft)
	f.nextID++
	return f.nextID, nil
}

// testMatcher pins the clock so derived ages don't drift with the wall clock.
func testMatcher(store MatchStore) *Matcher {
	m := NewMatcher(store)
	m.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func matchUser(id, birthYear int, mutate ...func(*Preference)) *MatchUser {
	pref := &Preference{
		UserID:            id,
		AgeBandMin:        20,
		AgeBandMax:        45,
		DrinkingOk:        true,
		ConversationDepth: depthBalanced,
	}
	for _, fn := range mutate {
		fn(pref)
	}
	return &MatchUser{
		ID:         id,
		Profile:    &Profile{UserID: id, Nickname: fmt.Sprintf("user%d", id), BirthYear: birthYear},
		Preference: pref,
	}
}

func TestScore(t *testing.T) {
	m := testMatcher(newFakeMatchStore())

	t.Run("two users sharing area, time and three interests", func(t *testing.T) {
		a := matchUser(1, 1996, func(p *Preference) {
			p.PreferredAreas = []string{"Shibuya"}
			p.AvailableTimes = []string{"Sat PM"}
			p.Interests = []string{"yoga", "coffee", "books", "film"}
		})
		b := matchUser(2, 1998, func(p *Preference) {
			p.PreferredAreas = []string{"Shibuya"}
			p.AvailableTimes = []string{"Sat PM"}
			p.Interests = []string{"yoga", "coffee", "books"}
		})

		// 20 age + 5 area + 3 time + 12 interests + 15 lifestyle + 10 quiet
		assert.Equal(t, 65, m.Score(a, b))
	})

	t.Run("clamped at 100", func(t *testing.T) {
		shared := func(p *Preference) {
			p.PreferredAreas = []string{"a1", "a2", "a3"}
			p.AvailableTimes = []string{"t1", "t2", "t3", "t4", "t5"}
			p.Interests = []string{"i1", "i2", "i3", "i4", "i5"}
			p.DrinkingOk = false
			p.NoAlcoholMeetups = true
		}
		a := matchUser(1, 1995, shared)
		b := matchUser(2, 1995, shared)

		// Raw total is 105 (both boundary directions fire on top of a full house).
		assert.Equal(t, 100, m.Score(a, b))
	})

	t.Run("incomplete records score zero", func(t *testing.T) {
		complete := matchUser(1, 1995)

		noProfile := matchUser(2, 1995)
		noProfile.Profile = nil
		noPref := matchUser(3, 1995)
		noPref.Preference = nil

		assert.Equal(t, 0, m.Score(complete, noProfile))
		assert.Equal(t, 0, m.Score(noProfile, complete))
		assert.Equal(t, 0, m.Score(complete, noPref))
		assert.Equal(t, 0, m.Score(noProfile, noPref))
	})

	t.Run("half credit for close ages outside the band", func(t *testing.T) {
		a := matchUser(1, 1996, func(p *Preference) { p.AgeBandMin = 20; p.AgeBandMax = 25 })
		b := matchUser(2, 1993, func(p *Preference) { p.AgeBandMin = 20; p.AgeBandMax = 25 })

		// b is 33, outside a's band, but the gap is 3 years: 10 instead of 20.
		// Plus lifestyle 15 and quiet 10.
		assert.Equal(t, 35, m.Score(a, b))
	})

	t.Run("empty sets contribute nothing", func(t *testing.T) {
		a := matchUser(1, 1995)
		b := matchUser(2, 1995, func(p *Preference) {
			p.PreferredAreas = []string{"Shibuya"}
			p.Interests = []string{"yoga"}
		})
		// Only age 20 + lifestyle 15 + quiet 10 remain.
		assert.Equal(t, 45, m.Score(a, b))
	})

	t.Run("depth mismatch with balanced side earns partial credit", func(t *testing.T) {
		a := matchUser(1, 1995, func(p *Preference) { p.ConversationDepth = depthDeep })
		b := matchUser(2, 1995) // balanced
		c := matchUser(3, 1995, func(p *Preference) { p.ConversationDepth = depthLight })

		// age 20 + drinking 5 + smoking 5 + depth 2 + quiet 10
		assert.Equal(t, 42, m.Score(a, b))
		// light vs deep: no depth credit at all
		assert.Equal(t, 40, m.Score(a, c))
	})

	t.Run("duplicate tags count once, either side", func(t *testing.T) {
		a := matchUser(1, 1995, func(p *Preference) {
			p.Interests = []string{"yoga"}
		})
		b := matchUser(2, 1995, func(p *Preference) {
			p.Interests = []string{"yoga", "yoga", "yoga"}
		})

		// age 20 + interests 4 + lifestyle 15 + quiet 10, regardless of
		// which side holds the duplicates.
		assert.Equal(t, 49, m.Score(a, b))
		assert.Equal(t, 49, m.Score(b, a))
	})

	t.Run("boundary bonus fires per direction", func(t *testing.T) {
		a := matchUser(1, 1995, func(p *Preference) { p.NoAlcoholMeetups = true })
		b := matchUser(2, 1995, func(p *Preference) { p.DrinkingOk = false })

		// age 20 + smoking 5 + depth 5 + quiet 10 + boundary 5 (a needs
		// alcohol-free, b doesn't drink). drinkingOk differs, so no +5 there.
		assert.Equal(t, 45, m.Score(a, b))
	})
}

func TestScoreProperties(t *testing.T) {
	m := testMatcher(newFakeMatchStore())
	r := rand.New(rand.NewSource(7))

	vocabulary := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	depths := []string{depthLight, depthBalanced, depthDeep}

	randomUser := func(id int) *MatchUser {
		return matchUser(id, 1980+r.Intn(26), func(p *Preference) {
			p.AgeBandMin = 20 + r.Intn(10)
			p.AgeBandMax = p.AgeBandMin + r.Intn(20)
			for _, v := range vocabulary {
				if r.Intn(2) == 0 {
					p.PreferredAreas = append(p.PreferredAreas, v)
				}
				if r.Intn(2) == 0 {
					p.AvailableTimes = append(p.AvailableTimes, v)
				}
				if r.Intn(2) == 0 {
					p.Interests = append(p.Interests, v)
					// Stored lists are not guaranteed duplicate-free.
					if r.Intn(4) == 0 {
						p.Interests = append(p.Interests, v)
					}
				}
			}
			p.DrinkingOk = r.Intn(2) == 0
			p.SmokingOk = r.Intn(2) == 0
			p.QuietMode = r.Intn(2) == 0
			p.NoAlcoholMeetups = r.Intn(2) == 0
			p.ConversationDepth = depths[r.Intn(len(depths))]
		})
	}

	for i := 0; i < 500; i++ {
		a, b := randomUser(1), randomUser(2)
		sab, sba := m.Score(a, b), m.Score(b, a)
		if sab != sba {
			t.Fatalf("score not symmetric: Score(a,b)=%d Score(b,a)=%d (a=%+v b=%+v)", sab, sba, a.Preference, b.Preference)
		}
		if sab < 0 || sab > 100 {
			t.Fatalf("score out of range: %d (a=%+v b=%+v)", sab, a.Preference, b.Preference)
		}
	}
}

func TestFindMatches(t *testing.T) {
	ctx := context.Background()

	shibuya := func(p *Preference) {
		p.PreferredAreas = []string{"Shibuya"}
		p.AvailableTimes = []string{"Sat PM"}
		p.Interests = []string{"yoga", "coffee", "books"}
	}

	t.Run("ranked best first above the viability threshold", func(t *testing.T) {
		subject := matchUser(1, 1995, shibuya)
		strong := matchUser(2, 1995, shibuya)
		weak := matchUser(3, 1995) // nothing shared beyond defaults: scores 45
		tooFar := matchUser(4, 1960, func(p *Preference) {
			// 66 years old, far outside every band and every 5-year window,
			// quiet mismatch: lands at 15, below the threshold.
			p.AgeBandMin = 60
			p.AgeBandMax = 70
			p.QuietMode = true
		})

		store := newFakeMatchStore(subject, strong, weak, tooFar)
		m := testMatcher(store)

		ranked, err := m.FindMatches(ctx, 1, nil)
		require.NoError(t, err)
		require.Len(t, ranked, 2)
		assert.Equal(t, 2, ranked[0].UserID)
		assert.Equal(t, 3, ranked[1].UserID)
		assert.Greater(t, ranked[0].Score, ranked[1].Score)
		for _, ms := range ranked {
			assert.NotEqual(t, 1, ms.UserID, "subject must never rank against themselves")
		}
	})

	t.Run("exclusion set is honored", func(t *testing.T) {
		subject := matchUser(1, 1995, shibuya)
		other := matchUser(2, 1995, shibuya)
		store := newFakeMatchStore(subject, other)
		m := testMatcher(store)

		ranked, err := m.FindMatches(ctx, 1, map[int]struct{}{2: {}})
		require.NoError(t, err)
		assert.Empty(t, ranked)
	})

	t.Run("unverified subject yields empty result without error", func(t *testing.T) {
		subject := matchUser(1, 1995, shibuya)
		other := matchUser(2, 1995, shibuya)
		store := newFakeMatchStore(subject, other)
		store.unverified[1] = true
		m := testMatcher(store)

		ranked, err := m.FindMatches(ctx, 1, nil)
		require.NoError(t, err)
		assert.Empty(t, ranked)
	})

	t.Run("score exactly at the threshold is excluded", func(t *testing.T) {
		// Defaults only, ages 4 years apart outside both bands:
		// 10 age + 15 lifestyle + 10 quiet = 35 > 30 is in. To land exactly
		// on 30, flip one lifestyle flag: 10 + 10 + 10 = 30.
		subject := matchUser(1, 1996, func(p *Preference) { p.AgeBandMin = 40; p.AgeBandMax = 50; p.DrinkingOk = false })
		borderline := matchUser(2, 2000, func(p *Preference) { p.AgeBandMin = 40; p.AgeBandMax = 50 })
		store := newFakeMatchStore(subject, borderline)
		m := testMatcher(store)

		require.Equal(t, 30, m.Score(subject, borderline))

		ranked, err := m.FindMatches(ctx, 1, nil)
		require.NoError(t, err)
		assert.Empty(t, ranked, "a score of exactly 30 is not viable")
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	compatible := func(p *Preference) {
		p.PreferredAreas = []string{"Shibuya", "Ebisu"}
		p.AvailableTimes = []string{"Sat PM"}
		p.Interests = []string{"yoga", "coffee", "books"}
	}

	t.Run("pool below minimum size waitlists everyone", func(t *testing.T) {
		store := newFakeMatchStore(
			matchUser(1, 1995, compatible),
			matchUser(2, 1996, compatible),
			matchUser(3, 1997, compatible),
		)
		m := testMatcher(store)

		res, err := m.Run(ctx, defaultMinGroupSize, defaultMaxGroupSize)
		require.NoError(t, err)
		assert.Equal(t, []int{}, res.Groups)
		assert.Equal(t, 3, res.Waitlisted)
		assert.Empty(t, store.created, "no group rows may be written")
	})

	t.Run("four mutually compatible users form one group", func(t *testing.T) {
		store := newFakeMatchStore(
			matchUser(1, 1995, compatible),
			matchUser(2, 1996, compatible),
			matchUser(3, 1997, compatible),
			matchUser(4, 1998, compatible),
		)
		m := testMatcher(store)

		res, err := m.Run(ctx, defaultMinGroupSize, defaultMaxGroupSize)
		require.NoError(t, err)
		require.Len(t, res.Groups, 1)
		assert.Equal(t, 0, res.Waitlisted)

		require.Len(t, store.created, 1)
		draft := store.created[0]
		assert.ElementsMatch(t, []int{1, 2, 3, 4}, draft.MemberIDs)
		// Shibuya and Ebisu tie at four mentions each; the lexicographically
		// smaller one wins.
		assert.Equal(t, "Ebisu", draft.TargetArea)
		assert.Equal(t, "Sat PM", draft.TargetTimeSlot)
		assert.Equal(t, "Cohort 2026-06-01", draft.CohortName)

		// All six pairs score identically here, so the average equals the
		// pairwise score.
		pairwise := m.Score(store.users[0], store.users[1])
		assert.InDelta(t, float64(pairwise), draft.Score, 0.001)
	})

	t.Run("group size is capped at maxSize", func(t *testing.T) {
		var users []*MatchUser
		for i := 1; i <= 7; i++ {
			users = append(users, matchUser(i, 1990+i, compatible))
		}
		store := newFakeMatchStore(users...)
		m := testMatcher(store)

		res, err := m.Run(ctx, defaultMinGroupSize, defaultMaxGroupSize)
		require.NoError(t, err)
		require.Len(t, res.Groups, 1)
		assert.Equal(t, 1, res.Waitlisted)

		require.Len(t, store.created, 1)
		assert.Len(t, store.created[0].MemberIDs, defaultMaxGroupSize)
	})

	t.Run("no user lands in two groups in one run", func(t *testing.T) {
		var users []*MatchUser
		for i := 1; i <= 12; i++ {
			users = append(users, matchUser(i, 1990+i%8, compatible))
		}
		store := newFakeMatchStore(users...)
		m := testMatcher(store)

		res, err := m.Run(ctx, defaultMinGroupSize, defaultMaxGroupSize)
		require.NoError(t, err)

		seen := map[int]bool{}
		for _, draft := range store.created {
			require.GreaterOrEqual(t, len(draft.MemberIDs), defaultMinGroupSize)
			require.LessOrEqual(t, len(draft.MemberIDs), defaultMaxGroupSize)
			for _, id := range draft.MemberIDs {
				assert.False(t, seen[id], "user %d assigned twice", id)
				seen[id] = true
			}
		}
		assert.Equal(t, 12-len(seen), res.Waitlisted)
	})

	t.Run("users already in a forming group never join a new one", func(t *testing.T) {
		users := []*MatchUser{
			matchUser(1, 1995, compatible),
			matchUser(2, 1996, compatible),
			matchUser(3, 1997, compatible),
			matchUser(4, 1998, compatible),
			matchUser(5, 1999, compatible),
		}
		store := newFakeMatchStore(users...)
		// User 5 is a valid candidate store-side but sits in an active group.
		store.grouped[5] = true
		m := testMatcher(store)

		res, err := m.Run(ctx, defaultMinGroupSize, defaultMaxGroupSize)
		require.NoError(t, err)
		require.Len(t, res.Groups, 1)

		require.Len(t, store.created, 1)
		assert.NotContains(t, store.created[0].MemberIDs, 5)
	})

	t.Run("store failure aborts the run", func(t *testing.T) {
		store := newFakeMatchStore(
			matchUser(1, 1995, compatible),
			matchUser(2, 1996, compatible),
			matchUser(3, 1997, compatible),
			matchUser(4, 1998, compatible),
		)
		store.createErr = errors.New("connection reset")
		m := testMatcher(store)

		_, err := m.Run(ctx, defaultMinGroupSize, defaultMaxGroupSize)
		require.Error(t, err)
	})
}

func TestMostFrequent(t *testing.T) {
	t.Run("majority wins", func(t *testing.T) {
		got := mostFrequent([][]string{
			{"Shibuya", "Ebisu"},
			{"Shibuya"},
			{"Nakameguro"},
		})
		assert.Equal(t, "Shibuya", got)
	})

	t.Run("ties break lexicographically", func(t *testing.T) {
		got := mostFrequent([][]string{{"Shinjuku"}, {"Ebisu"}})
		assert.Equal(t, "Ebisu", got)
	})

	t.Run("empty input yields empty string", func(t *testing.T) {
		assert.Equal(t, "", mostFrequent(nil))
		assert.Equal(t, "", mostFrequent([][]string{{}, {}}))
	})
}

func TestOverlapCount(t *testing.T) {
	assert.Equal(t, 0, overlapCount(nil, []string{"a"}))
	assert.Equal(t, 0, overlapCount([]string{"a"}, nil))
	assert.Equal(t, 2, overlapCount([]string{"a", "b", "c"}, []string{"b", "c", "d"}))
	// Duplicates never inflate the intersection, whichever side holds them.
	assert.Equal(t, 1, overlapCount([]string{"a"}, []string{"a", "a"}))
	assert.Equal(t, 1, overlapCount([]string{"a", "a"}, []string{"a"}))
	assert.Equal(t, 2, overlapCount([]string{"a", "a", "b"}, []string{"b", "a", "a"}))
}
