package main

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// pgMatchStore implements MatchStore on Postgres. Preference set columns are
// JSON arrays; they are decoded exactly once here, at the repository
// boundary, so the scorer works on plain string slices.
type pgMatchStore struct {
	db *sql.DB
}

func newPgMatchStore(db *sql.DB) *pgMatchStore {
	return &pgMatchStore{db: db}
}

const matchUserColumns = `
	u.id,
	p.nickname, p.birth_year,
	pr.age_band_min, pr.age_band_max,
	pr.preferred_areas, pr.available_times, pr.interests,
	pr.drinking_ok, pr.smoking_ok, pr.quiet_mode, pr.no_alcohol_meetups,
	pr.conversation_depth`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatchUser(row rowScanner) (*MatchUser, error) {
	var (
		u                MatchUser
		nickname         sql.NullString
		birthYear        sql.NullInt64
		ageMin, ageMax   sql.NullInt64
		areas, times     []byte
		interests        []byte
		drinking, smoke  sql.NullBool
		quiet, noAlcohol sql.NullBool
		depth            sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&nickname, &birthYear,
		&ageMin, &ageMax,
		&areas, &times, &interests,
		&drinking, &smoke, &quiet, &noAlcohol,
		&depth,
	)
	if err != nil {
		return nil, err
	}

	if nickname.Valid && birthYear.Valid {
		u.Profile = &Profile{
			UserID:    u.ID,
			Nickname:  nickname.String,
			BirthYear: int(birthYear.Int64),
		}
	}
	if ageMin.Valid {
		u.Preference = &Preference{
			UserID:            u.ID,
			AgeBandMin:        int(ageMin.Int64),
			AgeBandMax:        int(ageMax.Int64),
			PreferredAreas:    decodeStringList(areas),
			AvailableTimes:    decodeStringList(times),
			Interests:         decodeStringList(interests),
			DrinkingOk:        drinking.Bool,
			SmokingOk:         smoke.Bool,
			QuietMode:         quiet.Bool,
			NoAlcoholMeetups:  noAlcohol.Bool,
			ConversationDepth: depth.String,
		}
	}
	return &u, nil
}

func (s *pgMatchStore) VerifiedUser(ctx context.Context, id int) (*MatchUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+matchUserColumns+`
		FROM users u
		JOIN verifications v ON v.user_id = u.id AND v.status = 'VERIFIED'
		LEFT JOIN profiles p ON p.user_id = u.id
		LEFT JOIN preferences pr ON pr.user_id = u.id
		WHERE u.id = $1
	`, id)
	u, err := scanMatchUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *pgMatchStore) Candidates(ctx context.Context, exclude map[int]struct{}) ([]*MatchUser, error) {
	excluded := make([]int64, 0, len(exclude))
	for id := range exclude {
		excluded = append(excluded, int64(id))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchUserColumns+`
		FROM users u
		JOIN verifications v ON v.user_id = u.id AND v.status = 'VERIFIED'
		LEFT JOIN profiles p ON p.user_id = u.id
		LEFT JOIN preferences pr ON pr.user_id = u.id
		WHERE u.status = 'ACTIVE'
		  AND u.id <> ALL($1::int[])
		ORDER BY u.id
	`, pq.Array(excluded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMatchUsers(rows)
}

func (s *pgMatchStore) EligiblePool(ctx context.Context) ([]*MatchUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchUserColumns+`
		FROM users u
		JOIN verifications v ON v.user_id = u.id AND v.status = 'VERIFIED'
		LEFT JOIN profiles p ON p.user_id = u.id
		LEFT JOIN preferences pr ON pr.user_id = u.id
		WHERE u.status = 'ACTIVE'
		  AND NOT EXISTS (
			SELECT 1
			FROM group_memberships gm
			JOIN groups g ON g.id = gm.group_id
			WHERE gm.user_id = u.id
			  AND gm.is_active
			  AND g.status IN ('FORMING', 'ACTIVE')
		  )
		ORDER BY u.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMatchUsers(rows)
}

func collectMatchUsers(rows *sql.Rows) ([]*MatchUser, error) {
	var users []*MatchUser
	for rows.Next() {
		u, err := scanMatchUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateGroup writes the group row, one membership per member and the
// group's chat thread in a single transaction. Any failure rolls the whole
// group back; the members stay in the unmatched pool.
func (s *pgMatchStore) CreateGroup(ctx context.Context, draft GroupDraft) (int, error) {
	var groupID int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRow(`
			INSERT INTO groups (cohort_name, status, target_area, target_time_slot)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, draft.CohortName, groupForming, draft.TargetArea, draft.TargetTimeSlot).Scan(&groupID); err != nil {
			return err
		}

		for _, userID := range draft.MemberIDs {
			if _, err := tx.Exec(`
				INSERT INTO group_memberships (group_id, user_id, compatibility_score, is_active)
				VALUES ($1, $2, $3, TRUE)
			`, groupID, userID, draft.Score); err != nil {
				return err
			}
		}

		_, err := tx.Exec("INSERT INTO chat_threads (group_id) VALUES ($1)", groupID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return groupID, nil
}
