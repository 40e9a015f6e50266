package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

const cardColumns = "learner_id, question_id, state, step, stability, difficulty, due_date, reps, lapses, last_review, version"

// Card retrieves the card for one (learner, question) pair.
func (db *DB) Card(ctx context.Context, learnerID, questionID string) (domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE learner_id = ? AND question_id = ?
	`, learnerID, questionID)

	c, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Card{}, fmt.Errorf("card %s/%s: %w", learnerID, questionID, ErrNotFound)
		}
		return domain.Card{}, fmt.Errorf("failed to find card %s/%s: %w", learnerID, questionID, err)
	}
	return c, nil
}

// CreateCard inserts a new card. Returns ErrConflict if a concurrent
// submission created the card first.
func (db *DB) CreateCard(ctx context.Context, c domain.Card) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (learner_id, question_id, state, step, stability, difficulty, due_date, reps, lapses, last_review, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		c.LearnerID,
		c.QuestionID,
		int(c.State),
		c.Step,
		c.Stability,
		c.Difficulty,
		c.Due,
		c.Reps,
		c.Lapses,
		nullTime(c.LastReview),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("card %s/%s: %w", c.LearnerID, c.QuestionID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert card %s/%s: %w", c.LearnerID, c.QuestionID, err)
	}
	return nil
}

// UpdateCard persists an updated card with optimistic concurrency: the
// update applies only if the stored version still matches the version the
// card was read at. Returns ErrConflict when a concurrent writer won.
func (db *DB) UpdateCard(ctx context.Context, c domain.Card) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards
		SET state = ?, step = ?, stability = ?, difficulty = ?, due_date = ?,
		    reps = ?, lapses = ?, last_review = ?, version = version + 1
		WHERE learner_id = ? AND question_id = ? AND version = ?
	`,
		int(c.State),
		c.Step,
		c.Stability,
		c.Difficulty,
		c.Due,
		c.Reps,
		c.Lapses,
		nullTime(c.LastReview),
		c.LearnerID,
		c.QuestionID,
		c.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update card %s/%s: %w", c.LearnerID, c.QuestionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for card %s/%s: %w", c.LearnerID, c.QuestionID, err)
	}
	if n == 0 {
		return fmt.Errorf("card %s/%s version %d: %w", c.LearnerID, c.QuestionID, c.Version, ErrConflict)
	}
	return nil
}

// DueCards returns the learner's cards in the given skills with due date at
// or before now, oldest-due first with ties broken by lowest stability so
// the weakest cards surface earliest.
func (db *DB) DueCards(ctx context.Context, learnerID string, skills []string, now time.Time, limit int) ([]domain.Card, error) {
	if len(skills) == 0 {
		return nil, nil
	}
	marks, args := skillPlaceholders(skills)
	args = append([]any{learnerID}, args...)
	args = append(args, now, limit)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.learner_id, c.question_id, c.state, c.step, c.stability, c.difficulty,
		       c.due_date, c.reps, c.lapses, c.last_review, c.version
		FROM cards c
		JOIN questions q ON q.id = c.question_id
		WHERE c.learner_id = ? AND q.skill_category IN (`+marks+`) AND c.due_date <= ?
		ORDER BY c.due_date ASC, c.stability ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards for %s: %w", learnerID, err)
	}
	defer rows.Close()

	return collectCards(rows)
}

// CountDue counts the learner's due cards. An empty skills slice means all
// skills, matching CardsBySkill.
func (db *DB) CountDue(ctx context.Context, learnerID string, skills []string, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM cards c
		JOIN questions q ON q.id = c.question_id
		WHERE c.learner_id = ? AND c.due_date <= ?`
	args := []any{learnerID, now}
	if len(skills) > 0 {
		marks, skillArgs := skillPlaceholders(skills)
		query += ` AND q.skill_category IN (` + marks + `)`
		args = append(args, skillArgs...)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count due cards for %s: %w", learnerID, err)
	}
	return count, nil
}

// CardQuestionIDs returns the set of question ids the learner already has a
// card for, within the given skills.
func (db *DB) CardQuestionIDs(ctx context.Context, learnerID string, skills []string) (map[string]bool, error) {
	if len(skills) == 0 {
		return map[string]bool{}, nil
	}
	marks, args := skillPlaceholders(skills)
	args = append([]any{learnerID}, args...)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.question_id
		FROM cards c
		JOIN questions q ON q.id = c.question_id
		WHERE c.learner_id = ? AND q.skill_category IN (`+marks+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query card question ids for %s: %w", learnerID, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card question id: %w", err)
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

// CardsBySkill returns all of the learner's cards grouped by skill
// category. An empty skills slice means all skills.
func (db *DB) CardsBySkill(ctx context.Context, learnerID string, skills []string) (map[string][]domain.Card, error) {
	query := `
		SELECT q.skill_category, c.learner_id, c.question_id, c.state, c.step, c.stability,
		       c.difficulty, c.due_date, c.reps, c.lapses, c.last_review, c.version
		FROM cards c
		JOIN questions q ON q.id = c.question_id
		WHERE c.learner_id = ?`
	args := []any{learnerID}
	if len(skills) > 0 {
		marks, skillArgs := skillPlaceholders(skills)
		query += ` AND q.skill_category IN (` + marks + `)`
		args = append(args, skillArgs...)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards by skill for %s: %w", learnerID, err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Card)
	for rows.Next() {
		var (
			skill      string
			c          domain.Card
			state      int
			lastReview sql.NullTime
		)
		if err := rows.Scan(&skill, &c.LearnerID, &c.QuestionID, &state, &c.Step, &c.Stability,
			&c.Difficulty, &c.Due, &c.Reps, &c.Lapses, &lastReview, &c.Version); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		c.State = domain.State(state)
		c.LastReview = lastReview.Time
		out[skill] = append(out[skill], c)
	}
	return out, rows.Err()
}

func collectCards(rows *sql.Rows) ([]domain.Card, error) {
	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func scanCard(row rowScanner) (domain.Card, error) {
	var (
		c          domain.Card
		state      int
		lastReview sql.NullTime
	)
	if err := row.Scan(&c.LearnerID, &c.QuestionID, &state, &c.Step, &c.Stability,
		&c.Difficulty, &c.Due, &c.Reps, &c.Lapses, &lastReview, &c.Version); err != nil {
		return domain.Card{}, err
	}
	c.State = domain.State(state)
	c.LastReview = lastReview.Time
	return c, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
