package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

const questionColumns = "id, question_text, options, correct_indices, qtype, skill_category, difficulty_level, explanation"

// UpsertQuestion inserts or replaces a question, keeping its source link.
func (db *DB) UpsertQuestion(ctx context.Context, q domain.Question, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO questions (id, question_text, options, correct_indices, qtype, skill_category, difficulty_level, explanation, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question_text = excluded.question_text,
			options = excluded.options,
			correct_indices = excluded.correct_indices,
			qtype = excluded.qtype,
			skill_category = excluded.skill_category,
			difficulty_level = excluded.difficulty_level,
			explanation = excluded.explanation,
			source_id = excluded.source_id
	`,
		q.ID,
		q.Text,
		marshalStrings(q.Options),
		marshalInts(q.CorrectIndices),
		string(q.Type),
		q.SkillCategory,
		q.DifficultyLevel,
		q.Explanation,
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert question %s: %w", q.ID, err)
	}
	return nil
}

// Question retrieves a single question by id.
func (db *DB) Question(ctx context.Context, id string) (domain.Question, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions WHERE id = ?
	`, id)

	q, err := scanQuestion(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Question{}, fmt.Errorf("question %s: %w", id, ErrNotFound)
		}
		return domain.Question{}, fmt.Errorf("failed to find question %s: %w", id, err)
	}
	return q, nil
}

// QuestionsForSkills returns all questions in the given skill categories,
// ordered by authored difficulty ascending with id as a stable tiebreak.
func (db *DB) QuestionsForSkills(ctx context.Context, skills []string) ([]domain.Question, error) {
	if len(skills) == 0 {
		return nil, nil
	}
	marks, args := skillPlaceholders(skills)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE skill_category IN (`+marks+`)
		ORDER BY difficulty_level ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions for skills: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question row: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CountQuestionsForSkills reports how many questions exist for the skills,
// regardless of learner cards. Used to distinguish "no due reviews" from
// "no questions exist for skill".
func (db *DB) CountQuestionsForSkills(ctx context.Context, skills []string) (int, error) {
	if len(skills) == 0 {
		return 0, nil
	}
	marks, args := skillPlaceholders(skills)
	var count int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM questions WHERE skill_category IN (`+marks+`)
	`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count questions for skills: %w", err)
	}
	return count, nil
}

// Categories returns the distinct skill categories present in the store.
func (db *DB) Categories(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT skill_category FROM questions ORDER BY skill_category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// QuestionIDsBySource returns the ids of all questions belonging to a source.
func (db *DB) QuestionIDsBySource(ctx context.Context, sourceID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id FROM questions WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan question id row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteQuestion removes a question, e.g. when it disappeared from its bank.
// Cards referencing it are kept as historical records.
func (db *DB) DeleteQuestion(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete question %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (domain.Question, error) {
	var (
		q           domain.Question
		options     string
		correct     string
		qtype       string
		explanation sql.NullString
	)
	if err := row.Scan(&q.ID, &q.Text, &options, &correct, &qtype, &q.SkillCategory, &q.DifficultyLevel, &explanation); err != nil {
		return domain.Question{}, err
	}
	var err error
	if q.Options, err = unmarshalStrings(options); err != nil {
		return domain.Question{}, err
	}
	if q.CorrectIndices, err = unmarshalInts(correct); err != nil {
		return domain.Question{}, err
	}
	q.Type = domain.QuestionType(qtype)
	q.Explanation = explanation.String
	return q, nil
}
