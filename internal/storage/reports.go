package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

// AppendReport writes one immutable history record. Returns ErrDuplicate if
// a report already exists for the same (session, question), which is how a
// retried submission is detected.
func (db *DB) AppendReport(ctx context.Context, r domain.Report) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO reports (session_id, learner_id, question_id, position, correct, rating,
			response_time, selected_indices, new_state, new_difficulty, new_due, days_until, streak, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.SessionID,
		r.LearnerID,
		r.QuestionID,
		r.Position,
		boolToInt(r.Correct),
		r.Rating,
		r.ResponseTime,
		marshalInts(r.SelectedIndices),
		int(r.NewState),
		r.NewDifficulty,
		r.NewDue,
		r.DaysUntilReview,
		r.Streak,
		r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("report %s/%s: %w", r.SessionID, r.QuestionID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to append report %s/%s: %w", r.SessionID, r.QuestionID, err)
	}
	return nil
}

// Report retrieves the recorded report for a (session, question) pair. The
// boolean reports whether it exists.
func (db *DB) Report(ctx context.Context, sessionID, questionID string) (domain.Report, bool, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT session_id, learner_id, question_id, position, correct, rating,
		       response_time, selected_indices, new_state, new_difficulty, new_due, days_until, streak, created_at
		FROM reports WHERE session_id = ? AND question_id = ?
	`, sessionID, questionID)

	var (
		r        domain.Report
		correct  int
		selected string
		newState int
	)
	err := row.Scan(&r.SessionID, &r.LearnerID, &r.QuestionID, &r.Position, &correct, &r.Rating,
		&r.ResponseTime, &selected, &newState, &r.NewDifficulty, &r.NewDue, &r.DaysUntilReview, &r.Streak, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Report{}, false, nil
		}
		return domain.Report{}, false, fmt.Errorf("failed to find report %s/%s: %w", sessionID, questionID, err)
	}

	r.Correct = correct != 0
	r.NewState = domain.State(newState)
	if r.SelectedIndices, err = unmarshalInts(selected); err != nil {
		return domain.Report{}, false, err
	}
	return r, true, nil
}

// ReportCounts returns the learner's total and correct submission counts.
func (db *DB) ReportCounts(ctx context.Context, learnerID string) (domain.AnswerCounts, error) {
	var counts domain.AnswerCounts
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(correct), 0)
		FROM reports WHERE learner_id = ?
	`, learnerID).Scan(&counts.Total, &counts.Correct)
	if err != nil {
		return domain.AnswerCounts{}, fmt.Errorf("failed to count reports for %s: %w", learnerID, err)
	}
	return counts, nil
}

// ReportCountsBySkill returns the learner's submission counts grouped by the
// answered question's skill category.
func (db *DB) ReportCountsBySkill(ctx context.Context, learnerID string) (map[string]domain.AnswerCounts, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT q.skill_category, COUNT(*), COALESCE(SUM(r.correct), 0)
		FROM reports r
		JOIN questions q ON q.id = r.question_id
		WHERE r.learner_id = ?
		GROUP BY q.skill_category
	`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports by skill for %s: %w", learnerID, err)
	}
	defer rows.Close()

	out := make(map[string]domain.AnswerCounts)
	for rows.Next() {
		var (
			skill  string
			counts domain.AnswerCounts
		)
		if err := rows.Scan(&skill, &counts.Total, &counts.Correct); err != nil {
			return nil, fmt.Errorf("failed to scan report count row: %w", err)
		}
		out[skill] = counts
	}
	return out, rows.Err()
}
