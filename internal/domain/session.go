package domain

import "time"

// SessionType distinguishes a learner's first exposure to a skill set from
// an ordinary review session.
type SessionType string

const (
	SessionInitial SessionType = "initial"
	SessionReview  SessionType = "review"
)

// Session is the lifecycle record of one practice session. At most one
// session is active per learner; starting a new one supersedes any prior
// unfinished session.
type Session struct {
	ID        string
	LearnerID string
	Type      SessionType
	SkillIDs  []string
	Queue     []string // ordered question ids
	Position  int      // index of the current question in Queue
	Streak    int      // consecutive correct answers within the session
	StartedAt time.Time
	UpdatedAt time.Time
	Completed bool
	Active    bool
}

// Report is one immutable history record: the outcome of a single
// submission, including the scheduling result so a replayed submission can
// return identical feedback. Append-only, never mutated.
type Report struct {
	SessionID       string
	LearnerID       string
	QuestionID      string
	Position        int // queue position the submission answered
	Correct         bool
	Rating          int // scheduler rating applied (1..4)
	ResponseTime    float64
	SelectedIndices []int
	NewState        State
	NewDifficulty   float64
	NewDue          time.Time
	DaysUntilReview int
	Streak          int
	CreatedAt       time.Time
}

// Feedback is the result returned to the caller after a submission.
type Feedback struct {
	Correct         bool      `json:"correct"`
	CorrectIndices  []int     `json:"correct_indices"`
	Explanation     string    `json:"explanation,omitempty"`
	State           string    `json:"state"`
	Difficulty      float64   `json:"difficulty"`
	NextReview      time.Time `json:"next_review"`
	DaysUntilReview int       `json:"days_until_review"`
	Streak          int       `json:"streak"`
}

// AnswerCounts is a pair of submission totals used by progress reads.
type AnswerCounts struct {
	Total   int
	Correct int
}

// SkillProgress is the per-skill-category slice of a progress summary.
type SkillProgress struct {
	Answered     int     `json:"answered"`
	AccuracyRate float64 `json:"accuracy_rate"`
	MasteryRate  float64 `json:"mastery_rate"`
}

// LearningStats counts cards by state. New cards are excluded since they
// are not yet being learned.
type LearningStats struct {
	Learning   int `json:"learning"`
	Review     int `json:"review"`
	Relearning int `json:"relearning"`
}

// ProgressSummary is the read-only statistics view for one learner.
type ProgressSummary struct {
	TotalQuestions int                      `json:"total_questions"`
	AccuracyRate   float64                  `json:"accuracy_rate"`
	MasteryRate    float64                  `json:"mastery_rate"`
	SkillsProgress map[string]SkillProgress `json:"skills_progress"`
	LearningStats  LearningStats            `json:"learning_stats"`
}
