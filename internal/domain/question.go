package domain

// QuestionType distinguishes single-choice from multiple-choice questions.
type QuestionType string

const (
	SingleChoice   QuestionType = "single"
	MultipleChoice QuestionType = "multiple"
)

// Question is immutable reference data owned by the content store.
// DifficultyLevel is the author-assigned level (1 easiest to 5 hardest),
// distinct from a card's learned difficulty.
type Question struct {
	ID              string
	Text            string
	Options         []string
	CorrectIndices  []int
	Type            QuestionType
	SkillCategory   string
	DifficultyLevel int
	Explanation     string
}

// Submission is the ephemeral input for one answer. It is not persisted as
// its own entity; its outcome is recorded as part of a Report.
type Submission struct {
	SessionID       string
	QuestionID      string
	SelectedIndices []int
	ResponseTime    float64 // seconds
}
