// Package evaluate scores a submitted answer against a question's correct
// answer set and derives the scheduling rating from correctness and
// response time. It is a pure function layer with no side effects.
package evaluate

import (
	"errors"
	"fmt"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/fsrs"
)

var (
	ErrNoSelection     = errors.New("evaluate: no option selected")
	ErrIndexOutOfRange = errors.New("evaluate: selected index out of range")
)

const (
	// referenceTime is the expected response time in seconds for a question
	// of middling authored difficulty.
	referenceTime = 15.0
	// minResponseTime guards the time factor against zero or negative
	// reported times.
	minResponseTime = 0.5
	// easyFactor and goodFactor split the adjusted time factor into
	// Easy / Good / Hard bands. A correct answer never rates below Hard.
	easyFactor = 0.5
	goodFactor = 1.2
)

// Outcome is the result of evaluating a submission.
type Outcome struct {
	Correct bool
	Rating  fsrs.Rating
}

// Evaluate scores the submission against the question. It rejects
// selections whose index values are out of range for the question's option
// count.
func Evaluate(q domain.Question, sub domain.Submission) (Outcome, error) {
	if len(sub.SelectedIndices) == 0 {
		return Outcome{}, ErrNoSelection
	}
	for _, idx := range sub.SelectedIndices {
		if idx < 0 || idx >= len(q.Options) {
			return Outcome{}, fmt.Errorf("%w: %d with %d options", ErrIndexOutOfRange, idx, len(q.Options))
		}
	}

	correct := isCorrect(q, sub.SelectedIndices)
	return Outcome{
		Correct: correct,
		Rating:  deriveRating(correct, sub.ResponseTime, q.DifficultyLevel),
	}, nil
}

// isCorrect applies exact-set matching: a single-choice question needs
// exactly the one correct index, a multiple-choice question needs the
// selected set to equal the correct set. No partial credit.
func isCorrect(q domain.Question, selected []int) bool {
	if q.Type == domain.SingleChoice {
		return len(selected) == 1 && len(q.CorrectIndices) == 1 && selected[0] == q.CorrectIndices[0]
	}
	if len(selected) != len(q.CorrectIndices) {
		return false
	}
	want := make(map[int]bool, len(q.CorrectIndices))
	for _, idx := range q.CorrectIndices {
		want[idx] = true
	}
	for _, idx := range selected {
		if !want[idx] {
			return false
		}
		// Duplicate selections of the same index must not count twice.
		delete(want, idx)
	}
	return len(want) == 0
}

// deriveRating maps the outcome to a scheduler rating. Incorrect answers
// always rate Again. Correct answers rate Good by default, Easy when the
// answer came well under the expected time for the question's authored
// difficulty, and Hard when it came far over it.
func deriveRating(correct bool, responseTime float64, difficultyLevel int) fsrs.Rating {
	if !correct {
		return fsrs.Again
	}
	if responseTime < minResponseTime {
		responseTime = minResponseTime
	}
	factor := responseTime / expectedTime(difficultyLevel)
	switch {
	case factor <= easyFactor:
		return fsrs.Easy
	case factor <= goodFactor:
		return fsrs.Good
	default:
		return fsrs.Hard
	}
}

// expectedTime scales the reference time by the authored difficulty level:
// level 2 is the baseline, each level above or below shifts it by 20%.
func expectedTime(level int) float64 {
	if level <= 0 {
		level = 2
	}
	t := referenceTime * (1 + float64(level-2)*0.2)
	if t < 1 {
		t = 1
	}
	return t
}
