// Package ingest parses question-bank JSON files into domain questions.
// Bank files have drifted across revisions (correct_answer vs
// correct_indices, text vs question_text, difficulty vs difficulty_level,
// category vs skill_category, _id vs id); all aliases are normalized here,
// at the data-model boundary, rather than per call site.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/qid"
)

var (
	ErrNoText          = errors.New("ingest: question has no text")
	ErrNoOptions       = errors.New("ingest: question needs at least two options")
	ErrNoCorrectAnswer = errors.New("ingest: question has no correct answer")
	ErrBadCorrectIndex = errors.New("ingest: correct index out of range")
)

// rawQuestion accepts every field spelling seen across bank revisions.
type rawQuestion struct {
	ID              string          `json:"id"`
	LegacyID        string          `json:"_id"`
	QuestionText    string          `json:"question_text"`
	Text            string          `json:"text"`
	Options         []string        `json:"options"`
	CorrectIndices  json.RawMessage `json:"correct_indices"`
	CorrectAnswer   json.RawMessage `json:"correct_answer"`
	Type            string          `json:"type"`
	SkillCategory   string          `json:"skill_category"`
	Category        string          `json:"category"`
	DifficultyLevel int             `json:"difficulty_level"`
	Difficulty      int             `json:"difficulty"`
	Explanation     string          `json:"explanation"`
}

// ParseFile reads a bank file from the given path and extracts all questions.
func ParseFile(path string) ([]domain.Question, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads a JSON array of questions from r and normalizes each entry.
// A bank may also wrap the array in a {"questions": [...]} object.
func Parse(r io.Reader) ([]domain.Question, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var raws []rawQuestion
	if err := json.Unmarshal(data, &raws); err != nil {
		var wrapped struct {
			Questions []rawQuestion `json:"questions"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("ingest: parsing bank: %w", err)
		}
		raws = wrapped.Questions
	}

	questions := make([]domain.Question, 0, len(raws))
	for i, raw := range raws {
		q, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("ingest: question %d: %w", i, err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// normalize resolves field aliases and validates the result. Questions
// without an explicit id get a content-hash id so re-ingesting an unchanged
// bank is stable.
func normalize(raw rawQuestion) (domain.Question, error) {
	q := domain.Question{
		ID:              firstNonEmpty(raw.ID, raw.LegacyID),
		Text:            strings.TrimSpace(firstNonEmpty(raw.QuestionText, raw.Text)),
		Options:         raw.Options,
		SkillCategory:   strings.ToLower(strings.TrimSpace(firstNonEmpty(raw.SkillCategory, raw.Category))),
		DifficultyLevel: raw.DifficultyLevel,
		Explanation:     raw.Explanation,
	}
	if q.DifficultyLevel == 0 {
		q.DifficultyLevel = raw.Difficulty
	}
	if q.DifficultyLevel == 0 {
		q.DifficultyLevel = 2
	}

	if q.Text == "" {
		return domain.Question{}, ErrNoText
	}
	if len(q.Options) < 2 {
		return domain.Question{}, ErrNoOptions
	}

	correct, err := parseCorrect(raw)
	if err != nil {
		return domain.Question{}, err
	}
	for _, idx := range correct {
		if idx < 0 || idx >= len(q.Options) {
			return domain.Question{}, fmt.Errorf("%w: %d with %d options", ErrBadCorrectIndex, idx, len(q.Options))
		}
	}
	q.CorrectIndices = correct

	switch raw.Type {
	case string(domain.MultipleChoice):
		q.Type = domain.MultipleChoice
	case string(domain.SingleChoice):
		q.Type = domain.SingleChoice
	case "":
		if len(correct) > 1 {
			q.Type = domain.MultipleChoice
		} else {
			q.Type = domain.SingleChoice
		}
	default:
		return domain.Question{}, fmt.Errorf("ingest: unknown question type %q", raw.Type)
	}

	if q.ID == "" {
		q.ID = qid.Hash(q)
	}
	return q, nil
}

// parseCorrect accepts the new correct_indices list, the legacy
// correct_answer single index, and a legacy list under either name.
func parseCorrect(raw rawQuestion) ([]int, error) {
	for _, field := range [][]byte{raw.CorrectIndices, raw.CorrectAnswer} {
		if len(field) == 0 {
			continue
		}
		var list []int
		if err := json.Unmarshal(field, &list); err == nil {
			if len(list) == 0 {
				return nil, ErrNoCorrectAnswer
			}
			return list, nil
		}
		var single int
		if err := json.Unmarshal(field, &single); err == nil {
			return []int{single}, nil
		}
		return nil, fmt.Errorf("ingest: unparseable correct answer %s", field)
	}
	return nil, ErrNoCorrectAnswer
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
