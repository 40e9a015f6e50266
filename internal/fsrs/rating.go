package fsrs

import "fmt"

// Rating is the discrete quality signal consumed by the scheduler. It is
// derived from an answer's correctness and latency, not chosen by the learner.
type Rating int

const (
	Again Rating = iota + 1 // incorrect answer
	Hard                    // correct, but far above the expected time
	Good                    // correct
	Easy                    // correct, well under the expected time
)

var ratingNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// IsValid reports whether r is a valid rating (Again through Easy).
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// String returns the name of the rating ("Again", "Hard", "Good", "Easy").
func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}
