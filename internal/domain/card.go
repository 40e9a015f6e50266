package domain

import "time"

// State is the lifecycle stage of a card.
type State int

const (
	StateNew        State = iota // never reviewed
	StateLearning                // in initial learning steps
	StateReview                  // graduated to long-term review
	StateRelearning              // lapsed, relearning
)

var stateNames = [...]string{
	StateNew:        "New",
	StateLearning:   "Learning",
	StateReview:     "Review",
	StateRelearning: "Relearning",
}

// String returns the name of the state ("New", "Learning", "Review", "Relearning").
func (s State) String() string {
	if s >= StateNew && s <= StateRelearning {
		return stateNames[s]
	}
	return "State(?)"
}

// Card is the per-learner memory record for one question. Exactly one card
// exists per (learner, question) pair; it is created lazily on the first
// submission and never deleted.
type Card struct {
	LearnerID  string
	QuestionID string
	State      State
	Step       int     // current learning/relearning step, meaningful outside Review
	Stability  float64 // modeled days until retrievability decays to the reference threshold
	Difficulty float64 // learned resistance to stability growth, in [1, 10]
	Due        time.Time
	Reps       int
	Lapses     int
	LastReview time.Time // zero until the first review
	Version    int64     // optimistic concurrency token, managed by the store
}

// NewCard returns a fresh card in the New state. Due is set to now so the
// card is immediately eligible for presentation.
func NewCard(learnerID, questionID string, now time.Time) Card {
	return Card{
		LearnerID:  learnerID,
		QuestionID: questionID,
		State:      StateNew,
		Due:        now,
	}
}

// IsDue reports whether the card is eligible for re-presentation.
func (c Card) IsDue(now time.Time) bool {
	return !c.Due.After(now)
}
