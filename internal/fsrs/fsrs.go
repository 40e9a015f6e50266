// Package fsrs implements the forgetting-curve scheduling model: a pure
// transform from (card, rating, time) to an updated card.
package fsrs

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

var (
	ErrInvalidWeights = errors.New("fsrs: weights out of bounds")
	ErrInvalidRating  = errors.New("fsrs: invalid rating")
)

const (
	minStability  = 0.001
	minDifficulty = 1.0
	maxDifficulty = 10.0
	// minInterval is the floor applied when a computed interval would be
	// non-positive; the anomaly is logged rather than propagated.
	minInterval = time.Minute
)

// Config configures a Scheduler. Zero values produce defaults.
type Config struct {
	Weights          [21]float64     // zero -> DefaultWeights
	DesiredRetention float64         // zero -> 0.9
	LearningSteps    []time.Duration // nil -> [1m, 10m]
	RelearningSteps  []time.Duration // nil -> [10m]
	MaximumInterval  int             // days, zero -> 36500
	Logger           *slog.Logger    // nil -> slog.Default
}

// Scheduler computes next due date, state, difficulty, and stability from a
// review outcome. Review is pure and deterministic for identical inputs.
type Scheduler struct {
	w                [21]float64
	decay            float64 // -w[20]
	factor           float64 // 0.9^(1/decay) - 1
	desiredRetention float64
	learningSteps    []time.Duration
	relearningSteps  []time.Duration
	maximumInterval  int
	log              *slog.Logger
}

// New creates a Scheduler from the given config. Zero-value fields are
// filled with defaults; invalid values return an error.
func New(cfg Config) (*Scheduler, error) {
	w := cfg.Weights
	if w == [21]float64{} {
		w = DefaultWeights
	}
	if err := ValidateWeights(w); err != nil {
		return nil, err
	}

	dr := cfg.DesiredRetention
	if dr == 0 {
		dr = 0.9
	}
	if dr < 0 || dr > 1 {
		return nil, fmt.Errorf("fsrs: desired retention %f out of range (0, 1]", dr)
	}

	maxIvl := cfg.MaximumInterval
	if maxIvl == 0 {
		maxIvl = 36500
	}
	if maxIvl < 0 {
		return nil, fmt.Errorf("fsrs: maximum interval %d must be positive", maxIvl)
	}

	ls := cfg.LearningSteps
	if ls == nil {
		ls = []time.Duration{time.Minute, 10 * time.Minute}
	}
	rs := cfg.RelearningSteps
	if rs == nil {
		rs = []time.Duration{10 * time.Minute}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	decay := -w[20]
	return &Scheduler{
		w:                w,
		decay:            decay,
		factor:           math.Pow(0.9, 1.0/decay) - 1.0,
		desiredRetention: dr,
		learningSteps:    ls,
		relearningSteps:  rs,
		maximumInterval:  maxIvl,
		log:              logger,
	}, nil
}

// Review processes one review of the card at the given time and returns the
// fully-populated updated card. The input card is not mutated.
func (s *Scheduler) Review(card domain.Card, rating Rating, now time.Time) domain.Card {
	c := card

	var elapsedDays float64
	if !c.LastReview.IsZero() {
		elapsedDays = now.Sub(c.LastReview).Hours() / 24.0
	}

	s.updateMemory(&c, rating, elapsedDays)

	// A lapse is a Review-state card answered incorrectly.
	if c.State == domain.StateReview && rating == Again {
		c.Lapses++
	}

	interval := s.transition(&c, rating)
	if interval <= 0 {
		s.log.Warn("scheduler computed non-positive interval, clamping",
			"learner_id", c.LearnerID,
			"question_id", c.QuestionID,
			"rating", rating.String(),
			"interval", interval,
		)
		interval = minInterval
	}

	c.Due = now.Add(interval)
	c.LastReview = now
	c.Reps++
	return c
}

// Retrievability returns the probability of recall for the card at the
// given time, or 0 for a card that has never been reviewed.
func (s *Scheduler) Retrievability(card domain.Card, now time.Time) float64 {
	if card.LastReview.IsZero() || card.Stability <= 0 {
		return 0
	}
	elapsed := now.Sub(card.LastReview).Hours() / 24.0
	return s.retrievability(elapsed, card.Stability)
}

// Interval returns the next review interval in days for the given stability
// at the configured desired retention.
func (s *Scheduler) Interval(stability float64) int {
	return s.nextInterval(stability)
}

// updateMemory updates stability and difficulty from the review outcome.
func (s *Scheduler) updateMemory(c *domain.Card, rating Rating, elapsedDays float64) {
	if c.State == domain.StateNew || c.Stability <= 0 {
		// First exposure: initialize from the rating tables and enter the
		// learning steps.
		c.Stability = s.initStability(rating)
		c.Difficulty = s.initDifficulty(rating, true)
		c.State = domain.StateLearning
		c.Step = 0
		return
	}

	if elapsedDays < 1 {
		c.Stability = s.shortTermStability(c.Stability, rating)
	} else {
		r := s.retrievability(elapsedDays, c.Stability)
		c.Stability = s.nextStability(c.Difficulty, c.Stability, r, rating)
	}
	c.Difficulty = s.nextDifficulty(c.Difficulty, rating)
}

// transition applies the state machine and returns the scheduling interval.
func (s *Scheduler) transition(c *domain.Card, rating Rating) time.Duration {
	switch c.State {
	case domain.StateLearning:
		return s.transitionLearning(c, rating, s.learningSteps)
	case domain.StateRelearning:
		return s.transitionLearning(c, rating, s.relearningSteps)
	default:
		return s.transitionReview(c, rating)
	}
}

// transitionLearning handles Learning and Relearning cards. Again restarts
// the steps, Good advances, and Easy or step exhaustion graduates to Review.
func (s *Scheduler) transitionLearning(c *domain.Card, rating Rating, steps []time.Duration) time.Duration {
	if len(steps) == 0 || (c.Step >= len(steps) && rating != Again) {
		return s.graduate(c)
	}

	switch rating {
	case Again:
		c.Step = 0
		return steps[0]

	case Hard:
		if c.Step == 0 && len(steps) == 1 {
			return time.Duration(float64(steps[0]) * 1.5)
		}
		if c.Step == 0 && len(steps) >= 2 {
			return (steps[0] + steps[1]) / 2
		}
		return steps[c.Step]

	case Good:
		next := c.Step + 1
		if next >= len(steps) {
			return s.graduate(c)
		}
		c.Step = next
		return steps[next]

	default: // Easy promotes directly toward Review.
		return s.graduate(c)
	}
}

// transitionReview handles cards already in the Review state. Again drops
// the card to Relearning; anything else schedules the next multi-day
// interval from the updated stability.
func (s *Scheduler) transitionReview(c *domain.Card, rating Rating) time.Duration {
	if rating == Again && len(s.relearningSteps) > 0 {
		c.State = domain.StateRelearning
		c.Step = 0
		return s.relearningSteps[0]
	}
	days := s.nextInterval(c.Stability)
	return time.Duration(days) * 24 * time.Hour
}

// graduate promotes a card to Review and computes its first multi-day
// interval from stability.
func (s *Scheduler) graduate(c *domain.Card) time.Duration {
	c.State = domain.StateReview
	c.Step = 0
	days := s.nextInterval(c.Stability)
	return time.Duration(days) * 24 * time.Hour
}

// retrievability computes R(t, S) = (1 + factor * t / S) ^ decay.
func (s *Scheduler) retrievability(elapsedDays, stability float64) float64 {
	if stability < minStability {
		stability = minStability
	}
	return math.Pow(1+s.factor*elapsedDays/stability, s.decay)
}

// initStability returns S0(G) = clamp(w[G-1]).
func (s *Scheduler) initStability(r Rating) float64 {
	return clampS(s.w[r-1])
}

// initDifficulty returns D0(G) = w[4] - e^(w[5] * (G-1)) + 1.
func (s *Scheduler) initDifficulty(r Rating, clamp bool) float64 {
	d := s.w[4] - math.Exp(s.w[5]*float64(r-1)) + 1
	if clamp {
		return clampD(d)
	}
	return d
}

// nextInterval computes I(r, S) = (S / factor) * (r^(1/decay) - 1) rounded
// and clamped to [1, maximumInterval] days. Monotonically increasing in S.
func (s *Scheduler) nextInterval(stability float64) int {
	ivl := stability / s.factor * (math.Pow(s.desiredRetention, 1.0/s.decay) - 1)
	days := int(math.Round(ivl))
	if days < 1 {
		days = 1
	}
	if days > s.maximumInterval {
		days = s.maximumInterval
	}
	return days
}

// shortTermStability computes the same-day review stability update.
func (s *Scheduler) shortTermStability(stability float64, r Rating) float64 {
	sInc := math.Exp(s.w[17]*(float64(r)-3+s.w[18])) * math.Pow(stability, -s.w[19])
	if r == Good || r == Easy {
		sInc = math.Max(sInc, 1.0)
	}
	return clampS(stability * sInc)
}

// nextDifficulty applies the corrective difficulty step: linear damping
// toward the rating's direction plus mean reversion, clamped to [1, 10].
func (s *Scheduler) nextDifficulty(difficulty float64, r Rating) float64 {
	deltaD := -s.w[6] * (float64(r) - 3)
	dPrime := difficulty + (10-difficulty)*deltaD/9
	d0Easy := s.initDifficulty(Easy, false) // mean reversion target, unclamped
	return clampD(s.w[7]*d0Easy + (1-s.w[7])*dPrime)
}

// nextStability dispatches on lapse vs successful recall.
func (s *Scheduler) nextStability(d, stab, r float64, rating Rating) float64 {
	if rating == Again {
		return s.nextForgetStability(d, stab, r)
	}
	return s.nextRecallStability(d, stab, r, rating)
}

// nextRecallStability grows stability after Hard/Good/Easy. Growth is
// retrievability-weighted: larger when the card was nearly forgotten.
func (s *Scheduler) nextRecallStability(d, stab, r float64, rating Rating) float64 {
	hardPenalty := 1.0
	if rating == Hard {
		hardPenalty = s.w[15]
	}
	easyBonus := 1.0
	if rating == Easy {
		easyBonus = s.w[16]
	}
	return clampS(stab * (1 + math.Exp(s.w[8])*
		(11-d)*
		math.Pow(stab, -s.w[9])*
		(math.Exp((1-r)*s.w[10])-1)*
		hardPenalty*easyBonus))
}

// nextForgetStability drops stability after a lapse: the minimum of the
// long-term forget formula and the short-term decay bound.
func (s *Scheduler) nextForgetStability(d, stab, r float64) float64 {
	long := s.w[11] *
		math.Pow(d, -s.w[12]) *
		(math.Pow(stab+1, s.w[13]) - 1) *
		math.Exp((1-r)*s.w[14])
	short := stab / math.Exp(s.w[17]*s.w[18])
	return clampS(math.Min(long, short))
}

func clampS(s float64) float64 {
	return math.Max(s, minStability)
}

func clampD(d float64) float64 {
	return math.Min(math.Max(d, minDifficulty), maxDifficulty)
}
