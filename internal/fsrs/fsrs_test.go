package fsrs

import (
	"math"
	"testing"
	"time"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func mustScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := DefaultWeights
	bad[0] = -1.0
	if _, err := New(Config{Weights: bad}); err == nil {
		t.Error("expected error for out-of-bounds weights")
	}
	if _, err := New(Config{DesiredRetention: 1.5}); err == nil {
		t.Error("expected error for retention > 1")
	}
	if _, err := New(Config{MaximumInterval: -1}); err == nil {
		t.Error("expected error for negative maximum interval")
	}
}

func TestFirstReviewInitializesCard(t *testing.T) {
	s := mustScheduler(t, Config{})
	for _, rating := range []Rating{Again, Hard, Good, Easy} {
		card := domain.NewCard("l1", "q1", t0)
		c := s.Review(card, rating, t0)

		if c.State == domain.StateNew {
			t.Errorf("rating %v: card still New after first review", rating)
		}
		if c.Stability <= 0 {
			t.Errorf("rating %v: stability %f not positive", rating, c.Stability)
		}
		if c.Difficulty < 1 || c.Difficulty > 10 {
			t.Errorf("rating %v: difficulty %f out of bounds", rating, c.Difficulty)
		}
		if !c.Due.After(t0) {
			t.Errorf("rating %v: due %v not in the future", rating, c.Due)
		}
		if c.Reps != 1 {
			t.Errorf("rating %v: reps = %d, want 1", rating, c.Reps)
		}
	}
}

func TestFirstReviewEasyGraduates(t *testing.T) {
	s := mustScheduler(t, Config{})
	c := s.Review(domain.NewCard("l1", "q1", t0), Easy, t0)
	if c.State != domain.StateReview {
		t.Errorf("State = %v, want Review", c.State)
	}
	// Graduated cards get a multi-day interval.
	if c.Due.Sub(t0) < 24*time.Hour {
		t.Errorf("interval %v, want >= 1 day", c.Due.Sub(t0))
	}
}

func TestLearningStepsGraduateAfterGoods(t *testing.T) {
	s := mustScheduler(t, Config{})
	c := s.Review(domain.NewCard("l1", "q1", t0), Good, t0)
	if c.State != domain.StateLearning {
		t.Fatalf("State = %v, want Learning", c.State)
	}
	if got := c.Due.Sub(t0); got != 10*time.Minute {
		t.Errorf("second step interval = %v, want 10m", got)
	}

	// Good at the last step promotes to Review.
	c = s.Review(c, Good, t0.Add(10*time.Minute))
	if c.State != domain.StateReview {
		t.Errorf("State = %v, want Review", c.State)
	}
}

func TestLearningAgainRestartsSteps(t *testing.T) {
	s := mustScheduler(t, Config{})
	c := s.Review(domain.NewCard("l1", "q1", t0), Good, t0)
	c = s.Review(c, Again, t0.Add(5*time.Minute))
	if c.State != domain.StateLearning {
		t.Errorf("State = %v, want Learning", c.State)
	}
	if c.Step != 0 {
		t.Errorf("Step = %d, want 0", c.Step)
	}
	if c.Lapses != 0 {
		t.Errorf("Lapses = %d, want 0 (lapses only count from Review)", c.Lapses)
	}
}

// reviewCard builds a card that has graduated to Review via two Good
// answers, returning it with the time of its next due review.
func reviewCard(t *testing.T, s *Scheduler) (domain.Card, time.Time) {
	t.Helper()
	c := s.Review(domain.NewCard("l1", "q1", t0), Good, t0)
	c = s.Review(c, Good, t0.Add(10*time.Minute))
	if c.State != domain.StateReview {
		t.Fatalf("setup: State = %v, want Review", c.State)
	}
	return c, c.Due
}

func TestReviewLapse(t *testing.T) {
	s := mustScheduler(t, Config{})
	c, due := reviewCard(t, s)
	before := c.Stability

	c = s.Review(c, Again, due)

	if c.State != domain.StateRelearning {
		t.Errorf("State = %v, want Relearning", c.State)
	}
	if c.Lapses != 1 {
		t.Errorf("Lapses = %d, want 1", c.Lapses)
	}
	if c.Stability >= before {
		t.Errorf("Stability %f did not decrease from %f on lapse", c.Stability, before)
	}
}

func TestReviewSuccessGrowsStability(t *testing.T) {
	s := mustScheduler(t, Config{})
	for _, rating := range []Rating{Good, Easy} {
		c, due := reviewCard(t, s)
		before := c.Stability
		prevDue := c.Due

		c = s.Review(c, rating, due)

		if c.State != domain.StateReview {
			t.Errorf("%v: State = %v, want Review", rating, c.State)
		}
		if c.Stability < before {
			t.Errorf("%v: stability %f < %f after success", rating, c.Stability, before)
		}
		if c.Due.Before(prevDue) {
			t.Errorf("%v: due %v before previous due %v", rating, c.Due, prevDue)
		}
		if !c.Due.After(due) {
			t.Errorf("%v: due %v not after review time %v", rating, c.Due, due)
		}
	}
}

func TestDifficultyDirection(t *testing.T) {
	s := mustScheduler(t, Config{})
	c, due := reviewCard(t, s)

	hard := s.Review(c, Hard, due)
	easy := s.Review(c, Easy, due)
	if hard.Difficulty <= c.Difficulty {
		t.Errorf("Hard: difficulty %f did not increase from %f", hard.Difficulty, c.Difficulty)
	}
	if easy.Difficulty >= c.Difficulty {
		t.Errorf("Easy: difficulty %f did not decrease from %f", easy.Difficulty, c.Difficulty)
	}
}

// Over arbitrary rating sequences, stability and difficulty stay within
// bounds and the due date never moves into the past.
func TestBoundsOverRatingSequences(t *testing.T) {
	s := mustScheduler(t, Config{})
	sequences := [][]Rating{
		{Good, Good, Good, Good, Good},
		{Again, Again, Again, Again},
		{Easy, Again, Hard, Good, Easy, Again},
		{Hard, Hard, Hard, Hard, Hard, Hard},
		{Good, Easy, Good, Again, Good, Good, Easy},
	}
	for _, seq := range sequences {
		c := domain.NewCard("l1", "q1", t0)
		now := t0
		for i, rating := range seq {
			c = s.Review(c, rating, now)
			if c.Stability < minStability {
				t.Fatalf("seq %v step %d: stability %f below floor", seq, i, c.Stability)
			}
			if c.Difficulty < 1 || c.Difficulty > 10 {
				t.Fatalf("seq %v step %d: difficulty %f out of [1,10]", seq, i, c.Difficulty)
			}
			if !c.Due.After(now) {
				t.Fatalf("seq %v step %d: due %v not after review time %v", seq, i, c.Due, now)
			}
			if c.Reps != i+1 {
				t.Fatalf("seq %v step %d: reps = %d", seq, i, c.Reps)
			}
			// Advance to the due date for the next review.
			now = c.Due
		}
	}
}

func TestReviewIsDeterministic(t *testing.T) {
	s := mustScheduler(t, Config{})
	card := domain.NewCard("l1", "q1", t0)
	a := s.Review(card, Good, t0)
	b := s.Review(card, Good, t0)
	if a != b {
		t.Errorf("identical inputs produced different cards:\n%+v\n%+v", a, b)
	}
}

func TestIntervalMonotonicInStability(t *testing.T) {
	s := mustScheduler(t, Config{})
	prev := 0
	for _, stab := range []float64{0.5, 1, 5, 20, 100, 1000} {
		ivl := s.Interval(stab)
		if ivl < prev {
			t.Errorf("Interval(%f) = %d, smaller than %d for lower stability", stab, ivl, prev)
		}
		if ivl < 1 {
			t.Errorf("Interval(%f) = %d, want >= 1", stab, ivl)
		}
		prev = ivl
	}
}

func TestRetrievability(t *testing.T) {
	s := mustScheduler(t, Config{})

	if got := s.Retrievability(domain.NewCard("l1", "q1", t0), t0); got != 0 {
		t.Errorf("unreviewed card retrievability = %f, want 0", got)
	}

	c := s.Review(domain.NewCard("l1", "q1", t0), Good, t0)
	r1 := s.Retrievability(c, t0.Add(24*time.Hour))
	r2 := s.Retrievability(c, t0.Add(30*24*time.Hour))
	if r1 <= 0 || r1 > 1 {
		t.Errorf("retrievability %f out of (0, 1]", r1)
	}
	if r2 >= r1 {
		t.Errorf("retrievability did not decay: %f then %f", r1, r2)
	}
}

func TestShortTermStabilityNotDecreasedByGood(t *testing.T) {
	s := mustScheduler(t, Config{})
	c := s.Review(domain.NewCard("l1", "q1", t0), Good, t0)
	before := c.Stability
	// Same-day follow-up review.
	c = s.Review(c, Good, t0.Add(10*time.Minute))
	if c.Stability < before-1e-9 {
		t.Errorf("same-day Good decreased stability: %f -> %f", before, c.Stability)
	}
}

func TestRatingString(t *testing.T) {
	cases := []struct {
		r    Rating
		want string
	}{
		{Again, "Again"},
		{Hard, "Hard"},
		{Good, "Good"},
		{Easy, "Easy"},
		{Rating(9), "Rating(9)"},
	}
	for _, tc := range cases {
		if got := tc.r.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", int(tc.r), got, tc.want)
		}
	}
}

func TestWeightValidation(t *testing.T) {
	if err := ValidateWeights(DefaultWeights); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	for i := range DefaultWeights {
		bad := DefaultWeights
		bad[i] = UpperBounds[i] + 1
		if err := ValidateWeights(bad); err == nil {
			t.Errorf("w[%d] above upper bound not rejected", i)
		}
	}
}

func TestInitDifficultyOrdering(t *testing.T) {
	s := mustScheduler(t, Config{})
	// Harder ratings initialize higher difficulty.
	prev := math.Inf(1)
	for _, r := range []Rating{Again, Hard, Good, Easy} {
		d := s.initDifficulty(r, true)
		if d > prev {
			t.Errorf("initDifficulty(%v) = %f, want <= %f", r, d, prev)
		}
		prev = d
	}
}
