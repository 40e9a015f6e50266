// Package progress computes read-only learning statistics from submission
// history and card state. It never mutates anything.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

// masteryStabilityDays is the modeled memory stability, in days, at which a
// reviewed card counts as mastered.
const masteryStabilityDays = 21.0

// Store is the subset of the storage layer the aggregator reads from.
type Store interface {
	ReportCounts(ctx context.Context, learnerID string) (domain.AnswerCounts, error)
	ReportCountsBySkill(ctx context.Context, learnerID string) (map[string]domain.AnswerCounts, error)
	CardsBySkill(ctx context.Context, learnerID string, skills []string) (map[string][]domain.Card, error)
	CountDue(ctx context.Context, learnerID string, skills []string, now time.Time) (int, error)
}

// Aggregator builds progress summaries for learners.
type Aggregator struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// Summary returns overall and per-skill statistics for the learner. A
// learner with no history gets a zero-valued summary, never an error and
// never a division by zero.
func (a *Aggregator) Summary(ctx context.Context, learnerID string) (domain.ProgressSummary, error) {
	counts, err := a.store.ReportCounts(ctx, learnerID)
	if err != nil {
		return domain.ProgressSummary{}, fmt.Errorf("progress: counting answers: %w", err)
	}
	bySkill, err := a.store.ReportCountsBySkill(ctx, learnerID)
	if err != nil {
		return domain.ProgressSummary{}, fmt.Errorf("progress: counting answers by skill: %w", err)
	}
	cards, err := a.store.CardsBySkill(ctx, learnerID, nil)
	if err != nil {
		return domain.ProgressSummary{}, fmt.Errorf("progress: loading cards: %w", err)
	}

	summary := domain.ProgressSummary{
		TotalQuestions: counts.Total,
		AccuracyRate:   ratio(counts.Correct, counts.Total),
		SkillsProgress: make(map[string]domain.SkillProgress, len(bySkill)),
	}

	var totalCards, totalMastered int
	for skill, skillCards := range cards {
		mastered := 0
		for _, c := range skillCards {
			switch c.State {
			case domain.StateLearning:
				summary.LearningStats.Learning++
			case domain.StateReview:
				summary.LearningStats.Review++
			case domain.StateRelearning:
				summary.LearningStats.Relearning++
			}
			if isMastered(c) {
				mastered++
			}
		}
		totalCards += len(skillCards)
		totalMastered += mastered

		sc := bySkill[skill]
		summary.SkillsProgress[skill] = domain.SkillProgress{
			Answered:     sc.Total,
			AccuracyRate: ratio(sc.Correct, sc.Total),
			MasteryRate:  ratio(mastered, len(skillCards)),
		}
	}

	// A skill can have history but no surviving cards (content removed);
	// report its accuracy with zero mastery.
	for skill, sc := range bySkill {
		if _, ok := summary.SkillsProgress[skill]; !ok {
			summary.SkillsProgress[skill] = domain.SkillProgress{
				Answered:     sc.Total,
				AccuracyRate: ratio(sc.Correct, sc.Total),
			}
		}
	}

	summary.MasteryRate = ratio(totalMastered, totalCards)
	return summary, nil
}

// DueCount reports how many cards are due for review right now, optionally
// restricted to skill categories.
func (a *Aggregator) DueCount(ctx context.Context, learnerID string, skills []string) (int, error) {
	n, err := a.store.CountDue(ctx, learnerID, skills, a.now())
	if err != nil {
		return 0, fmt.Errorf("progress: counting due cards: %w", err)
	}
	return n, nil
}

// isMastered reports whether a card's memory is considered durable: it has
// graduated to Review and its stability covers at least three weeks.
func isMastered(c domain.Card) bool {
	return c.State == domain.StateReview && c.Stability >= masteryStabilityDays
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
