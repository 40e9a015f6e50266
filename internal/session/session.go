// Package session manages the lifecycle of one practice session: building
// an ordered queue of due and new questions, serving the next question, and
// applying submissions through the evaluator and scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/evaluate"
	"github.com/tedlu-tw/learnwise-demo/internal/fsrs"
	"github.com/tedlu-tw/learnwise-demo/internal/metrics"
	"github.com/tedlu-tw/learnwise-demo/internal/storage"
)

var (
	// ErrNoContent means the requested skills yielded neither due cards nor
	// new questions. The wrapped message distinguishes "no due reviews"
	// from "no questions exist for skill".
	ErrNoContent = errors.New("session: no content available")
	// ErrNoActiveSession means the session id is unknown, superseded by a
	// newer session, or expired.
	ErrNoActiveSession = errors.New("session: no active session")
	// ErrSessionCompleted means the session's queue is exhausted.
	ErrSessionCompleted = errors.New("session: already completed")
	// ErrQuestionMismatch means the submission targets a question other
	// than the one at the current queue position.
	ErrQuestionMismatch = errors.New("session: question does not match current position")
	// ErrConcurrentModification means a card update lost twice against
	// concurrent writers; the caller may retry.
	ErrConcurrentModification = errors.New("session: concurrent modification")
)

// CardStore is the card persistence the orchestrator needs.
type CardStore interface {
	Card(ctx context.Context, learnerID, questionID string) (domain.Card, error)
	CreateCard(ctx context.Context, c domain.Card) error
	UpdateCard(ctx context.Context, c domain.Card) error
	DueCards(ctx context.Context, learnerID string, skills []string, now time.Time, limit int) ([]domain.Card, error)
	CardQuestionIDs(ctx context.Context, learnerID string, skills []string) (map[string]bool, error)
}

// QuestionStore is the question lookup the orchestrator needs.
// QuestionsForSkills must return questions ordered by authored difficulty
// ascending.
type QuestionStore interface {
	Question(ctx context.Context, id string) (domain.Question, error)
	QuestionsForSkills(ctx context.Context, skills []string) ([]domain.Question, error)
	CountQuestionsForSkills(ctx context.Context, skills []string) (int, error)
}

// SessionStore persists sessions. CreateSession must atomically supersede
// any prior active session for the learner.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	Session(ctx context.Context, id string) (domain.Session, error)
	UpdateSession(ctx context.Context, s domain.Session) error
}

// ReportStore is the append-only submission history.
type ReportStore interface {
	AppendReport(ctx context.Context, r domain.Report) error
	Report(ctx context.Context, sessionID, questionID string) (domain.Report, bool, error)
}

// Config tunes the orchestrator.
type Config struct {
	MaxQuestions int           // session size cap, zero -> 20
	Timeout      time.Duration // inactivity window after which a session expires, zero -> 2h
}

// Orchestrator coordinates one practice session per learner.
type Orchestrator struct {
	cards     CardStore
	questions QuestionStore
	sessions  SessionStore
	reports   ReportStore
	sched     *fsrs.Scheduler
	cfg       Config
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator. metrics may be nil.
func New(cards CardStore, questions QuestionStore, sessions SessionStore, reports ReportStore,
	sched *fsrs.Scheduler, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cards:     cards,
		questions: questions,
		sessions:  sessions,
		reports:   reports,
		sched:     sched,
		cfg:       cfg,
		metrics:   m,
		log:       logger,
		now:       time.Now,
	}
}

// Start begins a new session for the learner, superseding any prior active
// one. The queue is built from due cards first (oldest due, then lowest
// stability) and filled with new questions ordered by authored difficulty.
func (o *Orchestrator) Start(ctx context.Context, learnerID string, sessionType domain.SessionType, skillIDs []string) (domain.Session, error) {
	now := o.now()
	skills := normalizeSkills(skillIDs)

	queue, err := o.buildQueue(ctx, learnerID, skills, now)
	if err != nil {
		return domain.Session{}, err
	}

	s := domain.Session{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		Type:      sessionType,
		SkillIDs:  skills,
		Queue:     queue,
		StartedAt: now,
		UpdatedAt: now,
		Active:    true,
	}
	if err := o.sessions.CreateSession(ctx, s); err != nil {
		return domain.Session{}, fmt.Errorf("session: starting for %s: %w", learnerID, err)
	}

	o.metrics.SessionStarted(string(sessionType))
	o.log.Info("session started",
		"session_id", s.ID,
		"learner_id", learnerID,
		"type", sessionType,
		"skills", strings.Join(skills, ","),
		"queue_len", len(queue),
	)
	return s, nil
}

// buildQueue selects due cards then new questions, up to the session cap.
func (o *Orchestrator) buildQueue(ctx context.Context, learnerID string, skills []string, now time.Time) ([]string, error) {
	due, err := o.cards.DueCards(ctx, learnerID, skills, now, o.cfg.MaxQuestions)
	if err != nil {
		return nil, fmt.Errorf("session: loading due cards: %w", err)
	}

	queue := make([]string, 0, o.cfg.MaxQuestions)
	for _, c := range due {
		queue = append(queue, c.QuestionID)
	}

	if len(queue) < o.cfg.MaxQuestions {
		seen, err := o.cards.CardQuestionIDs(ctx, learnerID, skills)
		if err != nil {
			return nil, fmt.Errorf("session: loading existing cards: %w", err)
		}

		fresh, err := o.questions.QuestionsForSkills(ctx, skills)
		if err != nil {
			return nil, fmt.Errorf("session: loading questions: %w", err)
		}
		// The store returns difficulty-ascending order; keep it stable in
		// case a caching layer lost it.
		sort.SliceStable(fresh, func(i, j int) bool {
			return fresh[i].DifficultyLevel < fresh[j].DifficultyLevel
		})

		for _, q := range fresh {
			if len(queue) >= o.cfg.MaxQuestions {
				break
			}
			if !seen[q.ID] {
				queue = append(queue, q.ID)
			}
		}
	}

	if len(queue) == 0 {
		total, err := o.questions.CountQuestionsForSkills(ctx, skills)
		if err != nil {
			return nil, fmt.Errorf("session: counting questions: %w", err)
		}
		if total == 0 {
			return nil, fmt.Errorf("%w: no questions exist for skills %v", ErrNoContent, skills)
		}
		return nil, fmt.Errorf("%w: no due reviews for skills %v", ErrNoContent, skills)
	}
	return queue, nil
}

// Next returns the question at the session's current position without
// advancing it, or completed=true when the queue is exhausted.
func (o *Orchestrator) Next(ctx context.Context, sessionID string) (domain.Question, bool, error) {
	s, err := o.activeSession(ctx, sessionID)
	if err != nil {
		return domain.Question{}, false, err
	}
	if s.Completed || s.Position >= len(s.Queue) {
		return domain.Question{}, true, nil
	}

	q, err := o.questions.Question(ctx, s.Queue[s.Position])
	if err != nil {
		return domain.Question{}, false, fmt.Errorf("session: loading question %s: %w", s.Queue[s.Position], err)
	}
	return q, false, nil
}

// Submit evaluates an answer for the question at the current position,
// updates the learner's card, appends a history record, and advances the
// session. Retrying the same submission returns the recorded feedback
// without advancing again.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, questionID string, sub domain.Submission) (domain.Feedback, error) {
	now := o.now()

	s, err := o.activeSession(ctx, sessionID)
	if err != nil {
		return domain.Feedback{}, err
	}
	if s.Completed || s.Position >= len(s.Queue) {
		return domain.Feedback{}, ErrSessionCompleted
	}

	// A retried submission replays the recorded outcome instead of
	// re-reviewing the card. This must happen before any card mutation:
	// the first delivery may have appended its report and then failed
	// before advancing the session.
	if fb, ok, err := o.replayAndRepair(ctx, s, questionID, now); err != nil {
		return domain.Feedback{}, err
	} else if ok {
		return fb, nil
	}

	current := s.Queue[s.Position]
	if questionID != current {
		return domain.Feedback{}, fmt.Errorf("%w: got %s, current is %s", ErrQuestionMismatch, questionID, current)
	}

	q, err := o.questions.Question(ctx, questionID)
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("session: loading question %s: %w", questionID, err)
	}

	outcome, err := evaluate.Evaluate(q, sub)
	if err != nil {
		return domain.Feedback{}, err
	}

	card, err := o.reviewCard(ctx, s.LearnerID, questionID, outcome.Rating, now)
	if err != nil {
		return domain.Feedback{}, err
	}

	streak := 0
	if outcome.Correct {
		streak = s.Streak + 1
	}

	report := domain.Report{
		SessionID:       sessionID,
		LearnerID:       s.LearnerID,
		QuestionID:      questionID,
		Position:        s.Position,
		Correct:         outcome.Correct,
		Rating:          int(outcome.Rating),
		ResponseTime:    sub.ResponseTime,
		SelectedIndices: sub.SelectedIndices,
		NewState:        card.State,
		NewDifficulty:   card.Difficulty,
		NewDue:          card.Due,
		DaysUntilReview: daysUntil(now, card.Due),
		Streak:          streak,
		CreatedAt:       now,
	}
	if err := o.reports.AppendReport(ctx, report); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race against a concurrent retry of the same
			// submission: return what that retry recorded.
			if fb, ok, rerr := o.replayAndRepair(ctx, s, questionID, now); rerr == nil && ok {
				return fb, nil
			}
		}
		return domain.Feedback{}, fmt.Errorf("session: appending report: %w", err)
	}

	s.Position++
	s.Streak = streak
	s.UpdatedAt = now
	if s.Position >= len(s.Queue) {
		s.Completed = true
		o.metrics.SessionCompleted()
	}
	if err := o.sessions.UpdateSession(ctx, s); err != nil {
		return domain.Feedback{}, fmt.Errorf("session: advancing session %s: %w", sessionID, err)
	}

	o.metrics.ReviewRecorded(outcome.Rating.String())
	return feedbackFrom(report, q), nil
}

// reviewCard loads (or lazily creates) the learner's card, applies the
// scheduler, and persists the result. A lost optimistic update is retried
// once against refreshed state before surfacing ErrConcurrentModification.
func (o *Orchestrator) reviewCard(ctx context.Context, learnerID, questionID string, rating fsrs.Rating, now time.Time) (domain.Card, error) {
	for attempt := 0; attempt < 2; attempt++ {
		card, err := o.cards.Card(ctx, learnerID, questionID)
		create := false
		if errors.Is(err, storage.ErrNotFound) {
			card = domain.NewCard(learnerID, questionID, now)
			create = true
		} else if err != nil {
			return domain.Card{}, fmt.Errorf("session: loading card: %w", err)
		}

		updated := o.sched.Review(card, rating, now)

		if create {
			err = o.cards.CreateCard(ctx, updated)
		} else {
			err = o.cards.UpdateCard(ctx, updated)
		}
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return domain.Card{}, fmt.Errorf("session: saving card: %w", err)
		}
		o.log.Warn("card update conflict, retrying against refreshed state",
			"learner_id", learnerID, "question_id", questionID, "attempt", attempt)
	}
	return domain.Card{}, fmt.Errorf("%w: card %s/%s", ErrConcurrentModification, learnerID, questionID)
}

// replayAndRepair reconstructs the feedback for a previously recorded
// submission of this session. When the earlier delivery failed between
// appending its report and advancing the session, the session is still
// pointing at the answered question; repair it by advancing past the
// recorded position so the queue cannot wedge.
func (o *Orchestrator) replayAndRepair(ctx context.Context, s domain.Session, questionID string, now time.Time) (domain.Feedback, bool, error) {
	report, ok, err := o.reports.Report(ctx, s.ID, questionID)
	if err != nil {
		return domain.Feedback{}, false, fmt.Errorf("session: loading report: %w", err)
	}
	if !ok {
		return domain.Feedback{}, false, nil
	}
	q, err := o.questions.Question(ctx, questionID)
	if err != nil {
		return domain.Feedback{}, false, fmt.Errorf("session: loading question %s: %w", questionID, err)
	}

	if s.Position <= report.Position {
		s.Position = report.Position + 1
		s.Streak = report.Streak
		s.UpdatedAt = now
		if s.Position >= len(s.Queue) {
			s.Completed = true
		}
		if err := o.sessions.UpdateSession(ctx, s); err != nil {
			return domain.Feedback{}, false, fmt.Errorf("session: repairing session %s: %w", s.ID, err)
		}
		o.log.Warn("session advanced during replay of recorded submission",
			"session_id", s.ID, "question_id", questionID, "position", s.Position)
	}
	return feedbackFrom(report, q), true, nil
}

// activeSession loads a session and enforces the active/expiry rules.
func (o *Orchestrator) activeSession(ctx context.Context, sessionID string) (domain.Session, error) {
	s, err := o.sessions.Session(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Session{}, fmt.Errorf("%w: %s", ErrNoActiveSession, sessionID)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: loading session %s: %w", sessionID, err)
	}
	if !s.Active {
		return domain.Session{}, fmt.Errorf("%w: %s was superseded", ErrNoActiveSession, sessionID)
	}
	// Completed sessions stay readable; only unfinished ones expire.
	if !s.Completed && o.now().Sub(s.UpdatedAt) > o.cfg.Timeout {
		return domain.Session{}, fmt.Errorf("%w: %s expired", ErrNoActiveSession, sessionID)
	}
	return s, nil
}

func feedbackFrom(r domain.Report, q domain.Question) domain.Feedback {
	return domain.Feedback{
		Correct:         r.Correct,
		CorrectIndices:  q.CorrectIndices,
		Explanation:     q.Explanation,
		State:           r.NewState.String(),
		Difficulty:      r.NewDifficulty,
		NextReview:      r.NewDue,
		DaysUntilReview: r.DaysUntilReview,
		Streak:          r.Streak,
	}
}

func daysUntil(now, due time.Time) int {
	if !due.After(now) {
		return 0
	}
	return int(math.Round(due.Sub(now).Hours() / 24.0))
}

func normalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]bool, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
