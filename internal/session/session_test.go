package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/fsrs"
	"github.com/tedlu-tw/learnwise-demo/internal/storage"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type fakeCards struct {
	cards          map[string]domain.Card
	failUpdates    int
	updateAttempts int
}

func cardKey(learnerID, questionID string) string {
	return learnerID + "|" + questionID
}

func newFakeCards() *fakeCards {
	return &fakeCards{cards: make(map[string]domain.Card)}
}

func (f *fakeCards) Card(_ context.Context, learnerID, questionID string) (domain.Card, error) {
	c, ok := f.cards[cardKey(learnerID, questionID)]
	if !ok {
		return domain.Card{}, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeCards) CreateCard(_ context.Context, c domain.Card) error {
	key := cardKey(c.LearnerID, c.QuestionID)
	if _, ok := f.cards[key]; ok {
		return storage.ErrConflict
	}
	c.Version = 1
	f.cards[key] = c
	return nil
}

func (f *fakeCards) UpdateCard(_ context.Context, c domain.Card) error {
	f.updateAttempts++
	if f.failUpdates > 0 {
		f.failUpdates--
		return storage.ErrConflict
	}
	key := cardKey(c.LearnerID, c.QuestionID)
	existing, ok := f.cards[key]
	if !ok || existing.Version != c.Version {
		return storage.ErrConflict
	}
	c.Version++
	f.cards[key] = c
	return nil
}

func (f *fakeCards) DueCards(_ context.Context, learnerID string, _ []string, now time.Time, limit int) ([]domain.Card, error) {
	var due []domain.Card
	for _, c := range f.cards {
		if c.LearnerID == learnerID && !c.Due.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].Due.Equal(due[j].Due) {
			return due[i].Due.Before(due[j].Due)
		}
		return due[i].Stability < due[j].Stability
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeCards) CardQuestionIDs(_ context.Context, learnerID string, _ []string) (map[string]bool, error) {
	ids := make(map[string]bool)
	for _, c := range f.cards {
		if c.LearnerID == learnerID {
			ids[c.QuestionID] = true
		}
	}
	return ids, nil
}

type fakeQuestions struct {
	questions map[string]domain.Question
}

func newFakeQuestions(qs ...domain.Question) *fakeQuestions {
	f := &fakeQuestions{questions: make(map[string]domain.Question)}
	for _, q := range qs {
		f.questions[q.ID] = q
	}
	return f
}

func (f *fakeQuestions) Question(_ context.Context, id string) (domain.Question, error) {
	q, ok := f.questions[id]
	if !ok {
		return domain.Question{}, storage.ErrNotFound
	}
	return q, nil
}

func (f *fakeQuestions) QuestionsForSkills(_ context.Context, skills []string) ([]domain.Question, error) {
	want := make(map[string]bool, len(skills))
	for _, s := range skills {
		want[s] = true
	}
	var out []domain.Question
	for _, q := range f.questions {
		if len(want) == 0 || want[q.SkillCategory] {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DifficultyLevel != out[j].DifficultyLevel {
			return out[i].DifficultyLevel < out[j].DifficultyLevel
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeQuestions) CountQuestionsForSkills(ctx context.Context, skills []string) (int, error) {
	qs, err := f.QuestionsForSkills(ctx, skills)
	return len(qs), err
}

type fakeSessions struct {
	sessions    map[string]domain.Session
	failUpdates int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]domain.Session)}
}

func (f *fakeSessions) CreateSession(_ context.Context, s domain.Session) error {
	for id, prev := range f.sessions {
		if prev.LearnerID == s.LearnerID && prev.Active {
			prev.Active = false
			f.sessions[id] = prev
		}
	}
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) Session(_ context.Context, id string) (domain.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) UpdateSession(_ context.Context, s domain.Session) error {
	if f.failUpdates > 0 {
		f.failUpdates--
		return errors.New("session store unavailable")
	}
	if _, ok := f.sessions[s.ID]; !ok {
		return storage.ErrNotFound
	}
	f.sessions[s.ID] = s
	return nil
}

type fakeReports struct {
	reports map[string]domain.Report
}

func newFakeReports() *fakeReports {
	return &fakeReports{reports: make(map[string]domain.Report)}
}

func (f *fakeReports) AppendReport(_ context.Context, r domain.Report) error {
	key := r.SessionID + "|" + r.QuestionID
	if _, ok := f.reports[key]; ok {
		return storage.ErrDuplicate
	}
	f.reports[key] = r
	return nil
}

func (f *fakeReports) Report(_ context.Context, sessionID, questionID string) (domain.Report, bool, error) {
	r, ok := f.reports[sessionID+"|"+questionID]
	return r, ok, nil
}

type fixture struct {
	cards     *fakeCards
	questions *fakeQuestions
	sessions  *fakeSessions
	reports   *fakeReports
	orch      *Orchestrator
	clock     time.Time
}

func newFixture(t *testing.T, qs ...domain.Question) *fixture {
	t.Helper()
	sched, err := fsrs.New(fsrs.Config{})
	if err != nil {
		t.Fatalf("fsrs.New: %v", err)
	}
	fx := &fixture{
		cards:     newFakeCards(),
		questions: newFakeQuestions(qs...),
		sessions:  newFakeSessions(),
		reports:   newFakeReports(),
		clock:     t0,
	}
	fx.orch = New(fx.cards, fx.questions, fx.sessions, fx.reports, sched,
		Config{MaxQuestions: 10}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fx.orch.now = func() time.Time { return fx.clock }
	return fx
}

func question(id, skill string, difficulty int) domain.Question {
	return domain.Question{
		ID:              id,
		Text:            "What is " + id + "?",
		Options:         []string{"a", "b", "c", "d"},
		CorrectIndices:  []int{1},
		Type:            domain.SingleChoice,
		SkillCategory:   skill,
		DifficultyLevel: difficulty,
		Explanation:     "because " + id,
	}
}

func correctSubmission(questionID string) domain.Submission {
	return domain.Submission{QuestionID: questionID, SelectedIndices: []int{1}, ResponseTime: 10}
}

func TestStartOrdersNewQuestionsByDifficulty(t *testing.T) {
	fx := newFixture(t,
		question("q-hard", "algebra", 4),
		question("q-easy", "algebra", 1),
		question("q-mid", "algebra", 2),
	)

	s, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionInitial, []string{"Algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"q-easy", "q-mid", "q-hard"}
	if len(s.Queue) != len(want) {
		t.Fatalf("queue = %v, want %v", s.Queue, want)
	}
	for i, id := range want {
		if s.Queue[i] != id {
			t.Errorf("queue[%d] = %s, want %s", i, s.Queue[i], id)
		}
	}
	if len(s.SkillIDs) != 1 || s.SkillIDs[0] != "algebra" {
		t.Errorf("skills not normalized: %v", s.SkillIDs)
	}
}

func TestStartPutsDueCardsBeforeNewQuestions(t *testing.T) {
	fx := newFixture(t,
		question("q-new", "algebra", 1),
		question("q-due-late", "algebra", 2),
		question("q-due-early", "algebra", 3),
	)

	// Two review cards already due, one new question. The older due date
	// comes first even though its question is authored harder.
	early := domain.NewCard("learner-1", "q-due-early", t0.Add(-72*time.Hour))
	early.Due = t0.Add(-48 * time.Hour)
	early.Stability = 3
	late := domain.NewCard("learner-1", "q-due-late", t0.Add(-72*time.Hour))
	late.Due = t0.Add(-2 * time.Hour)
	late.Stability = 1
	for _, c := range []domain.Card{early, late} {
		if err := fx.cards.CreateCard(context.Background(), c); err != nil {
			t.Fatalf("CreateCard: %v", err)
		}
	}

	s, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionReview, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"q-due-early", "q-due-late", "q-new"}
	for i, id := range want {
		if s.Queue[i] != id {
			t.Fatalf("queue = %v, want %v", s.Queue, want)
		}
	}
}

func TestStartBreaksDueTiesByStability(t *testing.T) {
	fx := newFixture(t,
		question("q-shaky", "algebra", 1),
		question("q-solid", "algebra", 1),
	)

	due := t0.Add(-time.Hour)
	shaky := domain.NewCard("learner-1", "q-shaky", t0.Add(-72*time.Hour))
	shaky.Due, shaky.Stability = due, 0.5
	solid := domain.NewCard("learner-1", "q-solid", t0.Add(-72*time.Hour))
	solid.Due, solid.Stability = due, 9.0
	for _, c := range []domain.Card{solid, shaky} {
		if err := fx.cards.CreateCard(context.Background(), c); err != nil {
			t.Fatalf("CreateCard: %v", err)
		}
	}

	s, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionReview, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Queue[0] != "q-shaky" || s.Queue[1] != "q-solid" {
		t.Fatalf("queue = %v, want weaker memory first", s.Queue)
	}
}

func TestStartNoContent(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionInitial, []string{"algebra"})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestStartSupersedesPriorSession(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1))

	first, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionInitial, []string{"algebra"}); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if _, _, err := fx.orch.Next(context.Background(), first.ID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Next on superseded session: err = %v, want ErrNoActiveSession", err)
	}
}

func TestSubmitAdvancesAndCompletes(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1), question("q2", "algebra", 2))
	ctx := context.Background()

	s, err := fx.orch.Start(ctx, "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	q, completed, err := fx.orch.Next(ctx, s.ID)
	if err != nil || completed {
		t.Fatalf("Next: q=%v completed=%v err=%v", q.ID, completed, err)
	}
	if q.ID != "q1" {
		t.Fatalf("first question = %s, want q1", q.ID)
	}

	fb, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1"))
	if err != nil {
		t.Fatalf("Submit q1: %v", err)
	}
	if !fb.Correct {
		t.Error("feedback should mark the answer correct")
	}
	if fb.Streak != 1 {
		t.Errorf("streak = %d, want 1", fb.Streak)
	}
	if fb.Explanation != "because q1" {
		t.Errorf("explanation = %q", fb.Explanation)
	}
	if !fb.NextReview.After(t0) {
		t.Errorf("next review %v should be in the future", fb.NextReview)
	}

	fb, err = fx.orch.Submit(ctx, s.ID, "q2", domain.Submission{QuestionID: "q2", SelectedIndices: []int{0}, ResponseTime: 10})
	if err != nil {
		t.Fatalf("Submit q2: %v", err)
	}
	if fb.Correct {
		t.Error("wrong option should be incorrect")
	}
	if fb.Streak != 0 {
		t.Errorf("streak after miss = %d, want 0", fb.Streak)
	}

	if _, completed, err := fx.orch.Next(ctx, s.ID); err != nil || !completed {
		t.Fatalf("Next after exhausting queue: completed=%v err=%v", completed, err)
	}
	if _, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1")); !errors.Is(err, ErrSessionCompleted) {
		// q1 was already answered, but the session-level check fires first.
		t.Fatalf("Submit on completed session: err = %v, want ErrSessionCompleted", err)
	}
}

func TestSubmitQuestionMismatch(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1), question("q2", "algebra", 2))

	s, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = fx.orch.Submit(context.Background(), s.ID, "q2", correctSubmission("q2"))
	if !errors.Is(err, ErrQuestionMismatch) {
		t.Fatalf("err = %v, want ErrQuestionMismatch", err)
	}
}

func TestResubmitReplaysRecordedFeedback(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1), question("q2", "algebra", 2))
	ctx := context.Background()

	s, err := fx.orch.Start(ctx, "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cardAfter := fx.cards.cards[cardKey("learner-1", "q1")]

	// A retried delivery of the same submission returns the original
	// feedback, does not advance the queue, and does not re-review the card.
	replay, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1"))
	if err != nil {
		t.Fatalf("replayed Submit: %v", err)
	}
	if !reflect.DeepEqual(replay, first) {
		t.Errorf("replayed feedback differs: %+v vs %+v", replay, first)
	}
	if got := fx.sessions.sessions[s.ID].Position; got != 1 {
		t.Errorf("position = %d, want 1", got)
	}
	if got := fx.cards.cards[cardKey("learner-1", "q1")]; got != cardAfter {
		t.Errorf("card changed on replay: %+v vs %+v", got, cardAfter)
	}
}

func TestRetryAfterFailedAdvanceRepairsSession(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1), question("q2", "algebra", 2))
	ctx := context.Background()

	s, err := fx.orch.Start(ctx, "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First delivery reviews the card and appends the report, but the
	// session update fails before the position advances.
	fx.sessions.failUpdates = 1
	if _, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1")); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	cardAfter := fx.cards.cards[cardKey("learner-1", "q1")]
	if cardAfter.Reps != 1 {
		t.Fatalf("reps after first delivery = %d, want 1", cardAfter.Reps)
	}
	if got := fx.sessions.sessions[s.ID].Position; got != 0 {
		t.Fatalf("position after failed advance = %d, want 0", got)
	}

	// The retry must not re-apply the scheduler and must unwedge the
	// queue by advancing past the recorded submission.
	fb, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1"))
	if err != nil {
		t.Fatalf("retried Submit: %v", err)
	}
	if !fb.Correct || fb.Streak != 1 {
		t.Errorf("replayed feedback = %+v", fb)
	}
	if got := fx.cards.cards[cardKey("learner-1", "q1")]; got != cardAfter {
		t.Errorf("scheduler applied twice for one submission: %+v vs %+v", got, cardAfter)
	}
	if got := fx.sessions.sessions[s.ID].Position; got != 1 {
		t.Errorf("position after retry = %d, want 1", got)
	}

	q, completed, err := fx.orch.Next(ctx, s.ID)
	if err != nil || completed {
		t.Fatalf("Next after repair: q=%v completed=%v err=%v", q.ID, completed, err)
	}
	if q.ID != "q2" {
		t.Errorf("next question = %s, want q2", q.ID)
	}
}

func TestRetryAfterFailedAdvanceCompletesSession(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1))
	ctx := context.Background()

	s, err := fx.orch.Start(ctx, "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.sessions.failUpdates = 1
	if _, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1")); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	if _, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1")); err != nil {
		t.Fatalf("retried Submit: %v", err)
	}

	if !fx.sessions.sessions[s.ID].Completed {
		t.Error("repairing past the last question should complete the session")
	}
	if _, completed, err := fx.orch.Next(ctx, s.ID); err != nil || !completed {
		t.Errorf("Next after repair: completed=%v err=%v", completed, err)
	}
}

func TestSubmitRetriesOnceOnCardConflict(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1))
	ctx := context.Background()

	c := domain.NewCard("learner-1", "q1", t0.Add(-48*time.Hour))
	c.Due = t0.Add(-time.Hour)
	if err := fx.cards.CreateCard(ctx, c); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}

	s, err := fx.orch.Start(ctx, "learner-1", domain.SessionReview, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.cards.failUpdates = 1
	if _, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1")); err != nil {
		t.Fatalf("Submit with one conflict: %v", err)
	}
	if fx.cards.updateAttempts != 2 {
		t.Errorf("update attempts = %d, want 2", fx.cards.updateAttempts)
	}

	fx2 := newFixture(t, question("q1", "algebra", 1))
	c2 := domain.NewCard("learner-1", "q1", t0.Add(-48*time.Hour))
	c2.Due = t0.Add(-time.Hour)
	if err := fx2.cards.CreateCard(ctx, c2); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	s2, err := fx2.orch.Start(ctx, "learner-1", domain.SessionReview, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx2.cards.failUpdates = 2
	if _, err := fx2.orch.Submit(ctx, s2.ID, "q1", correctSubmission("q1")); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("err = %v, want ErrConcurrentModification", err)
	}
}

func TestSessionExpiresAfterInactivity(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1))

	s, err := fx.orch.Start(context.Background(), "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	fx.clock = fx.clock.Add(3 * time.Hour)
	if _, _, err := fx.orch.Next(context.Background(), s.ID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("Next on expired session: err = %v, want ErrNoActiveSession", err)
	}
}

func TestNextOnUnknownSession(t *testing.T) {
	fx := newFixture(t)
	if _, _, err := fx.orch.Next(context.Background(), "nope"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestSubmitCreatesCardLazily(t *testing.T) {
	fx := newFixture(t, question("q1", "algebra", 1))
	ctx := context.Background()

	s, err := fx.orch.Start(ctx, "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := fx.orch.Submit(ctx, s.ID, "q1", correctSubmission("q1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	card, ok := fx.cards.cards[cardKey("learner-1", "q1")]
	if !ok {
		t.Fatal("card was not created")
	}
	if card.State == domain.StateNew {
		t.Errorf("card state = %v, want a reviewed state", card.State)
	}
	if card.Reps != 1 {
		t.Errorf("reps = %d, want 1", card.Reps)
	}
}

func TestSubmitStreakAcrossQuestions(t *testing.T) {
	fx := newFixture(t,
		question("q1", "algebra", 1),
		question("q2", "algebra", 2),
		question("q3", "algebra", 3),
	)
	ctx := context.Background()

	s, err := fx.orch.Start(ctx, "learner-1", domain.SessionInitial, []string{"algebra"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	steps := []struct {
		id     string
		pick   []int
		streak int
	}{
		{"q1", []int{1}, 1},
		{"q2", []int{0}, 0},
		{"q3", []int{1}, 1},
	}
	for _, step := range steps {
		fb, err := fx.orch.Submit(ctx, s.ID, step.id, domain.Submission{
			QuestionID: step.id, SelectedIndices: step.pick, ResponseTime: 10,
		})
		if err != nil {
			t.Fatalf("Submit %s: %v", step.id, err)
		}
		if fb.Streak != step.streak {
			t.Errorf("%s: streak = %d, want %d", step.id, fb.Streak, step.streak)
		}
	}
}
