package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pavelanni/aigpsim/internal/model"
)

// fakePersister records calls; fail makes every call error to exercise the
// best-effort contract.
type fakePersister struct {
	saves   []model.SessionState
	history []model.AttemptRecord
	clears  int
	fail    bool
}

func (p *fakePersister) SaveSnapshot(paperID string, state model.SessionState) error {
	if p.fail {
		return errors.New("storage unavailable")
	}
	p.saves = append(p.saves, state)
	return nil
}

func (p *fakePersister) ClearSnapshot(paperID string) error {
	if p.fail {
		return errors.New("storage unavailable")
	}
	p.clears++
	return nil
}

func (p *fakePersister) AppendHistory(paperID string, rec model.AttemptRecord) error {
	if p.fail {
		return errors.New("storage unavailable")
	}
	p.history = append(p.history, rec)
	return nil
}

func testPaper(t *testing.T, n int) *model.Paper {
	t.Helper()
	p := &model.Paper{ID: "p1", Title: "Practice Paper 1", Minutes: 2}
	for i := 0; i < n; i++ {
		p.Items = append(p.Items, model.Question{
			ID:           fmt.Sprintf("q%d", i+1),
			Module:       fmt.Sprintf("M%d", i%2+1),
			Stem:         "stem",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % model.OptionCount,
			Explanation:  "because",
		})
	}
	return p
}

type manualClock struct {
	t time.Time
}

func (c *manualClock) now() time.Time { return c.t }

func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func startedSession(t *testing.T, n int) (*Session, *fakePersister, *manualClock) {
	t.Helper()
	clock := &manualClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	p := &fakePersister{}
	s := New(testPaper(t, n), p, WithClock(clock.now))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, p, clock
}

func TestStart(t *testing.T) {
	s, p, clock := startedSession(t, 3)

	if s.Status() != model.StatusInProgress {
		t.Errorf("expected in_progress, got %s", s.Status())
	}
	if _, idx := s.Current(); idx != 0 {
		t.Errorf("expected index 0, got %d", idx)
	}
	if got := s.TimeRemaining(); got != 120 {
		t.Errorf("expected 120s remaining, got %d", got)
	}
	if answered, total := s.Progress(); answered != 0 || total != 3 {
		t.Errorf("expected 0/3, got %d/%d", answered, total)
	}
	if len(p.saves) != 1 {
		t.Fatalf("expected initial snapshot, got %d saves", len(p.saves))
	}
	if !p.saves[0].StartTime.Equal(clock.t) {
		t.Errorf("snapshot start time %v, want %v", p.saves[0].StartTime, clock.t)
	}
}

func TestStartEmptyPaper(t *testing.T) {
	s := New(&model.Paper{ID: "p1", Minutes: 1}, &fakePersister{})
	if err := s.Start(); !errors.Is(err, ErrEmptyPaper) {
		t.Errorf("expected ErrEmptyPaper, got %v", err)
	}
}

func TestOperationsRequireInProgress(t *testing.T) {
	s := New(testPaper(t, 2), &fakePersister{})

	if err := s.RecordAnswer("q1", 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("RecordAnswer before start: expected ErrInvalidState, got %v", err)
	}
	if err := s.JumpTo(1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("JumpTo before start: expected ErrInvalidState, got %v", err)
	}
	if err := s.Next(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Next before start: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.Submit(false); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Submit before start: expected ErrInvalidState, got %v", err)
	}
}

func TestRecordAnswer(t *testing.T) {
	s, p, _ := startedSession(t, 3)

	if err := s.RecordAnswer("q2", 3); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if idx, ok := s.AnswerFor("q2"); !ok || idx != 3 {
		t.Errorf("expected answer 3, got %d (%v)", idx, ok)
	}
	if _, idx := s.Current(); idx != 0 {
		t.Errorf("recording an answer must not move the index, got %d", idx)
	}

	// Upsert replaces the previous choice.
	if err := s.RecordAnswer("q2", 1); err != nil {
		t.Fatalf("RecordAnswer upsert: %v", err)
	}
	if idx, _ := s.AnswerFor("q2"); idx != 1 {
		t.Errorf("expected upserted answer 1, got %d", idx)
	}
	if answered, _ := s.Progress(); answered != 1 {
		t.Errorf("upsert must not double-count, got %d answered", answered)
	}

	// Each successful record persists a snapshot (initial + 2).
	if len(p.saves) != 3 {
		t.Errorf("expected 3 saves, got %d", len(p.saves))
	}

	if err := s.RecordAnswer("q2", 4); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for option 4, got %v", err)
	}
	if err := s.RecordAnswer("q2", -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for option -1, got %v", err)
	}
	if err := s.RecordAnswer("ghost", 0); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestNavigation(t *testing.T) {
	s, _, _ := startedSession(t, 3)

	if err := s.JumpTo(2); err != nil {
		t.Fatalf("JumpTo: %v", err)
	}
	if _, idx := s.Current(); idx != 2 {
		t.Errorf("expected index 2, got %d", idx)
	}

	// Next clamps at the last question.
	if err := s.Next(); err != nil {
		t.Fatalf("Next at boundary: %v", err)
	}
	if _, idx := s.Current(); idx != 2 {
		t.Errorf("Next at last question must no-op, got %d", idx)
	}

	if err := s.Previous(); err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if _, idx := s.Current(); idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}

	if err := s.JumpTo(0); err != nil {
		t.Fatalf("JumpTo 0: %v", err)
	}
	if err := s.Previous(); err != nil {
		t.Fatalf("Previous at boundary: %v", err)
	}
	if _, idx := s.Current(); idx != 0 {
		t.Errorf("Previous at first question must no-op, got %d", idx)
	}

	// JumpTo rejects out-of-range targets instead of clamping.
	if err := s.JumpTo(-1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for -1, got %v", err)
	}
	if err := s.JumpTo(3); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for 3, got %v", err)
	}
}

func TestPalette(t *testing.T) {
	s, _, _ := startedSession(t, 3)

	if err := s.RecordAnswer("q3", 0); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if err := s.JumpTo(1); err != nil {
		t.Fatalf("JumpTo: %v", err)
	}

	palette := s.Palette()
	if len(palette) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(palette))
	}
	if palette[0].Answered || palette[0].Current {
		t.Errorf("q1 flags wrong: %+v", palette[0])
	}
	if !palette[1].Current {
		t.Errorf("q2 should be current: %+v", palette[1])
	}
	if !palette[2].Answered {
		t.Errorf("q3 should be answered: %+v", palette[2])
	}
}

func TestTickCountdown(t *testing.T) {
	s, p, _ := startedSession(t, 2)

	saves := len(p.saves)
	submitted, err := s.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if submitted {
		t.Error("unexpected submission")
	}
	if s.TimeRemaining() != 119 {
		t.Errorf("expected 119s, got %d", s.TimeRemaining())
	}
	if len(p.saves) != saves+1 {
		t.Errorf("tick should persist the snapshot")
	}
}

func TestTimerExhaustionSubmitsExactlyOnce(t *testing.T) {
	clock := &manualClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	p := &fakePersister{}
	paper := testPaper(t, 2)
	s := New(paper, p, WithClock(clock.now))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Force the countdown to its final second.
	s.state.TimeRemainingSeconds = 1

	submitted, err := s.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !submitted {
		t.Fatal("expected forced submission at zero")
	}
	if s.Status() != model.StatusSubmitted {
		t.Errorf("expected submitted, got %s", s.Status())
	}
	if !s.Forced() {
		t.Error("expected forced submission")
	}
	if len(p.history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(p.history))
	}
	if !p.history[0].Forced {
		t.Error("history record should be marked forced")
	}

	// A stale tick after submission is a no-op.
	submitted, err = s.Tick()
	if err != nil {
		t.Fatalf("Tick after submit: %v", err)
	}
	if submitted {
		t.Error("second tick must not submit again")
	}
	if len(p.history) != 1 {
		t.Errorf("expected still 1 history record, got %d", len(p.history))
	}
}

func TestSubmit(t *testing.T) {
	s, p, clock := startedSession(t, 4)

	for i, item := range s.Paper().Items {
		if i == 3 {
			break // leave one unanswered
		}
		if err := s.RecordAnswer(item.ID, item.CorrectIndex); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}
	clock.advance(90 * time.Second)

	report, err := s.Submit(false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.RawScore != 3 {
		t.Errorf("expected rawScore 3, got %d", report.RawScore)
	}
	if report.TimeUsedSeconds != 90 {
		t.Errorf("expected 90s used (wall time), got %d", report.TimeUsedSeconds)
	}
	if s.Status() != model.StatusSubmitted {
		t.Errorf("expected submitted, got %s", s.Status())
	}
	if s.Report() == nil || s.Report().RawScore != 3 {
		t.Error("Report should return the produced report")
	}
	if s.Forced() {
		t.Error("explicit submission must not be marked forced")
	}
	if p.clears != 1 {
		t.Errorf("expected snapshot cleared once, got %d", p.clears)
	}
	if len(p.history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(p.history))
	}
	rec := p.history[0]
	if rec.AttemptID == "" {
		t.Error("expected attempt id on history record")
	}
	if rec.Forced {
		t.Error("history record should not be marked forced")
	}
	if !rec.Timestamp.Equal(clock.t) {
		t.Errorf("history timestamp %v, want %v", rec.Timestamp, clock.t)
	}

	// Double submit fails loudly.
	if _, err := s.Submit(false); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("expected ErrAlreadySubmitted, got %v", err)
	}

	// Post-submission mutation is rejected.
	if err := s.RecordAnswer("q1", 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after submit, got %v", err)
	}
	if err := s.JumpTo(0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after submit, got %v", err)
	}
}

func TestSubmitNoAnswers(t *testing.T) {
	s, _, _ := startedSession(t, 5)

	report, err := s.Submit(false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.RawScore != 0 || report.ScaledScore != 200 || report.Passed {
		t.Errorf("expected 0/200/fail, got %d/%d/%v",
			report.RawScore, report.ScaledScore, report.Passed)
	}
}

func TestResume(t *testing.T) {
	paper := testPaper(t, 3)
	snapshot := model.SessionState{
		PaperID:              "p1",
		CurrentQuestionIndex: 2,
		Answers:              model.AnswerMap{"q1": 1, "q3": 2},
		StartTime:            time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		TimeRemainingSeconds: 45,
	}

	s := New(paper, &fakePersister{})
	if err := s.Resume(snapshot); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.Status() != model.StatusInProgress {
		t.Errorf("expected in_progress, got %s", s.Status())
	}
	if _, idx := s.Current(); idx != 2 {
		t.Errorf("expected index 2, got %d", idx)
	}
	if answered, _ := s.Progress(); answered != 2 {
		t.Errorf("expected 2 answers, got %d", answered)
	}
	if s.TimeRemaining() != 45 {
		t.Errorf("expected 45s, got %d", s.TimeRemaining())
	}

	// Resuming a second session from the same snapshot yields the same state.
	again := New(testPaper(t, 3), &fakePersister{})
	if err := again.Resume(snapshot); err != nil {
		t.Fatalf("Resume again: %v", err)
	}
	if again.State().CurrentQuestionIndex != s.State().CurrentQuestionIndex {
		t.Error("resume is not idempotent on index")
	}
	if len(again.State().Answers) != len(s.State().Answers) {
		t.Error("resume is not idempotent on answers")
	}
}

func TestResumeClampsIndex(t *testing.T) {
	paper := testPaper(t, 3)
	snapshot := model.SessionState{
		PaperID:              "p1",
		CurrentQuestionIndex: 99,
		Answers:              model.AnswerMap{},
		StartTime:            time.Now(),
		TimeRemainingSeconds: 10,
	}

	s := New(paper, &fakePersister{})
	if err := s.Resume(snapshot); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, idx := s.Current(); idx != 2 {
		t.Errorf("expected index clamped to 2, got %d", idx)
	}
}

func TestResumeCorruptSnapshots(t *testing.T) {
	valid := model.SessionState{
		PaperID:              "p1",
		Answers:              model.AnswerMap{},
		StartTime:            time.Now(),
		TimeRemainingSeconds: 10,
	}

	tests := []struct {
		name   string
		mutate func(*model.SessionState)
	}{
		{"wrong paper", func(st *model.SessionState) { st.PaperID = "other" }},
		{"zero start time", func(st *model.SessionState) { st.StartTime = time.Time{} }},
		{"negative time remaining", func(st *model.SessionState) { st.TimeRemainingSeconds = -1 }},
		{"unknown question answer", func(st *model.SessionState) { st.Answers = model.AnswerMap{"ghost": 0} }},
		{"answer index out of range", func(st *model.SessionState) { st.Answers = model.AnswerMap{"q1": 9} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := valid
			snapshot.Answers = model.AnswerMap{}
			tt.mutate(&snapshot)

			s := New(testPaper(t, 3), &fakePersister{})
			if err := s.Resume(snapshot); !errors.Is(err, ErrCorruptSnapshot) {
				t.Errorf("expected ErrCorruptSnapshot, got %v", err)
			}
			if s.Status() != model.StatusNotStarted {
				t.Errorf("failed resume must leave session not started, got %s", s.Status())
			}
		})
	}
}

func TestAbandon(t *testing.T) {
	s, p, _ := startedSession(t, 2)

	if err := s.Abandon(true); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if s.Status() != model.StatusAbandoned {
		t.Errorf("expected abandoned, got %s", s.Status())
	}
	if p.clears != 1 {
		t.Errorf("expected snapshot cleared, got %d clears", p.clears)
	}

	// A stale tick after abandonment is a no-op.
	submitted, err := s.Tick()
	if err != nil || submitted {
		t.Errorf("tick after abandon: submitted=%v err=%v", submitted, err)
	}
	if len(p.history) != 0 {
		t.Errorf("abandon must not append history, got %d records", len(p.history))
	}
}

func TestAbandonKeepsSnapshot(t *testing.T) {
	s, p, _ := startedSession(t, 2)

	if err := s.Abandon(false); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if p.clears != 0 {
		t.Errorf("expected snapshot kept, got %d clears", p.clears)
	}
}

func TestPersistenceFailuresAreBestEffort(t *testing.T) {
	clock := &manualClock{t: time.Now()}
	p := &fakePersister{fail: true}
	s := New(testPaper(t, 2), p, WithClock(clock.now))

	if err := s.Start(); err != nil {
		t.Fatalf("Start with failing store: %v", err)
	}
	if err := s.RecordAnswer("q1", 0); err != nil {
		t.Fatalf("RecordAnswer with failing store: %v", err)
	}
	if _, err := s.Tick(); err != nil {
		t.Fatalf("Tick with failing store: %v", err)
	}
	if _, err := s.Submit(false); err != nil {
		t.Fatalf("Submit with failing store: %v", err)
	}
	if s.Status() != model.StatusSubmitted {
		t.Errorf("expected submitted despite storage failures, got %s", s.Status())
	}
}
