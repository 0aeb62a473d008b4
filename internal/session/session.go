// Package session owns the lifecycle of a single exam attempt: answer
// recording, navigation, the countdown timer, and submission.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/aigpsim/internal/model"
	"github.com/pavelanni/aigpsim/internal/score"
)

var (
	// ErrInvalidState is returned when an operation is called outside the
	// session state it is valid in. A programming or wiring error.
	ErrInvalidState = errors.New("operation invalid in current session state")
	// ErrAlreadySubmitted guards against double submission.
	ErrAlreadySubmitted = errors.New("exam already submitted")
	// ErrCorruptSnapshot is returned by Resume for an unusable snapshot;
	// the caller should discard it and start fresh.
	ErrCorruptSnapshot = errors.New("corrupt session snapshot")
	// ErrOutOfRange rejects an index outside its valid range.
	ErrOutOfRange = errors.New("index out of range")
	// ErrUnknownQuestion rejects an answer for a question not in the paper.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrEmptyPaper rejects starting an exam on a paper with no questions.
	ErrEmptyPaper = errors.New("paper has no questions")
)

// Persister stores session snapshots and finished attempts. Failures are
// treated as best-effort by the session: logged, never fatal.
type Persister interface {
	SaveSnapshot(paperID string, state model.SessionState) error
	ClearSnapshot(paperID string) error
	AppendHistory(paperID string, rec model.AttemptRecord) error
}

// PaletteEntry is the per-question status used to render the navigation grid.
type PaletteEntry struct {
	Index      int    `json:"index"`
	QuestionID string `json:"questionId"`
	Answered   bool   `json:"answered"`
	Current    bool   `json:"current"`
}

// Session is the single source of truth for an in-progress attempt.
// It is not safe for concurrent use; callers serialize access.
type Session struct {
	paper     *model.Paper
	persister Persister

	status model.SessionStatus
	state  model.SessionState
	report *model.ScoreReport
	forced bool

	now func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock injects a time source, letting tests simulate time.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session for the given paper. Call Start or Resume next.
func New(paper *model.Paper, p Persister, opts ...Option) *Session {
	s := &Session{
		paper:     paper,
		persister: p,
		status:    model.StatusNotStarted,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a fresh attempt and persists the initial snapshot.
func (s *Session) Start() error {
	if s.status != model.StatusNotStarted {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s.status)
	}
	if len(s.paper.Items) == 0 {
		return ErrEmptyPaper
	}
	s.state = model.SessionState{
		PaperID:              s.paper.ID,
		CurrentQuestionIndex: 0,
		Answers:              make(model.AnswerMap),
		StartTime:            s.now(),
		TimeRemainingSeconds: s.paper.Minutes * 60,
	}
	s.status = model.StatusInProgress
	s.persist()
	return nil
}

// Resume restores an attempt from a snapshot. The question index is clamped
// into range; anything structurally unusable fails with ErrCorruptSnapshot
// and the caller must fall back to Start.
func (s *Session) Resume(snapshot model.SessionState) error {
	if s.status != model.StatusNotStarted {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, s.status)
	}
	if len(s.paper.Items) == 0 {
		return ErrEmptyPaper
	}
	if snapshot.PaperID != s.paper.ID {
		return fmt.Errorf("%w: snapshot is for paper %s, not %s", ErrCorruptSnapshot, snapshot.PaperID, s.paper.ID)
	}
	if snapshot.StartTime.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrCorruptSnapshot)
	}
	if snapshot.TimeRemainingSeconds < 0 {
		return fmt.Errorf("%w: negative time remaining", ErrCorruptSnapshot)
	}

	known := make(map[string]bool, len(s.paper.Items))
	for _, item := range s.paper.Items {
		known[item.ID] = true
	}
	answers := make(model.AnswerMap, len(snapshot.Answers))
	for id, idx := range snapshot.Answers {
		if !known[id] {
			return fmt.Errorf("%w: answer for unknown question %s", ErrCorruptSnapshot, id)
		}
		if idx < 0 || idx >= model.OptionCount {
			return fmt.Errorf("%w: answer index %d for question %s", ErrCorruptSnapshot, idx, id)
		}
		answers[id] = idx
	}

	index := snapshot.CurrentQuestionIndex
	if index < 0 {
		index = 0
	}
	if index > len(s.paper.Items)-1 {
		index = len(s.paper.Items) - 1
	}

	s.state = model.SessionState{
		PaperID:              snapshot.PaperID,
		CurrentQuestionIndex: index,
		Answers:              answers,
		StartTime:            snapshot.StartTime,
		TimeRemainingSeconds: snapshot.TimeRemainingSeconds,
	}
	s.status = model.StatusInProgress
	return nil
}

// RecordAnswer upserts the selected option for a question. The current
// question index does not change.
func (s *Session) RecordAnswer(questionID string, optionIndex int) error {
	if s.status != model.StatusInProgress {
		return fmt.Errorf("%w: answer in %s", ErrInvalidState, s.status)
	}
	if optionIndex < 0 || optionIndex >= model.OptionCount {
		return fmt.Errorf("%w: option index %d", ErrOutOfRange, optionIndex)
	}
	found := false
	for _, item := range s.paper.Items {
		if item.ID == questionID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	s.state.Answers[questionID] = optionIndex
	s.persist()
	return nil
}

// JumpTo moves to an explicit question index. Out-of-range targets are
// rejected, not clamped.
func (s *Session) JumpTo(target int) error {
	if s.status != model.StatusInProgress {
		return fmt.Errorf("%w: navigate in %s", ErrInvalidState, s.status)
	}
	if target < 0 || target >= len(s.paper.Items) {
		return fmt.Errorf("%w: question index %d", ErrOutOfRange, target)
	}
	s.state.CurrentQuestionIndex = target
	s.persist()
	return nil
}

// Next advances one question, no-op at the last one.
func (s *Session) Next() error {
	if s.status != model.StatusInProgress {
		return fmt.Errorf("%w: navigate in %s", ErrInvalidState, s.status)
	}
	if s.state.CurrentQuestionIndex < len(s.paper.Items)-1 {
		s.state.CurrentQuestionIndex++
		s.persist()
	}
	return nil
}

// Previous moves back one question, no-op at the first one.
func (s *Session) Previous() error {
	if s.status != model.StatusInProgress {
		return fmt.Errorf("%w: navigate in %s", ErrInvalidState, s.status)
	}
	if s.state.CurrentQuestionIndex > 0 {
		s.state.CurrentQuestionIndex--
		s.persist()
	}
	return nil
}

// Tick consumes one second of exam time. At zero it forces submission
// exactly once. Outside InProgress it is a no-op, so a stale timer firing
// after submission or abandonment is harmless.
func (s *Session) Tick() (submitted bool, err error) {
	if s.status != model.StatusInProgress {
		return false, nil
	}
	s.state.TimeRemainingSeconds--
	if s.state.TimeRemainingSeconds <= 0 {
		s.state.TimeRemainingSeconds = 0
		if _, err := s.Submit(true); err != nil {
			return false, err
		}
		return true, nil
	}
	s.persist()
	return false, nil
}

// Submit freezes the attempt, scores it, appends the result to history, and
// clears the persisted snapshot. forced marks timer-driven submission; the
// session itself never gates on unanswered questions.
func (s *Session) Submit(forced bool) (*model.ScoreReport, error) {
	switch s.status {
	case model.StatusSubmitted:
		return nil, ErrAlreadySubmitted
	case model.StatusInProgress:
	default:
		return nil, fmt.Errorf("%w: submit in %s", ErrInvalidState, s.status)
	}

	timeUsed := s.paper.Minutes*60 - s.state.TimeRemainingSeconds
	if !s.state.StartTime.IsZero() {
		if elapsed := int(s.now().Sub(s.state.StartTime).Seconds()); elapsed >= 0 {
			timeUsed = elapsed
		}
	}

	report, err := score.Score(s.paper, s.state.Answers, timeUsed)
	if err != nil {
		return nil, fmt.Errorf("score attempt: %w", err)
	}

	s.status = model.StatusSubmitted
	s.report = &report
	s.forced = forced

	rec := model.AttemptRecord{
		AttemptID: uuid.NewString(),
		Timestamp: s.now(),
		Forced:    forced,
		Report:    report,
	}
	if err := s.persister.AppendHistory(s.paper.ID, rec); err != nil {
		slog.Warn("failed to append attempt history", "paper", s.paper.ID, "error", err)
	}
	if err := s.persister.ClearSnapshot(s.paper.ID); err != nil {
		slog.Warn("failed to clear snapshot", "paper", s.paper.ID, "error", err)
	}
	return s.report, nil
}

// Abandon cancels the attempt. Not a failure path: the caller returns to the
// picker and may keep the snapshot around for a later resume.
func (s *Session) Abandon(clearSnapshot bool) error {
	if s.status != model.StatusInProgress {
		return fmt.Errorf("%w: abandon in %s", ErrInvalidState, s.status)
	}
	s.status = model.StatusAbandoned
	if clearSnapshot {
		if err := s.persister.ClearSnapshot(s.paper.ID); err != nil {
			slog.Warn("failed to clear snapshot", "paper", s.paper.ID, "error", err)
		}
	}
	return nil
}

// persist mirrors the live state as a snapshot, best-effort.
func (s *Session) persist() {
	if err := s.persister.SaveSnapshot(s.paper.ID, s.state); err != nil {
		slog.Warn("failed to save snapshot", "paper", s.paper.ID, "error", err)
	}
}

// Status returns the session lifecycle state.
func (s *Session) Status() model.SessionStatus { return s.status }

// Paper returns the paper this session runs.
func (s *Session) Paper() *model.Paper { return s.paper }

// Current returns the current question and its index.
func (s *Session) Current() (model.Question, int) {
	return s.paper.Items[s.state.CurrentQuestionIndex], s.state.CurrentQuestionIndex
}

// Progress reports answered and total question counts.
func (s *Session) Progress() (answered, total int) {
	return len(s.state.Answers), len(s.paper.Items)
}

// TimeRemaining returns the remaining exam seconds.
func (s *Session) TimeRemaining() int { return s.state.TimeRemainingSeconds }

// AnswerFor returns the recorded option index for a question, if any.
func (s *Session) AnswerFor(questionID string) (int, bool) {
	idx, ok := s.state.Answers[questionID]
	return idx, ok
}

// Palette returns the per-question answered/current flags for rendering.
func (s *Session) Palette() []PaletteEntry {
	entries := make([]PaletteEntry, len(s.paper.Items))
	for i, item := range s.paper.Items {
		_, answered := s.state.Answers[item.ID]
		entries[i] = PaletteEntry{
			Index:      i,
			QuestionID: item.ID,
			Answered:   answered,
			Current:    i == s.state.CurrentQuestionIndex,
		}
	}
	return entries
}

// Report returns the score report, or nil before submission.
func (s *Session) Report() *model.ScoreReport { return s.report }

// Forced reports whether the submission was timer-driven.
func (s *Session) Forced() bool { return s.forced }

// State returns a copy of the live session state.
func (s *Session) State() model.SessionState {
	state := s.state
	state.Answers = make(model.AnswerMap, len(s.state.Answers))
	for id, idx := range s.state.Answers {
		state.Answers[id] = idx
	}
	return state
}
