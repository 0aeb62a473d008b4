// Package handler exposes the exam simulator's presentation intents as a
// JSON API and drives the exam countdown.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/aigpsim/internal/bank"
	"github.com/pavelanni/aigpsim/internal/i18n"
	"github.com/pavelanni/aigpsim/internal/model"
	"github.com/pavelanni/aigpsim/internal/session"
	"github.com/pavelanni/aigpsim/internal/store"
)

// persister adapts the store to the session's Persister interface, carrying
// the history retention setting.
type persister struct {
	store *store.Store
	keep  int
}

func (p persister) SaveSnapshot(paperID string, state model.SessionState) error {
	return p.store.SaveSnapshot(paperID, state)
}

func (p persister) ClearSnapshot(paperID string) error {
	return p.store.ClearSnapshot(paperID)
}

func (p persister) AppendHistory(paperID string, rec model.AttemptRecord) error {
	return p.store.AppendHistory(paperID, rec, p.keep)
}

// activeExam pairs a live session with its timer stop channel.
type activeExam struct {
	paperID string
	sess    *session.Session
	stop    chan struct{}
	once    sync.Once
}

func (a *activeExam) stopTimer() {
	a.once.Do(func() { close(a.stop) })
}

// Handler holds shared dependencies for HTTP handlers. All session access is
// serialized behind mu: one active exam at a time, single-writer per paper.
type Handler struct {
	loader *bank.Loader
	store  *store.Store
	config model.SimConfig

	tick time.Duration // timer interval; 0 disables the timer (tests)

	mu     sync.Mutex
	active *activeExam
}

// New creates a new Handler.
func New(l *bank.Loader, s *store.Store, cfg model.SimConfig) *Handler {
	return &Handler{loader: l, store: s, config: cfg, tick: time.Second}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/papers", h.handlePapers)
	r.Get("/api/resume", h.handleUnfinished)
	r.Route("/api/exam/{paperID}", func(r chi.Router) {
		r.Post("/start", h.handleStart)
		r.Post("/resume", h.handleResume)
		r.Post("/abandon", h.handleAbandon)
		r.Get("/", h.handleView)
		r.Post("/answer", h.handleAnswer)
		r.Post("/navigate", h.handleNavigate)
		r.Post("/submit", h.handleSubmit)
		r.Get("/result", h.handleResult)
		r.Get("/history", h.handleHistory)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a JSON request body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) handlePapers(w http.ResponseWriter, r *http.Request) {
	m, err := h.loader.Manifest()
	if err != nil {
		slog.Error("load manifest", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// resumeOffer is the startup "continue where you left off" payload.
type resumeOffer struct {
	PaperID  string              `json:"paperId"`
	Title    string              `json:"title"`
	Message  string              `json:"message"`
	Snapshot *model.SessionState `json:"snapshot"`
}

func (h *Handler) handleUnfinished(w http.ResponseWriter, r *http.Request) {
	m, err := h.loader.Manifest()
	if err != nil {
		slog.Error("load manifest", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	paperIDs := make([]string, len(m.Papers))
	titles := make(map[string]string, len(m.Papers))
	for i, p := range m.Papers {
		paperIDs[i] = p.ID
		titles[p.ID] = p.Title
	}

	paperID, state, err := h.store.FindAnyUnfinished(paperIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if paperID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"unfinished": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unfinished": resumeOffer{
		PaperID:  paperID,
		Title:    titles[paperID],
		Message:  i18n.Td(r.Context(), "ResumeAvailable", map[string]any{"Title": titles[paperID]}),
		Snapshot: state,
	}})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active != nil && h.active.sess.Status() == model.StatusInProgress && h.active.paperID != paperID {
		writeError(w, http.StatusConflict, i18n.T(r.Context(), "AnotherExamActive"))
		return
	}

	paper, err := h.loader.Paper(paperID)
	if err != nil {
		slog.Error("load paper", "paper", paperID, "error", err)
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "PaperNotFound"))
		return
	}

	// Restarting the same paper abandons the previous attempt.
	if h.active != nil && h.active.sess.Status() == model.StatusInProgress {
		h.active.stopTimer()
		if err := h.active.sess.Abandon(true); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	sess := session.New(paper, persister{store: h.store, keep: h.config.HistoryKeep})
	if err := sess.Start(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.activate(paperID, sess)
	slog.Info("exam started", "paper", paperID, "questions", len(paper.Items), "minutes", paper.Minutes)
	writeJSON(w, http.StatusCreated, examView(h.active.sess))
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active != nil && h.active.sess.Status() == model.StatusInProgress {
		writeError(w, http.StatusConflict, i18n.T(r.Context(), "AnotherExamActive"))
		return
	}

	paper, err := h.loader.Paper(paperID)
	if err != nil {
		slog.Error("load paper", "paper", paperID, "error", err)
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "PaperNotFound"))
		return
	}

	snapshot, err := h.store.LoadSnapshot(paperID)
	if errors.Is(err, store.ErrCorruptSnapshot) {
		h.discardSnapshot(paperID)
		writeError(w, http.StatusGone, i18n.T(r.Context(), "SnapshotDiscarded"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snapshot == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "NoSnapshot"))
		return
	}

	sess := session.New(paper, persister{store: h.store, keep: h.config.HistoryKeep})
	if err := sess.Resume(*snapshot); err != nil {
		if errors.Is(err, session.ErrCorruptSnapshot) {
			h.discardSnapshot(paperID)
			writeError(w, http.StatusGone, i18n.T(r.Context(), "SnapshotDiscarded"))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.activate(paperID, sess)
	slog.Info("exam resumed", "paper", paperID, "remaining_seconds", sess.TimeRemaining())
	writeJSON(w, http.StatusOK, examView(sess))
}

// activate replaces the active exam and starts its timer. Callers hold mu.
func (h *Handler) activate(paperID string, sess *session.Session) {
	if h.active != nil {
		h.active.stopTimer()
	}
	a := &activeExam{paperID: paperID, sess: sess, stop: make(chan struct{})}
	h.active = a
	h.runTimer(a)
}

// runTimer drives Tick once per interval until the session leaves
// InProgress or the exam is replaced.
func (h *Handler) runTimer(a *activeExam) {
	if h.tick <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(h.tick)
		defer t.Stop()
		for {
			select {
			case <-a.stop:
				return
			case <-t.C:
				h.mu.Lock()
				if h.active != a || a.sess.Status() != model.StatusInProgress {
					h.mu.Unlock()
					return
				}
				submitted, err := a.sess.Tick()
				if err != nil {
					slog.Error("timer tick", "paper", a.paperID, "error", err)
				}
				if submitted {
					slog.Info("exam auto-submitted on timeout", "paper", a.paperID)
					h.mu.Unlock()
					return
				}
				h.mu.Unlock()
			}
		}
	}()
}

// discardSnapshot clears an unreadable snapshot so the next start is clean.
func (h *Handler) discardSnapshot(paperID string) {
	if err := h.store.ClearSnapshot(paperID); err != nil {
		slog.Warn("failed to discard snapshot", "paper", paperID, "error", err)
	}
}

// activeFor returns the live session for a paper. Callers hold mu.
func (h *Handler) activeFor(paperID string) *session.Session {
	if h.active == nil || h.active.paperID != paperID {
		return nil
	}
	return h.active.sess
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.activeFor(paperID)
	if sess == nil || sess.Status() != model.StatusInProgress {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ExamNotActive"))
		return
	}
	writeJSON(w, http.StatusOK, examView(sess))
}

type answerRequest struct {
	QuestionID  string `json:"questionId"`
	OptionIndex int    `json:"optionIndex"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.activeFor(paperID)
	if sess == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ExamNotActive"))
		return
	}
	if err := sess.RecordAnswer(req.QuestionID, req.OptionIndex); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, examView(sess))
}

type navigateRequest struct {
	Action string `json:"action"` // next, previous, jump
	Target *int   `json:"target,omitempty"`
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	var req navigateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.activeFor(paperID)
	if sess == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ExamNotActive"))
		return
	}

	var err error
	switch req.Action {
	case "next":
		err = sess.Next()
	case "previous":
		err = sess.Previous()
	case "jump":
		if req.Target == nil {
			writeError(w, http.StatusBadRequest, "jump requires a target index")
			return
		}
		err = sess.JumpTo(*req.Target)
	default:
		writeError(w, http.StatusBadRequest, "unknown navigate action")
		return
	}
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, examView(sess))
}

type submitRequest struct {
	Confirmed bool `json:"confirmed"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.activeFor(paperID)
	if sess == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ExamNotActive"))
		return
	}

	// The session never gates on unanswered questions; the confirmation
	// split lives here in the presentation layer.
	answered, total := sess.Progress()
	if answered < total && !req.Confirmed && sess.Status() == model.StatusInProgress {
		writeError(w, http.StatusConflict, i18n.Td(r.Context(), "SubmitUnanswered",
			map[string]any{"Answered": answered, "Total": total}))
		return
	}

	report, err := sess.Submit(false)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.active.stopTimer()
	slog.Info("exam submitted", "paper", paperID, "raw_score", report.RawScore, "scaled_score", report.ScaledScore, "passed", report.Passed)
	writeJSON(w, http.StatusOK, resultView(r, sess))
}

type abandonRequest struct {
	Clear bool `json:"clear"`
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	var req abandonRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.activeFor(paperID)
	if sess == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ExamNotActive"))
		return
	}
	if err := sess.Abandon(req.Clear); err != nil {
		writeSessionError(w, r, err)
		return
	}
	h.active.stopTimer()
	h.active = nil
	slog.Info("exam abandoned", "paper", paperID, "snapshot_cleared", req.Clear)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.activeFor(paperID)
	if sess == nil || sess.Report() == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ExamNotActive"))
		return
	}
	writeJSON(w, http.StatusOK, resultView(r, sess))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")

	hist, err := h.store.ListHistory(paperID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hist == nil {
		hist = []model.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// writeSessionError maps session errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, i18n.T(r.Context(), "ExamAlreadySubmitted"))
	case errors.Is(err, session.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrOutOfRange), errors.Is(err, session.ErrUnknownQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
