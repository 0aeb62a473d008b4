package handler

import (
	"net/http"

	"github.com/pavelanni/aigpsim/internal/i18n"
	"github.com/pavelanni/aigpsim/internal/model"
	"github.com/pavelanni/aigpsim/internal/session"
)

// questionView is the current question as shown while the exam runs. The
// answer key and explanation are withheld until submission.
type questionView struct {
	ID       string          `json:"id"`
	Module   string          `json:"module"`
	Stem     string          `json:"stem"`
	Options  []string        `json:"options"`
	Scenario *model.Scenario `json:"scenario,omitempty"`
	Selected *int            `json:"selected,omitempty"`
}

type progressView struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// view is the read-only session state the presentation layer renders from.
type view struct {
	PaperID              string                 `json:"paperId"`
	PaperTitle           string                 `json:"paperTitle"`
	Status               model.SessionStatus    `json:"status"`
	QuestionIndex        int                    `json:"questionIndex"`
	Question             questionView           `json:"question"`
	Progress             progressView           `json:"progress"`
	TimeRemainingSeconds int                    `json:"timeRemainingSeconds"`
	Palette              []session.PaletteEntry `json:"palette"`
}

func examView(sess *session.Session) view {
	q, idx := sess.Current()
	answered, total := sess.Progress()

	qv := questionView{
		ID:       q.ID,
		Module:   q.Module,
		Stem:     q.Stem,
		Options:  q.Options,
		Scenario: q.ScenarioContext,
	}
	if sel, ok := sess.AnswerFor(q.ID); ok {
		qv.Selected = &sel
	}

	return view{
		PaperID:              sess.Paper().ID,
		PaperTitle:           sess.Paper().Title,
		Status:               sess.Status(),
		QuestionIndex:        idx,
		Question:             qv,
		Progress:             progressView{Answered: answered, Total: total},
		TimeRemainingSeconds: sess.TimeRemaining(),
		Palette:              sess.Palette(),
	}
}

// reviewItem is one question of the post-submission review, answer key
// included.
type reviewItem struct {
	Index        int             `json:"index"`
	QuestionID   string          `json:"questionId"`
	Module       string          `json:"module"`
	Stem         string          `json:"stem"`
	Options      []string        `json:"options"`
	Scenario     *model.Scenario `json:"scenario,omitempty"`
	Selected     *int            `json:"selected,omitempty"`
	CorrectIndex int             `json:"correctIndex"`
	Correct      bool            `json:"correct"`
	Explanation  string          `json:"explanation"`
}

type result struct {
	Report model.ScoreReport `json:"report"`
	Label  string            `json:"label"`
	Forced bool              `json:"forced"`
	Review []reviewItem      `json:"review"`
}

func resultView(r *http.Request, sess *session.Session) result {
	report := sess.Report()

	label := i18n.T(r.Context(), "ResultFail")
	if report.Passed {
		label = i18n.T(r.Context(), "ResultPass")
	}

	items := make([]reviewItem, len(sess.Paper().Items))
	for i, q := range sess.Paper().Items {
		item := reviewItem{
			Index:        i,
			QuestionID:   q.ID,
			Module:       q.Module,
			Stem:         q.Stem,
			Options:      q.Options,
			Scenario:     q.ScenarioContext,
			CorrectIndex: q.CorrectIndex,
			Explanation:  q.Explanation,
		}
		if sel, ok := sess.AnswerFor(q.ID); ok {
			item.Selected = &sel
			item.Correct = sel == q.CorrectIndex
		}
		items[i] = item
	}

	return result{
		Report: *report,
		Label:  label,
		Forced: sess.Forced(),
		Review: items,
	}
}
