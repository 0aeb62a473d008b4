// Package score grades a finished attempt against a paper's answer key.
package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/pavelanni/aigpsim/internal/model"
)

// ErrMalformedPaper indicates paper data that violates scoring preconditions.
var ErrMalformedPaper = errors.New("malformed paper")

// Score computes the report for one attempt. It is pure: identical
// (paper, answers) inputs always yield an identical report except for
// timeUsedSeconds. Unanswered questions count as incorrect.
func Score(paper *model.Paper, answers model.AnswerMap, timeUsedSeconds int) (model.ScoreReport, error) {
	if paper == nil || len(paper.Items) == 0 {
		return model.ScoreReport{}, fmt.Errorf("%w: paper has no items", ErrMalformedPaper)
	}

	total := len(paper.Items)
	raw := 0
	moduleScores := make(map[string]model.ModuleScore)

	for _, item := range paper.Items {
		if item.Module == "" {
			return model.ScoreReport{}, fmt.Errorf("%w: question %s has no module", ErrMalformedPaper, item.ID)
		}
		if item.CorrectIndex < 0 || item.CorrectIndex >= model.OptionCount {
			return model.ScoreReport{}, fmt.Errorf("%w: question %s correctIndex %d out of range",
				ErrMalformedPaper, item.ID, item.CorrectIndex)
		}

		ms := moduleScores[item.Module]
		ms.Total++
		if idx, ok := answers[item.ID]; ok && idx == item.CorrectIndex {
			raw++
			ms.Correct++
		}
		moduleScores[item.Module] = ms
	}

	ratio := float64(raw) / float64(total)
	return model.ScoreReport{
		PaperID:         paper.ID,
		PaperTitle:      paper.Title,
		RawScore:        raw,
		TotalQuestions:  total,
		Percentage:      int(math.Round(ratio * 100)),
		ScaledScore:     scaled(raw, total),
		ModuleScores:    moduleScores,
		TimeUsedSeconds: timeUsedSeconds,
		Passed:          scaled(raw, total) >= model.PassingScaledScore,
	}, nil
}

// scaled maps raw correctness onto the 200-500 scale, rounding half up.
func scaled(raw, total int) int {
	return int(math.Round(200 + 300*float64(raw)/float64(total)))
}
