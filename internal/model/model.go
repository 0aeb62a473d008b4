package model

import "time"

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// PassingScaledScore is the minimum scaled score required to pass.
const PassingScaledScore = 300

// SessionStatus represents the lifecycle state of an exam attempt.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusSubmitted  SessionStatus = "submitted"
	StatusAbandoned  SessionStatus = "abandoned"
)

// PaperSummary is one entry of the question-bank manifest.
type PaperSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Questions   int    `json:"questions"`
	Minutes     int    `json:"minutes"`
}

// Manifest lists the papers available in a question bank.
type Manifest struct {
	Papers []PaperSummary `json:"papers"`
}

// Scenario is shared narrative context attached to one or more questions.
type Scenario struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Question is a single multiple-choice item within a paper.
// Options order is significant and fixed; CorrectIndex refers to position.
type Question struct {
	ID              string    `json:"id"`
	Module          string    `json:"module"`
	Stem            string    `json:"stem"`
	Options         []string  `json:"options"`
	CorrectIndex    int       `json:"correctIndex"`
	Explanation     string    `json:"explanation"`
	ScenarioID      string    `json:"scenarioId,omitempty"`
	ScenarioContext *Scenario `json:"scenarioContext,omitempty"`
}

// Paper is one complete exam definition. Immutable once loaded.
type Paper struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Minutes   int                 `json:"minutes"`
	Items     []Question          `json:"items"`
	Scenarios map[string]Scenario `json:"scenarios,omitempty"`
}

// AnswerMap maps a question ID to the selected option index.
// Unanswered questions have no entry; absence is not index 0.
type AnswerMap map[string]int

// SessionState is the durable snapshot of an in-progress attempt.
// It round-trips losslessly through JSON.
type SessionState struct {
	PaperID              string    `json:"paperId"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	Answers              AnswerMap `json:"answers"`
	StartTime            time.Time `json:"startTime"`
	TimeRemainingSeconds int       `json:"timeRemainingSeconds"`
}

// ModuleScore is the per-module correctness breakdown.
type ModuleScore struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// ScoreReport is the result of scoring one attempt. Immutable once produced.
type ScoreReport struct {
	PaperID         string                 `json:"paperId"`
	PaperTitle      string                 `json:"paperTitle"`
	RawScore        int                    `json:"rawScore"`
	TotalQuestions  int                    `json:"totalQuestions"`
	Percentage      int                    `json:"percentage"`
	ScaledScore     int                    `json:"scaledScore"`
	ModuleScores    map[string]ModuleScore `json:"moduleScores"`
	TimeUsedSeconds int                    `json:"timeUsedSeconds"`
	Passed          bool                   `json:"passed"`
}

// AttemptRecord is one entry of the per-paper history log.
type AttemptRecord struct {
	AttemptID string      `json:"attemptId"`
	Timestamp time.Time   `json:"ts"`
	Forced    bool        `json:"forced"`
	Report    ScoreReport `json:"report"`
}

// SimConfig holds runtime parameters set via CLI flags.
type SimConfig struct {
	BanksDir    string // directory holding index.json and paper documents
	Lang        string // UI language (en, ru)
	HistoryKeep int    // attempts kept per paper, 0 = unlimited
}
