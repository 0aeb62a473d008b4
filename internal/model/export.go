package model

// HistoryExport is the top-level JSON structure for the export command.
type HistoryExport struct {
	BankDir  string        `json:"bank_dir,omitempty"`
	Papers   []PaperExport `json:"papers"`
	Attempts int           `json:"attempts"`
}

// PaperExport holds the attempt history of one paper.
type PaperExport struct {
	PaperID string          `json:"paper_id"`
	History []AttemptRecord `json:"history"`
}
