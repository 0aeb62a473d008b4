// Package bank loads the question-bank manifest and paper documents and
// resolves scenario references onto their questions.
package bank

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pavelanni/aigpsim/internal/model"
)

// ErrDataLoad indicates a manifest or paper that could not be fetched or
// parsed. Fatal to starting or resuming that paper.
var ErrDataLoad = errors.New("question bank data unavailable")

const manifestFile = "index.json"

// Loader reads exam papers from a question-bank file tree.
type Loader struct {
	fsys fs.FS

	mu     sync.Mutex
	papers map[string]*model.Paper // papers are immutable once loaded
}

// NewLoader creates a Loader over the given bank filesystem.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys, papers: make(map[string]*model.Paper)}
}

// Manifest reads and validates the bank index.
func (l *Loader) Manifest() (*model.Manifest, error) {
	raw, err := fs.ReadFile(l.fsys, manifestFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrDataLoad, err)
	}
	if err := validateDocument("manifest", manifestSchema, raw); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrDataLoad, err)
	}
	var m model.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrDataLoad, err)
	}
	return &m, nil
}

// Paper loads a paper by id, validates it, and resolves each item's
// scenario reference into its ScenarioContext. Loaded papers are cached.
func (l *Loader) Paper(id string) (*model.Paper, error) {
	l.mu.Lock()
	if p, ok := l.papers[id]; ok {
		l.mu.Unlock()
		return p, nil
	}
	l.mu.Unlock()

	raw, err := fs.ReadFile(l.fsys, id+".json")
	if err != nil {
		return nil, fmt.Errorf("%w: read paper %s: %v", ErrDataLoad, id, err)
	}
	if err := validateDocument("paper", paperSchema, raw); err != nil {
		return nil, fmt.Errorf("%w: paper %s: %v", ErrDataLoad, id, err)
	}
	var p model.Paper
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: parse paper %s: %v", ErrDataLoad, id, err)
	}

	if err := resolve(&p); err != nil {
		return nil, fmt.Errorf("%w: paper %s: %v", ErrDataLoad, id, err)
	}

	l.mu.Lock()
	l.papers[id] = &p
	l.mu.Unlock()
	return &p, nil
}

// resolve attaches scenario context to questions and checks cross-references
// the schema cannot express.
func resolve(p *model.Paper) error {
	seen := make(map[string]bool, len(p.Items))
	for i := range p.Items {
		item := &p.Items[i]
		if seen[item.ID] {
			return fmt.Errorf("duplicate question id %s", item.ID)
		}
		seen[item.ID] = true

		if item.ScenarioID == "" {
			continue
		}
		sc, ok := p.Scenarios[item.ScenarioID]
		if !ok {
			return fmt.Errorf("question %s references unknown scenario %s", item.ID, item.ScenarioID)
		}
		item.ScenarioContext = &sc
	}
	return nil
}
