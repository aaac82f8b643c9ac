package steps

import (
	"sort"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// Merger keeps a time-ordered step list and collapses repeated edits to the
// same field within the current uncommitted run.
//
// The run is steps[runStart:]; every step in it shares one selector. A
// non-edit step, a different selector, a commit or an out-of-order insertion
// ends it.
type Merger struct {
	steps    []models.Step
	runStart int
}

func NewMerger() *Merger {
	return &Merger{}
}

// Merge adds step and returns the stored step, its index and whether it
// replaced an earlier edit. A collapsed edit keeps the position, id and
// timestamp of the step it replaces so ordering is preserved.
func (m *Merger) Merge(step models.Step) (models.Step, int, bool) {
	if !step.Type.IsEdit() {
		idx := m.insert(step)
		m.runStart = len(m.steps)
		return step, idx, false
	}

	if n := len(m.steps); m.runStart < n && m.steps[n-1].Selector != step.Selector {
		m.runStart = n
	}

	for i := m.runStart; i < len(m.steps); i++ {
		existing := &m.steps[i]
		if existing.Selector == step.Selector {
			existing.Type = step.Type
			existing.Value = step.Value
			existing.Source = step.Source
			return *existing, i, true
		}
	}

	idx := m.insert(step)
	return step, idx, false
}

// Commit ends the current uncommitted run.
func (m *Merger) Commit() {
	m.runStart = len(m.steps)
}

func (m *Merger) Reset() {
	m.steps = nil
	m.runStart = 0
}

func (m *Merger) Len() int {
	return len(m.steps)
}

// Steps returns a copy of the merged list.
func (m *Merger) Steps() []models.Step {
	return append([]models.Step(nil), m.steps...)
}

func (m *Merger) insert(step models.Step) int {
	n := len(m.steps)
	if n == 0 || m.steps[n-1].Timestamp <= step.Timestamp {
		m.steps = append(m.steps, step)
		return n
	}
	// Ties stay in insertion order: insert after every step with ts <= step.ts.
	pos := sort.Search(n, func(i int) bool { return m.steps[i].Timestamp > step.Timestamp })
	m.steps = append(m.steps, models.Step{})
	copy(m.steps[pos+1:], m.steps[pos:])
	m.steps[pos] = step
	m.runStart = len(m.steps)
	return pos
}

// Merge is the stateless form of Merger.Merge. The uncommitted run is taken
// to be the trailing edits that share step's selector.
func Merge(steps []models.Step, step models.Step) []models.Step {
	m := &Merger{steps: append([]models.Step(nil), steps...)}
	m.runStart = len(m.steps)
	for m.runStart > 0 {
		prev := m.steps[m.runStart-1]
		if !prev.Type.IsEdit() || prev.Selector != step.Selector {
			break
		}
		m.runStart--
	}
	m.Merge(step)
	return m.steps
}
