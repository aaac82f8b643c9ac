// Package steps converts raw capture events into canonical steps and merges
// them into one ordered step list per recording.
package steps

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// ErrMalformedStep is returned when a raw event cannot become a step. The
// event is dropped and recording continues.
var ErrMalformedStep = errors.New("malformed step")

// CommitEvent is the raw event type that closes the current edit burst
// without producing a step (a field blur).
const CommitEvent = "blur"

// IsCommit reports whether ev is a commit event. Matching follows Normalize:
// surrounding space and case are ignored.
func IsCommit(ev models.RawEvent) bool {
	return strings.EqualFold(strings.TrimSpace(ev.Type), CommitEvent)
}

var rawTypes = map[string]models.StepType{
	"navigate":      models.StepNavigate,
	"navigation":    models.StepNavigate,
	"goto":          models.StepNavigate,
	"click":         models.StepClick,
	"dblclick":      models.StepClick,
	"tap":           models.StepClick,
	"touchstart":    models.StepClick,
	"fill":          models.StepFill,
	"input":         models.StepFill,
	"change":        models.StepFill,
	"type":          models.StepTypeText,
	"keyboardtype":  models.StepTypeText,
	"select":        models.StepSelect,
	"selectoption":  models.StepSelect,
	"select_option": models.StepSelect,
	"check":         models.StepCheck,
	"uncheck":       models.StepUncheck,
	"press":         models.StepPress,
	"keydown":       models.StepPress,
	"keypress":      models.StepPress,
	"keyboardpress": models.StepPress,
	"submit":        models.StepSubmit,
}

// Normalizer assigns ids and capture timestamps. It is safe for concurrent use.
type Normalizer struct {
	mu    sync.Mutex
	last  int64
	now   func() time.Time
	newID func() string
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now, newID: uuid.NewString}
}

// Normalize converts ev into a step attributed to src.
func (n *Normalizer) Normalize(ev models.RawEvent, src models.Source) (models.Step, error) {
	raw := strings.ToLower(strings.TrimSpace(ev.Type))
	typ, ok := rawTypes[raw]
	if !ok {
		return models.Step{}, fmt.Errorf("%w: unsupported event type %q", ErrMalformedStep, ev.Type)
	}
	if raw == "change" && ev.Checked != nil {
		typ = models.StepUncheck
		if *ev.Checked {
			typ = models.StepCheck
		}
	}

	step := models.Step{
		Type:      typ,
		Selector:  strings.TrimSpace(ev.Selector),
		Source:    src,
		Timestamp: ev.Timestamp,
	}

	switch typ {
	case models.StepNavigate:
		step.Value = firstNonEmpty(ev.URL, ev.Value, ev.Text)
		if strings.TrimSpace(step.Value) == "" {
			return models.Step{}, fmt.Errorf("%w: navigate without url", ErrMalformedStep)
		}
	case models.StepTypeText:
		step.Value = firstNonEmpty(ev.Text, ev.Value)
	case models.StepPress:
		step.Value = firstNonEmpty(ev.Value, ev.Text)
		if step.Value == "" {
			return models.Step{}, fmt.Errorf("%w: press without key", ErrMalformedStep)
		}
	default:
		// An empty value is a deliberately cleared field and is kept.
		step.Value = firstNonEmpty(ev.Value, ev.Text)
	}

	if typ.NeedsSelector() && step.Selector == "" {
		return models.Step{}, fmt.Errorf("%w: %s requires a selector", ErrMalformedStep, typ)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if step.Timestamp <= 0 {
		step.Timestamp = n.now().UnixMilli()
		if step.Timestamp < n.last {
			step.Timestamp = n.last
		}
		n.last = step.Timestamp
	}
	step.ID = n.newID()
	return step, nil
}

// Build normalizes and merges a batch of events from one source. Malformed
// events are skipped and reported.
func Build(events []models.RawEvent, src models.Source, n *Normalizer) ([]models.Step, []error) {
	m := NewMerger()
	var errs []error
	for i, ev := range events {
		if IsCommit(ev) {
			m.Commit()
			continue
		}
		step, err := n.Normalize(ev, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i+1, err))
			continue
		}
		m.Merge(step)
	}
	return m.Steps(), errs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
