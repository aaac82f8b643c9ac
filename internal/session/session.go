package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/notify"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/playback"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/steps"
)

type State string

const (
	StateCreated   State = "created"
	StateLoaded    State = "loaded"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StatePlaying   State = "playing"
	StateClosed    State = "closed"
)

// Info is a point-in-time view of a session.
type Info struct {
	ID           string        `json:"session_id"`
	URL          string        `json:"url"`
	Device       string        `json:"device,omitempty"`
	State        State         `json:"state"`
	Source       models.Source `json:"source,omitempty"`
	Name         string        `json:"name,omitempty"`
	StepCount    int           `json:"step_count"`
	HasScript    bool          `json:"has_script"`
	Degraded     string        `json:"degraded,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// StopResult is what a finished recording produced.
type StopResult struct {
	SessionID string        `json:"session_id"`
	Name      string        `json:"name"`
	Steps     []models.Step `json:"steps"`
	Script    string        `json:"script"`
}

// Session is one browser handle plus its recording state. opMu serializes
// control operations (start/stop recording, play, close); mu guards the
// fields below it and is never held across a browser call.
type Session struct {
	id      string
	url     string
	device  string
	created time.Time
	log     *zap.Logger
	pub     notify.Publisher

	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	page       browser.Page
	rb         *capture.RecordingBrowser
	source     capture.Source
	sourceKind models.Source
	gen        uint64
	normalizer *steps.Normalizer
	merger     *steps.Merger
	name       string
	result     *StopResult
	degraded   string
	cancel     *playback.Cancel
	playDone   chan struct{}
	resume     State
	lastActive time.Time
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := Info{
		ID:           s.id,
		URL:          s.url,
		Device:       s.device,
		State:        s.state,
		Source:       s.sourceKind,
		Name:         s.name,
		Degraded:     s.degraded,
		CreatedAt:    s.created,
		LastActivity: s.lastActive,
	}
	if s.merger != nil {
		in.StepCount = s.merger.Len()
	}
	if s.state != StateRecording && s.result != nil {
		in.StepCount = len(s.result.Steps)
		in.HasScript = s.result.Script != ""
	}
	return in
}

func (s *Session) touch() { s.lastActive = time.Now() }

// invalidState builds an error for an operation s.state forbids. A closed
// session reads as not found. Callers hold s.mu.
func (s *Session) invalidState(op string) error {
	if s.state == StateClosed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	return fmt.Errorf("%w: cannot %s session %s while %s", ErrInvalidState, op, s.id, s.state)
}

// record routes one raw event of the given activation into the step list.
// Events from an older activation, or arriving after the recording ended,
// are dropped. A commit event closes the current edit run.
func (s *Session) record(gen uint64, ev models.RawEvent, src models.Source) (*models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording || (gen != 0 && gen != s.gen) {
		return nil, s.invalidState("record a step in")
	}
	s.touch()
	if steps.IsCommit(ev) {
		s.merger.Commit()
		return nil, nil
	}
	step, err := s.normalizer.Normalize(ev, src)
	if err != nil {
		s.log.Debug("dropped raw event", zap.String("type", ev.Type), zap.Error(err))
		return nil, err
	}
	merged, idx, replaced := s.merger.Merge(step)
	s.log.Debug("step recorded",
		zap.String("type", string(merged.Type)),
		zap.String("selector", merged.Selector),
		zap.Int("index", idx+1),
		zap.Bool("collapsed", replaced))
	// Published under mu so observers see steps in commit order.
	s.pub.Publish(notify.Event{
		Type:       notify.StepRecorded,
		SessionID:  s.id,
		Step:       &merged,
		StepIndex:  idx + 1,
		TotalSteps: s.merger.Len(),
	})
	return &merged, nil
}

func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording || gen != s.gen {
		return
	}
	s.degraded = err.Error()
	s.log.Warn("capture degraded, recording continues without capture", zap.Error(err))
	s.pub.Publish(notify.Event{Type: notify.CaptureDegraded, SessionID: s.id, Error: err.Error()})
}

// sink binds a capture source to one activation of a session.
type sink struct {
	s   *Session
	gen uint64
	src models.Source
}

func (k *sink) Emit(ev models.RawEvent) {
	_, _ = k.s.record(k.gen, ev, k.src)
}

func (k *sink) Fail(err error) { k.s.fail(k.gen, err) }
