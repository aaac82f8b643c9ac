// Package notify broadcasts recording and playback progress to observers.
// Delivery is best effort: a subscriber that cannot keep up loses events.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

type EventType string

const (
	StepRecorded     EventType = "step-recorded"
	StepPlaying      EventType = "step-playing"
	PlaybackComplete EventType = "playback-complete"
	StepError        EventType = "step-error"
	CaptureDegraded  EventType = "capture-degraded"
)

type Event struct {
	Type       EventType    `json:"type"`
	SessionID  string       `json:"sessionId"`
	Step       *models.Step `json:"step,omitempty"`
	StepIndex  int          `json:"stepIndex,omitempty"`
	TotalSteps int          `json:"totalSteps,omitempty"`
	Progress   float64      `json:"progress,omitempty"`
	Error      string       `json:"error,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

// Publisher never blocks the caller.
type Publisher interface {
	Publish(ev Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
	log    *zap.Logger
}

func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: make(map[*Subscriber]struct{}), buffer: buffer, log: log.Named("notify")}
}

type Subscriber struct {
	sessionID string
	ch        chan Event
	hub       *Hub
	once      sync.Once
}

// Subscribe registers an observer for one session, or for all sessions when
// sessionID is empty.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	s := &Subscriber{sessionID: sessionID, ch: make(chan Event, h.buffer), hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (s *Subscriber) Events() <-chan Event { return s.ch }

func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.sessionID != "" && s.sessionID != ev.SessionID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.log.Debug("dropped notification",
				zap.String("session_id", ev.SessionID),
				zap.String("type", string(ev.Type)))
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
