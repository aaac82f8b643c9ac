// Package session owns the registry of live recording sessions and drives
// each one through its state machine:
//
//	created -> loaded -> recording -> stopped -> closed
//	loaded|stopped -> playing -> loaded|stopped
//
// Sessions never share mutable state. Control operations on one session are
// serialized; different sessions never contend beyond a short registry lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/notify"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/playback"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/steps"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/synth"
)

// Store persists finished recordings.
type Store interface {
	Save(ctx context.Context, rec *models.Recording) error
}

type Options struct {
	Engine            browser.Engine
	Device            string
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	// StopTimeout bounds how long a capture source may take to flush.
	StopTimeout time.Duration
	Capture     capture.Options
	Player      *playback.Player
	Notifier    notify.Publisher
	Store       Store
	Logger      *zap.Logger
}

type Manager struct {
	opts Options
	log  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = 30 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Player == nil {
		opts.Player = playback.New(playback.Options{Notifier: opts.Notifier, Logger: opts.Logger})
	}
	return &Manager{
		opts:     opts,
		log:      opts.Logger.Named("session"),
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) unregister(id string, s *Session) {
	m.mu.Lock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
}

// Start creates a browser page for a new session and navigates it to url.
// An empty id is replaced by a generated one. On failure nothing stays
// registered and the error wraps ErrSessionStart.
func (m *Manager) Start(ctx context.Context, url, id, device string) (Info, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Info{}, fmt.Errorf("%w: url is required", ErrSessionStart)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if device == "" {
		device = m.opts.Device
	}
	now := time.Now()
	s := &Session{
		id:         id,
		url:        url,
		device:     device,
		created:    now,
		log:        m.log.With(zap.String("session_id", id)),
		pub:        m.opts.Notifier,
		state:      StateCreated,
		lastActive: now,
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return Info{}, fmt.Errorf("%w: session %s already exists", ErrInvalidState, id)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	page, err := m.launch(ctx, s)
	if err != nil {
		m.unregister(id, s)
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.log.Warn("session start failed", zap.String("url", url), zap.Error(err))
		return Info{}, fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	s.mu.Lock()
	s.page = page
	s.rb = capture.NewRecordingBrowser(page)
	s.state = StateLoaded
	s.touch()
	s.mu.Unlock()

	s.log.Info("session started", zap.String("url", url), zap.String("device", device), zap.String("engine", m.opts.Engine.Name()))
	return s.info(), nil
}

func (m *Manager) launch(ctx context.Context, s *Session) (browser.Page, error) {
	if m.opts.Engine == nil {
		return nil, fmt.Errorf("no browser engine configured")
	}
	launchCtx, cancel := context.WithTimeout(ctx, m.opts.LaunchTimeout)
	defer cancel()
	page, err := m.opts.Engine.NewPage(launchCtx, s.device)
	if err != nil {
		return nil, fmt.Errorf("create browser: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(ctx, m.opts.NavigationTimeout)
	defer cancelNav()
	if err := page.Goto(navCtx, s.url); err != nil {
		if cerr := page.Close(); cerr != nil {
			s.log.Debug("close after failed navigation", zap.Error(cerr))
		}
		return nil, fmt.Errorf("navigate to %s: %w", s.url, err)
	}
	return page, nil
}

// StartRecording activates the capture source selected by cfg and resets the
// step list. Starting again while recording discards the running recording.
func (m *Manager) StartRecording(ctx context.Context, id string, cfg models.SourceConfig, name string) (Info, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := m.startRecording(ctx, s, cfg, name); err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// startRecording requires s.opMu.
func (m *Manager) startRecording(ctx context.Context, s *Session, cfg models.SourceConfig, name string) error {
	s.mu.Lock()
	switch s.state {
	case StateLoaded, StateStopped, StateRecording:
	default:
		err := s.invalidState("start recording in")
		s.mu.Unlock()
		return err
	}
	rb := s.rb
	s.mu.Unlock()

	opts := m.opts.Capture
	opts.URL = s.url
	opts.Logger = s.log
	src, err := capture.New(cfg, rb, opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.source
	prevResult := s.result
	if old != nil {
		s.gen++
		s.source = nil
	}
	s.mu.Unlock()
	if old != nil {
		m.stopSource(ctx, s, old)
		s.log.Info("running recording discarded by a new activation")
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	if strings.TrimSpace(name) == "" {
		// Unique per activation so stored artifacts are not overwritten.
		name = fmt.Sprintf("recording-%s-%s-%d", shortID(s.id), time.Now().Format("20060102-150405"), gen)
	}
	s.source = src
	s.sourceKind = src.Kind()
	s.normalizer = steps.NewNormalizer()
	s.merger = steps.NewMerger()
	s.name = name
	s.result = nil
	s.degraded = ""
	s.state = StateRecording
	s.touch()
	s.mu.Unlock()

	// Sources may emit from inside Start, so s.mu must not be held here.
	if err := src.Start(ctx, &sink{s: s, gen: gen, src: src.Kind()}); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.gen++
			s.source = nil
			s.result = prevResult
			s.state = StateLoaded
			if prevResult != nil {
				s.state = StateStopped
			}
		}
		s.mu.Unlock()
		s.log.Warn("capture source failed to start", zap.String("source", string(src.Kind())), zap.Error(err))
		return fmt.Errorf("start %s capture: %w", src.Kind(), err)
	}

	s.log.Info("recording started", zap.String("source", string(src.Kind())), zap.String("name", name))
	return nil
}

func (m *Manager) stopSource(ctx context.Context, s *Session, src capture.Source) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.StopTimeout)
	defer cancel()
	if err := src.Stop(stopCtx); err != nil {
		s.log.Warn("capture source did not stop cleanly", zap.String("source", string(src.Kind())), zap.Error(err))
	}
}

// RecordStep routes one externally captured raw event into a recording
// session. A nil step with a nil error means the event only committed the
// current edit run.
func (m *Manager) RecordStep(id string, ev models.RawEvent) (*models.Step, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.record(0, ev, models.SourceManual)
}

// StopRecording deactivates the capture source, synthesizes the script and
// persists the recording. Stopping an already stopped recording returns the
// previous result.
func (m *Manager) StopRecording(ctx context.Context, id string) (*StopResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return m.stopRecording(ctx, s)
}

// stopRecording requires s.opMu.
func (m *Manager) stopRecording(ctx context.Context, s *Session) (*StopResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		res := *s.result
		s.mu.Unlock()
		return &res, nil
	case StateRecording:
	default:
		err := s.invalidState("stop recording in")
		s.mu.Unlock()
		return nil, err
	}
	src := s.source
	s.mu.Unlock()

	// The state stays recording while the source flushes its buffer.
	if src != nil {
		m.stopSource(ctx, s, src)
	}

	s.mu.Lock()
	s.gen++
	s.source = nil
	recorded := s.merger.Steps()
	res := &StopResult{
		SessionID: s.id,
		Name:      s.name,
		Steps:     recorded,
		Script:    synth.Synthesize(recorded, s.name),
	}
	s.result = res
	s.state = StateStopped
	s.touch()
	kind := s.sourceKind
	s.mu.Unlock()

	s.log.Info("recording stopped", zap.String("name", res.Name), zap.Int("steps", len(recorded)))
	m.persist(ctx, s, kind, res)
	out := *res
	return &out, nil
}

func (m *Manager) persist(ctx context.Context, s *Session, kind models.Source, res *StopResult) {
	if m.opts.Store == nil {
		return
	}
	rec, err := models.NewRecording(s.id, res.Name, s.url, kind, res.Steps, res.Script)
	if err == nil {
		err = m.opts.Store.Save(context.WithoutCancel(ctx), rec)
	}
	if err != nil {
		s.log.Error("failed to persist recording", zap.String("name", res.Name), zap.Error(err))
	}
}

// Play replays the last stopped recording (an empty list if none) and blocks
// until it finishes or is stopped. Cancelling ctx stops playback before the
// next step; the step in flight always runs to completion.
func (m *Manager) Play(ctx context.Context, id string) (playback.Result, error) {
	s, err := m.lookup(id)
	if err != nil {
		return playback.Result{}, err
	}

	s.opMu.Lock()
	s.mu.Lock()
	switch s.state {
	case StateLoaded, StateStopped:
	default:
		err := s.invalidState("play")
		s.mu.Unlock()
		s.opMu.Unlock()
		return playback.Result{}, err
	}
	var list []models.Step
	if s.result != nil {
		list = s.result.Steps
	}
	cancel := playback.NewCancel()
	done := make(chan struct{})
	s.resume = s.state
	s.state = StatePlaying
	s.cancel = cancel
	s.playDone = done
	s.touch()
	page := s.page
	s.mu.Unlock()
	s.opMu.Unlock()

	stop := context.AfterFunc(ctx, cancel.Request)
	defer stop()

	res := m.opts.Player.Play(context.WithoutCancel(ctx), s.id, page, list, cancel)

	s.mu.Lock()
	if s.state == StatePlaying {
		s.state = s.resume
	}
	s.cancel = nil
	s.playDone = nil
	s.touch()
	s.mu.Unlock()
	close(done)
	return res, nil
}

// StopPlayback requests cancellation of a running playback. It reports
// whether a playback was running.
func (m *Manager) StopPlayback(id string) (bool, error) {
	s, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying || s.cancel == nil {
		return false, nil
	}
	s.cancel.Request()
	s.log.Info("playback stop requested")
	return true, nil
}

// PerformAction runs one automation action through the session's
// recording-aware browser. The action's own error is returned unchanged.
func (m *Manager) PerformAction(ctx context.Context, id string, ev models.RawEvent) (models.Step, error) {
	s, err := m.lookup(id)
	if err != nil {
		return models.Step{}, err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateLoaded, StateRecording, StateStopped:
	default:
		err := s.invalidState("perform an action in")
		s.mu.Unlock()
		return models.Step{}, err
	}
	rb := s.rb
	s.touch()
	s.mu.Unlock()

	step, err := steps.NewNormalizer().Normalize(ev, models.SourceAutomation)
	if err != nil {
		return models.Step{}, err
	}
	if err := browser.Perform(ctx, rb, step); err != nil {
		s.log.Debug("automation action failed", zap.String("type", string(step.Type)), zap.Error(err))
		return step, err
	}
	return step, nil
}

// ImportTrace records a trace archive into the session as a complete
// recording with the trace source.
func (m *Manager) ImportTrace(ctx context.Context, id string, data []byte, name string) (*StopResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	events, err := capture.ParseTraceBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrCaptureSource, err)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := m.startRecording(ctx, s, models.SourceConfig{Source: models.SourceTrace}, name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	k := &sink{s: s, gen: s.gen, src: models.SourceTrace}
	s.mu.Unlock()
	for _, ev := range events {
		k.Emit(ev)
	}
	s.log.Info("trace imported", zap.Int("events", len(events)))
	return m.stopRecording(ctx, s)
}

// Close force-stops any recording or playback, releases the browser page
// and unregisters the session.
func (m *Manager) Close(ctx context.Context, id string) error {
	return m.close(ctx, id, time.Time{})
}

var errBusy = errors.New("session busy")

// close with a non-zero idleBefore only closes a session that is not
// playing and has been idle since before that time.
func (m *Manager) close(ctx context.Context, id string, idleBefore time.Time) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !idleBefore.IsZero() && (s.state == StatePlaying || s.lastActive.After(idleBefore)) {
		s.mu.Unlock()
		return errBusy
	}
	if s.state == StatePlaying {
		s.cancel.Request()
		done := s.playDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	src := s.source
	page := s.page
	s.gen++
	s.source = nil
	s.state = StateClosed
	s.mu.Unlock()

	// Capture stops before the page goes away so no callback reaches a
	// closed page.
	if src != nil {
		m.stopSource(ctx, s, src)
	}
	m.unregister(id, s)
	if page != nil {
		if err := page.Close(); err != nil {
			s.log.Warn("failed to close browser page", zap.Error(err))
		}
	}
	s.log.Info("session closed")
	return nil
}

func (m *Manager) Get(id string) (Info, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// List returns every registered session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Reap closes sessions idle for longer than ttl. Playing sessions are never
// reaped. It returns the ids it closed.
func (m *Manager) Reap(ctx context.Context, ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	var closed []string
	for _, in := range m.List() {
		if in.State == StatePlaying || in.State == StateCreated || in.LastActivity.After(cutoff) {
			continue
		}
		if err := m.close(ctx, in.ID, cutoff); err != nil {
			m.log.Debug("reap skipped session", zap.String("session_id", in.ID), zap.Error(err))
			continue
		}
		closed = append(closed, in.ID)
	}
	return closed
}

// Shutdown closes every session.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, in := range m.List() {
		if err := m.Close(ctx, in.ID); err != nil {
			m.log.Debug("shutdown close", zap.String("session_id", in.ID), zap.Error(err))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
