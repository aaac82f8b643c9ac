package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser/browsertest"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/notify"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/steps"
)

type memStore struct {
	mu    sync.Mutex
	saved []*models.Recording
	err   error
}

func (s *memStore) Save(_ context.Context, rec *models.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec)
	return s.err
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newManager(t *testing.T, engine *browsertest.Engine, store Store) *Manager {
	t.Helper()
	if engine == nil {
		engine = &browsertest.Engine{}
	}
	return NewManager(Options{Engine: engine, Store: store, LaunchTimeout: time.Second, NavigationTimeout: time.Second})
}

func started(t *testing.T, m *Manager, id string) {
	t.Helper()
	if _, err := m.Start(context.Background(), "https://example.com", id, ""); err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
}

func recording(t *testing.T, m *Manager, id string) {
	t.Helper()
	if _, err := m.StartRecording(context.Background(), id, models.SourceConfig{Source: models.SourceAutomation}, ""); err != nil {
		t.Fatalf("StartRecording(%s): %v", id, err)
	}
}

func mustRecord(t *testing.T, m *Manager, id string, ev models.RawEvent) {
	t.Helper()
	if _, err := m.RecordStep(id, ev); err != nil {
		t.Fatalf("RecordStep(%s, %+v): %v", id, ev, err)
	}
}

func TestStartLoadsSession(t *testing.T) {
	engine := &browsertest.Engine{}
	m := newManager(t, engine, nil)
	info, err := m.Start(context.Background(), "https://example.com", "", "iPhone X")
	if err != nil {
		t.Fatal(err)
	}
	if info.ID == "" || info.State != StateLoaded || info.Device != "iPhone X" {
		t.Errorf("info = %+v", info)
	}
	calls := engine.Pages()[0].Calls()
	if len(calls) != 1 || calls[0].Op != "goto" || calls[0].Value != "https://example.com" {
		t.Errorf("calls = %+v, want initial navigation", calls)
	}
	if _, err := m.Start(context.Background(), "https://example.com", info.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("duplicate id err = %v, want ErrInvalidState", err)
	}
}

func TestStartFailureLeavesNothingRegistered(t *testing.T) {
	tests := []struct {
		name   string
		engine *browsertest.Engine
	}{
		{"launch fails", &browsertest.Engine{Err: errors.New("no chrome")}},
		{"navigation fails", &browsertest.Engine{NewPageFn: func() *browsertest.Page {
			p := browsertest.NewPage()
			p.Fail[""] = errors.New("net::ERR_NAME_NOT_RESOLVED")
			return p
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, tt.engine, nil)
			_, err := m.Start(context.Background(), "https://nowhere.invalid", "s1", "")
			if !errors.Is(err, ErrSessionStart) {
				t.Fatalf("err = %v, want ErrSessionStart", err)
			}
			if _, err := m.Get("s1"); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("session still registered: %v", err)
			}
			for _, p := range tt.engine.Pages() {
				if !p.Closed() {
					t.Error("page not released after failed start")
				}
			}
			if len(m.List()) != 0 {
				t.Error("registry not empty")
			}
		})
	}
}

func TestRecordingCollapsesEdits(t *testing.T) {
	store := &memStore{}
	m := newManager(t, nil, store)
	started(t, m, "s1")
	recording(t, m, "s1")

	mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#submit"})
	mustRecord(t, m, "s1", models.RawEvent{Type: "fill", Selector: "#name", Value: "Al"})
	mustRecord(t, m, "s1", models.RawEvent{Type: "fill", Selector: "#name", Value: "Alice"})

	res, err := m.StopRecording(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("steps = %+v, want 2", res.Steps)
	}
	if res.Steps[0].Type != models.StepClick || res.Steps[0].Selector != "#submit" {
		t.Errorf("step 1 = %+v", res.Steps[0])
	}
	if res.Steps[1].Type != models.StepFill || res.Steps[1].Value != "Alice" {
		t.Errorf("step 2 = %+v", res.Steps[1])
	}
	if res.Script == "" {
		t.Error("no script synthesized")
	}
	if store.count() != 1 {
		t.Errorf("saved %d recordings, want 1", store.count())
	}
	info, _ := m.Get("s1")
	if info.State != StateStopped || info.StepCount != 2 || !info.HasScript {
		t.Errorf("info = %+v", info)
	}
}

func TestAutomationActionsAreIntercepted(t *testing.T) {
	engine := &browsertest.Engine{}
	m := newManager(t, engine, nil)
	started(t, m, "s1")
	ctx := context.Background()

	// Outside a recording, actions run but are not captured.
	if _, err := m.PerformAction(ctx, "s1", models.RawEvent{Type: "click", Selector: "#warmup"}); err != nil {
		t.Fatal(err)
	}
	recording(t, m, "s1")
	for _, ev := range []models.RawEvent{
		{Type: "click", Selector: "#submit"},
		{Type: "fill", Selector: "#name", Value: "Al"},
		{Type: "fill", Selector: "#name", Value: "Alice"},
	} {
		if _, err := m.PerformAction(ctx, "s1", ev); err != nil {
			t.Fatal(err)
		}
	}

	page := engine.Pages()[0]
	page.Fail["#broken"] = errors.New("element not found")
	_, err := m.PerformAction(ctx, "s1", models.RawEvent{Type: "click", Selector: "#broken"})
	if err == nil || err.Error() != "click #broken: element not found" {
		t.Errorf("action error = %v, want the engine error unchanged", err)
	}
	if _, err := m.PerformAction(ctx, "s1", models.RawEvent{Type: "click", Selector: "  "}); !errors.Is(err, steps.ErrMalformedStep) {
		t.Errorf("malformed action err = %v", err)
	}

	res, err := m.StopRecording(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 2 || res.Steps[1].Value != "Alice" || res.Steps[0].Source != models.SourceAutomation {
		t.Errorf("steps = %+v", res.Steps)
	}
}

func TestStopRecordingUnknownSession(t *testing.T) {
	m := newManager(t, nil, nil)
	if _, err := m.StopRecording(context.Background(), "never-started"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if err := m.Close(context.Background(), "never-started"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("close err = %v, want ErrSessionNotFound", err)
	}
}

func TestStartRecordingTwiceResets(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	recording(t, m, "s1")
	mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#first"})

	recording(t, m, "s1")
	mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#second"})

	res, err := m.StopRecording(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 1 || res.Steps[0].Selector != "#second" {
		t.Errorf("steps = %+v, want only the second activation", res.Steps)
	}
}

func TestStaleSinkIsIgnored(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	recording(t, m, "s1")
	s, _ := m.lookup("s1")
	s.mu.Lock()
	stale := &sink{s: s, gen: s.gen, src: models.SourceManual}
	s.mu.Unlock()

	recording(t, m, "s1")
	stale.Emit(models.RawEvent{Type: "click", Selector: "#stale"})
	stale.Fail(errors.New("old source died"))

	info, _ := m.Get("s1")
	if info.StepCount != 0 || info.Degraded != "" {
		t.Errorf("stale activation leaked into the new one: %+v", info)
	}
}

func TestStopRecordingIsIdempotent(t *testing.T) {
	store := &memStore{}
	m := newManager(t, nil, store)
	started(t, m, "s1")
	recording(t, m, "s1")
	mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#a"})

	var wg sync.WaitGroup
	results := make([]*StopResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.StopRecording(context.Background(), "s1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
		if results[i].Script != results[0].Script || len(results[i].Steps) != 1 {
			t.Errorf("stop %d returned a different result", i)
		}
	}
	if store.count() != 1 {
		t.Errorf("recording persisted %d times, want 1", store.count())
	}

	if _, err := m.StopRecording(context.Background(), "s1"); err != nil {
		t.Errorf("stop after stop: %v", err)
	}
}

func TestStopRecordingBeforeRecordingIsInvalid(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	if _, err := m.StopRecording(context.Background(), "s1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
	if _, err := m.RecordStep("s1", models.RawEvent{Type: "click", Selector: "#a"}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("record outside recording err = %v", err)
	}
}

func TestPersistFailureDoesNotFailStop(t *testing.T) {
	m := newManager(t, nil, &memStore{err: errors.New("disk full")})
	started(t, m, "s1")
	recording(t, m, "s1")
	if _, err := m.StopRecording(context.Background(), "s1"); err != nil {
		t.Fatalf("stop failed on persistence error: %v", err)
	}
}

func TestPlayWhileRecordingIsInvalid(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	recording(t, m, "s1")
	if _, err := m.Play(context.Background(), "s1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	info, _ := m.Get("s1")
	if info.State != StateRecording {
		t.Errorf("state = %s, want recording untouched", info.State)
	}
}

func TestPlayReplaysLastRecording(t *testing.T) {
	engine := &browsertest.Engine{}
	hub := notify.NewHub(32, nil)
	sub := hub.Subscribe("s1")
	defer sub.Close()
	m := NewManager(Options{Engine: engine, Notifier: hub})
	started(t, m, "s1")
	recording(t, m, "s1")
	mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#a"})
	mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#missing"})
	mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#c"})
	if _, err := m.StopRecording(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	page := engine.Pages()[0]
	page.Fail["#missing"] = errors.New("no node")

	res, err := m.Play(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completed || len(res.Errors) != 1 || res.Errors[0].StepIndex != 2 {
		t.Errorf("result = %+v", res)
	}
	info, _ := m.Get("s1")
	if info.State != StateStopped {
		t.Errorf("state after play = %s, want stopped", info.State)
	}

	var order []notify.EventType
	for len(sub.Events()) > 0 {
		order = append(order, (<-sub.Events()).Type)
	}
	if len(order) < 4 || order[0] != notify.StepRecorded || order[len(order)-1] != notify.PlaybackComplete {
		t.Errorf("notification order = %v", order)
	}
}

func TestStopPlayback(t *testing.T) {
	engine := &browsertest.Engine{}
	m := newManager(t, engine, nil)
	started(t, m, "s1")
	recording(t, m, "s1")
	for i := 0; i < 5; i++ {
		mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: fmt.Sprintf("#b%d", i)})
	}
	if _, err := m.StopRecording(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	if stopped, err := m.StopPlayback("s1"); err != nil || stopped {
		t.Errorf("StopPlayback while idle = %v, %v", stopped, err)
	}

	page := engine.Pages()[0]
	page.OnCall = func(c browsertest.Call) {
		if c.Selector == "#b1" {
			if stopped, err := m.StopPlayback("s1"); err != nil || !stopped {
				t.Errorf("StopPlayback = %v, %v", stopped, err)
			}
		}
	}
	res, err := m.Play(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed || res.StoppedAtIndex == nil || *res.StoppedAtIndex != 3 {
		t.Fatalf("result = %+v", res)
	}

	// A new playback may start right away.
	page.OnCall = nil
	res, err = m.Play(context.Background(), "s1")
	if err != nil || !res.Completed {
		t.Errorf("replay after cancel = %+v, %v", res, err)
	}
}

func TestSessionIsolation(t *testing.T) {
	m := newManager(t, nil, nil)
	ids := []string{"a", "b"}
	for _, id := range ids {
		started(t, m, id)
		recording(t, m, id)
	}

	const n = 50
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				ev := models.RawEvent{Type: "click", Selector: fmt.Sprintf("#%s-%d", id, i)}
				if _, err := m.RecordStep(id, ev); err != nil {
					t.Errorf("RecordStep(%s): %v", id, err)
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		res, err := m.StopRecording(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Steps) != n {
			t.Fatalf("%s: %d steps, want %d", id, len(res.Steps), n)
		}
		for i, st := range res.Steps {
			if want := fmt.Sprintf("#%s-%d", id, i); st.Selector != want {
				t.Errorf("%s step %d = %s, want %s", id, i+1, st.Selector, want)
			}
			if i > 0 && res.Steps[i-1].Timestamp > st.Timestamp {
				t.Errorf("%s: steps out of order at %d", id, i+1)
			}
		}
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	engine := &browsertest.Engine{}
	m := newManager(t, engine, nil)
	started(t, m, "s1")
	recording(t, m, "s1")
	s, _ := m.lookup("s1")
	s.mu.Lock()
	k := &sink{s: s, gen: s.gen, src: models.SourceAutomation}
	s.mu.Unlock()

	if err := m.Close(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if !engine.Pages()[0].Closed() {
		t.Error("page not closed")
	}
	if _, err := m.Get("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("session still registered")
	}
	// A callback arriving after close is ignored.
	k.Emit(models.RawEvent{Type: "click", Selector: "#late"})
	if err := m.Close(context.Background(), "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second close err = %v", err)
	}
}

func TestGeneratedScriptSource(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	ctx := context.Background()

	_, err := m.StartRecording(ctx, "s1", models.SourceConfig{Source: models.SourceGeneratedScript}, "")
	if !errors.Is(err, capture.ErrCaptureSource) {
		t.Fatalf("err = %v, want ErrCaptureSource", err)
	}
	if info, _ := m.Get("s1"); info.State != StateLoaded {
		t.Errorf("state after failed activation = %s", info.State)
	}

	script := "await page.goto('https://x.com');\nawait page.click('#a');\n// comment\n"
	if _, err := m.StartRecording(ctx, "s1", models.SourceConfig{Source: models.SourceGeneratedScript, ScriptText: script}, "codegen"); err != nil {
		t.Fatal(err)
	}
	res, err := m.StopRecording(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 2 || res.Steps[0].Type != models.StepNavigate || res.Steps[1].Selector != "#a" {
		t.Errorf("steps = %+v", res.Steps)
	}
	if res.Name != "codegen" || res.Steps[0].Source != models.SourceGeneratedScript {
		t.Errorf("result = %+v", res)
	}
}

func TestImportTrace(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	trace := `{"type":"context-options","wallTime":1700000001000,"monotonicTime":1000}
{"type":"before","callId":"call@1","method":"goto","params":{"url":"https://example.com"},"startTime":1100}
{"type":"before","callId":"call@2","method":"click","params":{"selector":"#go"},"startTime":1200}
`
	res, err := m.ImportTrace(context.Background(), "s1", []byte(trace), "imported")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 2 || res.Steps[1].Selector != "#go" || res.Steps[1].Source != models.SourceTrace {
		t.Errorf("steps = %+v", res.Steps)
	}
	if res.Steps[0].Timestamp != 1700000001100 {
		t.Errorf("timestamp = %d", res.Steps[0].Timestamp)
	}
}

func TestImportTraceUnknownSession(t *testing.T) {
	m := newManager(t, nil, nil)
	_, err := m.ImportTrace(context.Background(), "missing", []byte("not a trace"), "")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if errors.Is(err, capture.ErrCaptureSource) {
		t.Errorf("archive parsed before session lookup: %v", err)
	}
}

func TestManualBlurCommitsAnyCase(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	ctx := context.Background()
	if _, err := m.StartRecording(ctx, "s1", models.SourceConfig{Source: models.SourceManual}, ""); err != nil {
		t.Fatal(err)
	}

	mustRecord(t, m, "s1", models.RawEvent{Type: "fill", Selector: "#name", Value: "a"})
	for _, typ := range []string{"Blur", " BLUR "} {
		step, err := m.RecordStep("s1", models.RawEvent{Type: typ, Selector: "#name"})
		if err != nil || step != nil {
			t.Errorf("RecordStep(%q) = (%+v, %v), want a commit", typ, step, err)
		}
	}
	mustRecord(t, m, "s1", models.RawEvent{Type: "fill", Selector: "#name", Value: "b"})

	res, err := m.StopRecording(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Steps) != 2 || res.Steps[0].Value != "a" || res.Steps[1].Value != "b" {
		t.Errorf("steps = %+v, want two fills split by the blur", res.Steps)
	}
}

func TestDefaultRecordingNamesAreDistinct(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "s1")
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		recording(t, m, "s1")
		mustRecord(t, m, "s1", models.RawEvent{Type: "click", Selector: "#go"})
		res, err := m.StopRecording(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if res.Name == "" || seen[res.Name] {
			t.Fatalf("recording %d name = %q, already used in %v", i+1, res.Name, seen)
		}
		seen[res.Name] = true
	}
}

func TestReap(t *testing.T) {
	m := newManager(t, nil, nil)
	started(t, m, "old")
	started(t, m, "fresh")
	s, _ := m.lookup("old")
	s.mu.Lock()
	s.lastActive = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	closed := m.Reap(context.Background(), time.Minute)
	if len(closed) != 1 || closed[0] != "old" {
		t.Errorf("reaped %v, want [old]", closed)
	}
	if list := m.List(); len(list) != 1 || list[0].ID != "fresh" {
		t.Errorf("remaining = %+v", list)
	}
}
