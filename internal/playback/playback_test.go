package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser/browsertest"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/notify"
)

type events struct {
	mu  sync.Mutex
	got []notify.Event
}

func (e *events) Publish(ev notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) ofType(t notify.EventType) []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []notify.Event
	for _, ev := range e.got {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newPlayer(pub notify.Publisher) *Player {
	p := New(Options{Notifier: pub})
	p.sleep = func(time.Duration, *Cancel) {}
	return p
}

func threeSteps() []models.Step {
	return []models.Step{
		{Type: models.StepClick, Selector: "#one"},
		{Type: models.StepFill, Selector: "#missing", Value: "x"},
		{Type: models.StepClick, Selector: "#three"},
	}
}

func TestPlayContinuesPastFailure(t *testing.T) {
	page := browsertest.NewPage()
	page.Fail["#missing"] = errors.New("no node found")
	pub := &events{}

	res := newPlayer(pub).Play(context.Background(), "s1", page, threeSteps(), nil)

	if !res.Completed || res.StoppedAtIndex != nil {
		t.Fatalf("Completed = %v, StoppedAtIndex = %v; want completed run", res.Completed, res.StoppedAtIndex)
	}
	if res.TotalSteps != 3 || res.StepsCompleted != 3 {
		t.Errorf("TotalSteps = %d, StepsCompleted = %d", res.TotalSteps, res.StepsCompleted)
	}
	if len(res.Errors) != 1 || res.Errors[0].StepIndex != 2 {
		t.Fatalf("Errors = %v, want one error at step 2", res.Errors)
	}
	if !strings.Contains(res.Errors[0].Error(), "#missing") {
		t.Errorf("error %q does not name the selector", res.Errors[0])
	}

	calls := page.Calls()
	if len(calls) != 2 || calls[0].Selector != "#one" || calls[1].Selector != "#three" {
		t.Errorf("calls = %+v, want #one and #three executed", calls)
	}

	if n := len(pub.ofType(notify.StepPlaying)); n != 3 {
		t.Errorf("step-playing events = %d, want 3", n)
	}
	errs := pub.ofType(notify.StepError)
	if len(errs) != 1 || errs[0].StepIndex != 2 {
		t.Errorf("step-error events = %+v", errs)
	}
	if done := pub.ofType(notify.PlaybackComplete); len(done) != 1 || done[0].TotalSteps != 3 {
		t.Errorf("playback-complete events = %+v", done)
	}
}

func TestPlayCancellationBoundary(t *testing.T) {
	steps := []models.Step{
		{Type: models.StepClick, Selector: "#a"},
		{Type: models.StepClick, Selector: "#b"},
		{Type: models.StepClick, Selector: "#c"},
		{Type: models.StepClick, Selector: "#d"},
	}
	tests := []struct {
		name     string
		cancelAt string // cancel right after this selector runs
		want     int
		executed int
	}{
		{"after first", "#a", 2, 1},
		{"after third", "#c", 4, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cancel := NewCancel()
			page := browsertest.NewPage()
			page.OnCall = func(c browsertest.Call) {
				if c.Selector == tt.cancelAt {
					cancel.Request()
				}
			}
			pub := &events{}
			res := newPlayer(pub).Play(context.Background(), "s1", page, steps, cancel)

			if res.Completed {
				t.Fatal("cancelled playback reported completed")
			}
			if res.StoppedAtIndex == nil || *res.StoppedAtIndex != tt.want {
				t.Fatalf("StoppedAtIndex = %v, want %d", res.StoppedAtIndex, tt.want)
			}
			if got := len(page.Calls()); got != tt.executed {
				t.Errorf("executed %d steps, want %d", got, tt.executed)
			}
			if res.StepsCompleted != tt.executed {
				t.Errorf("StepsCompleted = %d, want %d", res.StepsCompleted, tt.executed)
			}
			if n := len(pub.ofType(notify.PlaybackComplete)); n != 0 {
				t.Errorf("playback-complete sent for cancelled run")
			}
		})
	}
}

func TestPlayCancelledBeforeStart(t *testing.T) {
	cancel := NewCancel()
	cancel.Request()
	cancel.Request()
	page := browsertest.NewPage()
	res := newPlayer(nil).Play(context.Background(), "s1", page, threeSteps(), cancel)
	if res.StoppedAtIndex == nil || *res.StoppedAtIndex != 1 {
		t.Fatalf("StoppedAtIndex = %v, want 1", res.StoppedAtIndex)
	}
	if len(page.Calls()) != 0 {
		t.Error("no step should run")
	}
}

func TestPlayHighlightIsBestEffort(t *testing.T) {
	page := browsertest.NewPage()
	page.EvalFn = func(expr string) (any, error) {
		return nil, errors.New("element missing")
	}
	res := newPlayer(nil).Play(context.Background(), "s1", page, threeSteps()[:1], nil)
	if len(res.Errors) != 0 || len(page.Calls()) != 1 {
		t.Fatalf("highlight failure blocked the step: %+v", res)
	}
}

func TestPlayHighlightsAndRestores(t *testing.T) {
	page := browsertest.NewPage()
	page.EvalFn = func(expr string) (any, error) { return true, nil }
	steps := []models.Step{
		{Type: models.StepNavigate, Value: "https://example.com"},
		{Type: models.StepClick, Selector: "#go"},
	}
	newPlayer(nil).Play(context.Background(), "s1", page, steps, nil)

	evals := page.Evals()
	if len(evals) != 2 {
		t.Fatalf("evals = %d, want highlight and unhighlight for the click only", len(evals))
	}
	if !strings.Contains(evals[0], `document.querySelector("#go")`) || !strings.Contains(evals[0], "scrollIntoView") {
		t.Errorf("highlight script = %s", evals[0])
	}
	if !strings.Contains(evals[1], "removeAttribute") {
		t.Errorf("unhighlight script = %s", evals[1])
	}
}

func TestPlayUnsupportedStepIsAStepError(t *testing.T) {
	page := browsertest.NewPage()
	steps := []models.Step{{Type: models.StepType("hover"), Selector: "#x"}, {Type: models.StepClick, Selector: "#y"}}
	res := newPlayer(nil).Play(context.Background(), "s1", page, steps, nil)
	if len(res.Errors) != 1 || res.Errors[0].StepIndex != 1 || !res.Completed {
		t.Fatalf("result = %+v", res)
	}
}

func TestPlaySettleWaitsBetweenSteps(t *testing.T) {
	p := New(Options{SettleInterval: time.Millisecond})
	var waits int
	p.sleep = func(d time.Duration, _ *Cancel) {
		if d != time.Millisecond {
			t.Errorf("settle interval = %v", d)
		}
		waits++
	}
	p.Play(context.Background(), "s1", browsertest.NewPage(), threeSteps(), nil)
	if waits != 2 {
		t.Errorf("waits = %d, want 2", waits)
	}
}
