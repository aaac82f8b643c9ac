// Package playback replays a step list against a live page.
package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/notify"
)

const (
	DefaultSettleInterval = 500 * time.Millisecond
	DefaultHighlightColor = "#ff4081"
	highlightAttr         = "data-vtr-highlight"
)

// StepExecutionError attributes a failure to one step of a target (a
// session id or a script name). StepIndex is 1-based.
type StepExecutionError struct {
	Target    string
	StepIndex int
	Err       error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("%s: step %d: %v", e.Target, e.StepIndex, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

func (e *StepExecutionError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		StepIndex int    `json:"step_index"`
		Error     string `json:"error"`
	}{e.StepIndex, e.Err.Error()})
}

// StepReport is the outcome of one attempted step.
type StepReport struct {
	StepIndex  int             `json:"step_index"`
	Type       models.StepType `json:"type"`
	Selector   string          `json:"selector,omitempty"`
	Status     string          `json:"status"` // success or failed
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

type Result struct {
	SessionID      string                `json:"session_id"`
	TotalSteps     int                   `json:"total_steps"`
	StepsCompleted int                   `json:"steps_completed"`
	Completed      bool                  `json:"completed"`
	StoppedAtIndex *int                  `json:"stopped_at_index,omitempty"`
	Errors         []*StepExecutionError `json:"errors"`
	Steps          []StepReport          `json:"steps"`
}

// Cancel is a cooperative stop flag, checked between steps only.
type Cancel struct {
	once sync.Once
	ch   chan struct{}
}

func NewCancel() *Cancel { return &Cancel{ch: make(chan struct{})} }

func (c *Cancel) Request() { c.once.Do(func() { close(c.ch) }) }

func (c *Cancel) Requested() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

func (c *Cancel) Done() <-chan struct{} { return c.ch }

type Options struct {
	SettleInterval time.Duration
	HighlightColor string
	Notifier       notify.Publisher
	Logger         *zap.Logger
}

type Player struct {
	opts Options
	// sleep waits between steps; replaced in tests.
	sleep func(d time.Duration, cancel *Cancel)
}

func New(opts Options) *Player {
	if opts.SettleInterval < 0 {
		opts.SettleInterval = 0
	}
	if opts.HighlightColor == "" {
		opts.HighlightColor = DefaultHighlightColor
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Player{opts: opts, sleep: settle}
}

func settle(d time.Duration, cancel *Cancel) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-cancel.Done():
	}
}

// Play executes steps in order. A failing step is recorded and playback
// moves on; cancel (or ctx) stops it before the next step starts.
func (p *Player) Play(ctx context.Context, sessionID string, page browser.Page, steps []models.Step, cancel *Cancel) Result {
	if cancel == nil {
		cancel = NewCancel()
	}
	log := p.opts.Logger.With(zap.String("session_id", sessionID))
	total := len(steps)
	res := Result{SessionID: sessionID, TotalSteps: total, Errors: []*StepExecutionError{}, Steps: []StepReport{}}
	start := time.Now()
	log.Info("playback started", zap.Int("total_steps", total))

	for i, step := range steps {
		index := i + 1
		if cancel.Requested() || ctx.Err() != nil {
			res.StoppedAtIndex = &index
			log.Info("playback stopped", zap.Int("stopped_at_index", index), zap.Int("steps_completed", res.StepsCompleted))
			return res
		}

		s := step
		p.opts.Notifier.Publish(notify.Event{
			Type:       notify.StepPlaying,
			SessionID:  sessionID,
			StepIndex:  index,
			Step:       &s,
			TotalSteps: total,
			Progress:   float64(index) / float64(total) * 100,
		})

		highlighted := false
		if step.Selector != "" {
			highlighted = p.highlight(ctx, page, step.Selector, log)
		}

		stepStart := time.Now()
		err := perform(ctx, page, step)
		report := StepReport{
			StepIndex:  index,
			Type:       step.Type,
			Selector:   step.Selector,
			Status:     "success",
			DurationMs: time.Since(stepStart).Milliseconds(),
		}
		res.StepsCompleted++

		if err != nil {
			report.Status = "failed"
			report.Error = err.Error()
			res.Errors = append(res.Errors, &StepExecutionError{Target: sessionID, StepIndex: index, Err: err})
			log.Warn("playback step failed",
				zap.Int("step_index", index),
				zap.String("type", string(step.Type)),
				zap.String("selector", step.Selector),
				zap.Int64("duration_ms", report.DurationMs),
				zap.Error(err))
			p.opts.Notifier.Publish(notify.Event{
				Type:      notify.StepError,
				SessionID: sessionID,
				StepIndex: index,
				Step:      &s,
				Error:     err.Error(),
			})
		} else {
			log.Debug("playback step succeeded",
				zap.Int("step_index", index),
				zap.String("type", string(step.Type)),
				zap.Int64("duration_ms", report.DurationMs))
		}
		res.Steps = append(res.Steps, report)

		if highlighted {
			p.unhighlight(ctx, page, log)
		}
		if index < total {
			p.sleep(p.opts.SettleInterval, cancel)
		}
	}

	res.Completed = true
	log.Info("playback finished",
		zap.Int("total_steps", total),
		zap.Int("failed_steps", len(res.Errors)),
		zap.Duration("elapsed", time.Since(start)))
	p.opts.Notifier.Publish(notify.Event{Type: notify.PlaybackComplete, SessionID: sessionID, TotalSteps: total})
	return res
}

func perform(ctx context.Context, page browser.Page, step models.Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during %s: %v", step.Type, r)
		}
	}()
	return browser.Perform(ctx, page, step)
}

// highlight outlines and scrolls to the target. It reports whether the
// element was found; any failure is logged and ignored.
func (p *Player) highlight(ctx context.Context, page browser.Page, sel string, log *zap.Logger) bool {
	var found bool
	if err := page.Evaluate(ctx, highlightScript(sel, p.opts.HighlightColor), &found); err != nil {
		log.Debug("highlight failed", zap.String("selector", sel), zap.Error(err))
		return false
	}
	if !found {
		log.Debug("highlight target not found", zap.String("selector", sel))
	}
	return found
}

func (p *Player) unhighlight(ctx context.Context, page browser.Page, log *zap.Logger) {
	if err := page.Evaluate(ctx, unhighlightScript, nil); err != nil {
		log.Debug("unhighlight failed", zap.Error(err))
	}
}

func highlightScript(sel, color string) string {
	return fmt.Sprintf(`(function() {
	var el = %s;
	if (!el) return false;
	try { el.scrollIntoView({block: 'center', inline: 'center'}); } catch (e) {}
	if (!el.hasAttribute(%q)) el.setAttribute(%q, el.style.outline || '');
	el.style.outline = '3px solid ' + %s;
	return true;
})()`, browser.FindExpr(sel), highlightAttr, highlightAttr, jsLit(color))
}

var unhighlightScript = fmt.Sprintf(`(function() {
	document.querySelectorAll('[%[1]s]').forEach(function(el) {
		el.style.outline = el.getAttribute('%[1]s');
		el.removeAttribute('%[1]s');
	});
	return true;
})()`, highlightAttr)

func jsLit(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
