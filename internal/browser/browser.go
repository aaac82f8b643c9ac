// Package browser is the boundary to the external automation engine. The
// rest of the system talks to a Page; chromedp and playwright-go back it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// Engine creates isolated pages. Every page owns its own browser context and
// is never shared between sessions.
type Engine interface {
	Name() string
	NewPage(ctx context.Context, device string) (Page, error)
	Close() error
}

// Page is one live browser tab. All methods block until the engine
// acknowledges the action or ctx is done.
type Page interface {
	Goto(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, value string) error
	Check(ctx context.Context, selector string) error
	Uncheck(ctx context.Context, selector string) error
	Press(ctx context.Context, selector, key string) error
	Submit(ctx context.Context, selector string) error
	// Evaluate runs a JavaScript expression and decodes its result into res,
	// which may be nil.
	Evaluate(ctx context.Context, expression string, res any) error
	Close() error
}

// EngineError wraps a failure reported by the automation engine.
type EngineError struct {
	Op       string
	Selector string
	Err      error
}

func (e *EngineError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Selector, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func wrap(op, selector string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Op: op, Selector: selector, Err: err}
}

type Options struct {
	Engine            string
	Headless          bool
	ExecPath          string
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	Logger            *zap.Logger
}

func (o *Options) defaults() {
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = 30 * time.Second
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// New returns the engine selected by opts.Engine.
func New(opts Options) (Engine, error) {
	opts.defaults()
	switch strings.ToLower(opts.Engine) {
	case "", "chromedp", "chrome":
		return NewChromedp(opts), nil
	case "playwright":
		return NewPlaywright(opts), nil
	}
	return nil, fmt.Errorf("unknown browser engine %q", opts.Engine)
}

// Perform executes one step against p.
func Perform(ctx context.Context, p Page, step models.Step) error {
	switch step.Type {
	case models.StepNavigate:
		return p.Goto(ctx, step.Value)
	case models.StepClick:
		return p.Click(ctx, step.Selector)
	case models.StepFill:
		return p.Fill(ctx, step.Selector, step.Value)
	case models.StepTypeText:
		return p.Type(ctx, step.Selector, step.Value)
	case models.StepSelect:
		return p.SelectOption(ctx, step.Selector, step.Value)
	case models.StepCheck:
		return p.Check(ctx, step.Selector)
	case models.StepUncheck:
		return p.Uncheck(ctx, step.Selector)
	case models.StepPress:
		return p.Press(ctx, step.Selector, step.Value)
	case models.StepSubmit:
		return p.Submit(ctx, step.Selector)
	}
	return fmt.Errorf("unsupported step type %q", step.Type)
}
