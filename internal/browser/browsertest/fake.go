// Package browsertest provides in-memory browser fakes for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
)

// Call is one recorded page action.
type Call struct {
	Op       string
	Selector string
	Value    string
}

// Page records every action. Actions on a selector listed in Fail return
// that error; Evaluate delegates to EvalFn when set.
type Page struct {
	mu     sync.Mutex
	calls  []Call
	evals  []string
	closed bool

	Fail   map[string]error
	EvalFn func(expr string) (any, error)
	Delay  time.Duration
	// OnCall runs after an action is recorded, outside the lock.
	OnCall func(Call)
}

func NewPage() *Page {
	return &Page{Fail: map[string]error{}}
}

var ErrClosed = errors.New("page closed")

func (p *Page) do(ctx context.Context, op, sel, value string) error {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	err := p.Fail[sel]
	c := Call{Op: op, Selector: sel, Value: value}
	if err == nil {
		p.calls = append(p.calls, c)
	}
	hook := p.OnCall
	p.mu.Unlock()
	if err != nil {
		return &browser.EngineError{Op: op, Selector: sel, Err: err}
	}
	if hook != nil {
		hook(c)
	}
	return nil
}

func (p *Page) Goto(ctx context.Context, url string) error { return p.do(ctx, "goto", "", url) }
func (p *Page) Click(ctx context.Context, sel string) error { return p.do(ctx, "click", sel, "") }
func (p *Page) Fill(ctx context.Context, sel, v string) error {
	return p.do(ctx, "fill", sel, v)
}
func (p *Page) Type(ctx context.Context, sel, v string) error {
	return p.do(ctx, "type", sel, v)
}
func (p *Page) SelectOption(ctx context.Context, sel, v string) error {
	return p.do(ctx, "select", sel, v)
}
func (p *Page) Check(ctx context.Context, sel string) error   { return p.do(ctx, "check", sel, "") }
func (p *Page) Uncheck(ctx context.Context, sel string) error { return p.do(ctx, "uncheck", sel, "") }
func (p *Page) Press(ctx context.Context, sel, key string) error {
	return p.do(ctx, "press", sel, key)
}
func (p *Page) Submit(ctx context.Context, sel string) error { return p.do(ctx, "submit", sel, "") }

func (p *Page) Evaluate(ctx context.Context, expr string, res any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.evals = append(p.evals, expr)
	fn := p.EvalFn
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	v, err := fn(expr)
	if err != nil || res == nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, res)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func (p *Page) Evals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evals...)
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Engine hands out fake pages. NewPageFn customises each page; Err fails
// every launch.
type Engine struct {
	mu    sync.Mutex
	pages []*Page

	Err       error
	NewPageFn func() *Page
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) NewPage(ctx context.Context, device string) (browser.Page, error) {
	if e.Err != nil {
		return nil, &browser.EngineError{Op: "launch", Err: e.Err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := NewPage()
	if e.NewPageFn != nil {
		p = e.NewPageFn()
	}
	e.mu.Lock()
	e.pages = append(e.pages, p)
	e.mu.Unlock()
	return p, nil
}

func (e *Engine) Close() error { return nil }

func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}
