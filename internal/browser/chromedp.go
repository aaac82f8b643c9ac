package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/selector"
	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/chrome"
)

// navigationWindow is how long an action waits for a navigation to begin
// before treating the page as settled.
const navigationWindow = 500 * time.Millisecond

type chromedpEngine struct {
	opts Options
	log  *zap.Logger
}

// NewChromedp returns an engine that runs one Chrome process per page.
func NewChromedp(opts Options) Engine {
	opts.defaults()
	return &chromedpEngine{opts: opts, log: opts.Logger.Named("chromedp")}
}

func (e *chromedpEngine) Name() string { return "chromedp" }

func (e *chromedpEngine) Close() error { return nil }

func (e *chromedpEngine) NewPage(ctx context.Context, deviceName string) (Page, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		chrome.AllocatorOptions(e.opts.ExecPath, e.opts.Headless)...)
	sugar := e.log.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	p := &chromedpPage{
		ctx:        tabCtx,
		cancelTab:  tabCancel,
		cancelProc: allocCancel,
		opts:       e.opts,
	}

	var actions []chromedp.Action
	if deviceName != "" {
		if dev, ok := chrome.LookupDevice(deviceName); ok {
			actions = append(actions, chromedp.Emulate(dev))
		} else {
			e.log.Warn("unknown device preset, using browser defaults", zap.String("device", deviceName))
		}
	}

	// The first Run starts the browser and binds its lifetime to tabCtx, so it
	// must not run under a derived timeout context.
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, actions...) }()

	timer := time.NewTimer(e.opts.LaunchTimeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		if err != nil {
			p.Close()
			return nil, wrap("launch", "", err)
		}
	case <-timer.C:
		p.Close()
		return nil, &EngineError{Op: "launch", Err: fmt.Errorf("browser did not start within %s", e.opts.LaunchTimeout)}
	case <-ctx.Done():
		p.Close()
		return nil, &EngineError{Op: "launch", Err: ctx.Err()}
	}
	return p, nil
}

type chromedpPage struct {
	ctx        context.Context
	cancelTab  context.CancelFunc
	cancelProc context.CancelFunc
	opts       Options
	closeOnce  sync.Once
}

func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return unwrapException(err)
}

// query maps text descriptors to an XPath search; everything else is CSS.
func query(sel string) (string, chromedp.QueryOption) {
	if xp, ok := selector.XPath(sel); ok {
		return xp, chromedp.BySearch
	}
	return sel, chromedp.ByQuery
}

func (p *chromedpPage) Goto(ctx context.Context, url string) error {
	err := p.run(ctx, p.opts.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return wrap("goto", url, err)
}

func (p *chromedpPage) Click(ctx context.Context, sel string) error {
	q, by := query(sel)
	err := p.withNavigation(ctx, func() error {
		return p.run(ctx, p.opts.ActionTimeout,
			chromedp.WaitVisible(q, by),
			chromedp.Click(q, by),
		)
	})
	return wrap("click", sel, err)
}

func (p *chromedpPage) Fill(ctx context.Context, sel, value string) error {
	q, by := query(sel)
	actions := []chromedp.Action{
		chromedp.WaitVisible(q, by),
		chromedp.Clear(q, by),
	}
	if value != "" {
		actions = append(actions, chromedp.SendKeys(q, value, by))
	}
	return wrap("fill", sel, p.run(ctx, p.opts.ActionTimeout, actions...))
}

func (p *chromedpPage) Type(ctx context.Context, sel, text string) error {
	q, by := query(sel)
	err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitVisible(q, by),
		chromedp.Focus(q, by),
		chromedp.SendKeys(q, text, by),
	)
	return wrap("type", sel, err)
}

func (p *chromedpPage) SelectOption(ctx context.Context, sel, value string) error {
	q, by := query(sel)
	var got string
	err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitReady(q, by),
		chromedp.Evaluate(selectScript(sel, value), &got),
	)
	if err == nil && got != value {
		err = fmt.Errorf("option %q not available", value)
	}
	return wrap("select", sel, err)
}

func (p *chromedpPage) Check(ctx context.Context, sel string) error {
	return wrap("check", sel, p.setChecked(ctx, sel, true))
}

func (p *chromedpPage) Uncheck(ctx context.Context, sel string) error {
	return wrap("uncheck", sel, p.setChecked(ctx, sel, false))
}

func (p *chromedpPage) setChecked(ctx context.Context, sel string, want bool) error {
	q, by := query(sel)
	var checked bool
	if err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitVisible(q, by),
		chromedp.JavascriptAttribute(q, "checked", &checked, by),
	); err != nil {
		return err
	}
	if checked == want {
		return nil
	}
	return p.run(ctx, p.opts.ActionTimeout, chromedp.Click(q, by))
}

var keyNames = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
}

func (p *chromedpPage) Press(ctx context.Context, sel, key string) error {
	k, ok := keyNames[key]
	if !ok {
		k = key
	}
	var actions []chromedp.Action
	if sel != "" && sel != "body" {
		q, by := query(sel)
		actions = append(actions, chromedp.Focus(q, by))
	}
	actions = append(actions, chromedp.KeyEvent(k))
	err := p.withNavigation(ctx, func() error {
		return p.run(ctx, p.opts.ActionTimeout, actions...)
	})
	return wrap("press", sel, err)
}

func (p *chromedpPage) Submit(ctx context.Context, sel string) error {
	err := p.withNavigation(ctx, func() error {
		return p.run(ctx, p.opts.ActionTimeout, chromedp.Evaluate(submitScript(sel), nil))
	})
	return wrap("submit", sel, err)
}

func (p *chromedpPage) Evaluate(ctx context.Context, expression string, res any) error {
	return wrap("evaluate", "", p.run(ctx, p.opts.ActionTimeout, chromedp.Evaluate(expression, res)))
}

// withNavigation runs action and, if it starts a navigation within
// navigationWindow, waits for the new document to load.
func (p *chromedpPage) withNavigation(ctx context.Context, action func() error) error {
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()

	started := make(chan struct{}, 1)
	loaded := make(chan struct{}, 1)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch ev.(type) {
		case *page.EventFrameStartedLoading:
			select {
			case started <- struct{}{}:
			default:
			}
		case *page.EventLoadEventFired:
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	if err := action(); err != nil {
		return err
	}

	window := time.NewTimer(navigationWindow)
	defer window.Stop()
	select {
	case <-started:
	case <-window.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	deadline := time.NewTimer(p.opts.NavigationTimeout)
	defer deadline.Stop()
	select {
	case <-loaded:
	case <-deadline.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *chromedpPage) Close() error {
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			_ = chromedp.Cancel(p.ctx)
			close(done)
		}()
		select {
		case <-done:
		case <-closeCtx.Done():
		}
		p.cancelTab()
		p.cancelProc()
	})
	return nil
}

func unwrapException(err error) error {
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) && exc.Exception != nil && exc.Exception.Description != "" {
		return errors.New(exc.Exception.Description)
	}
	return err
}
