package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/chrome"
)

// playwrightEngine shares one Chromium process; each page gets its own
// browser context so cookies and storage never leak between sessions.
type playwrightEngine struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPlaywright(opts Options) Engine {
	opts.defaults()
	return &playwrightEngine{opts: opts, log: opts.Logger.Named("playwright")}
}

func (e *playwrightEngine) Name() string { return "playwright" }

func (e *playwrightEngine) launch() (playwright.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser != nil && e.browser.IsConnected() {
		return e.browser, nil
	}
	if e.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("could not start playwright: %w", err)
		}
		e.pw = pw
	}
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.opts.Headless),
		Timeout:  playwright.Float(float64(e.opts.LaunchTimeout.Milliseconds())),
	}
	if e.opts.ExecPath != "" {
		launchOpts.ExecutablePath = playwright.String(e.opts.ExecPath)
	}
	b, err := e.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("could not launch chromium: %w", err)
	}
	e.browser = b
	e.log.Info("chromium launched", zap.String("version", b.Version()))
	return b, nil
}

func (e *playwrightEngine) NewPage(ctx context.Context, deviceName string) (Page, error) {
	done := make(chan pwLaunch, 1)
	go func() {
		b, err := e.launch()
		if err != nil {
			done <- pwLaunch{err: err}
			return
		}
		ctxOpts := playwright.BrowserNewContextOptions{}
		if dev, ok := chrome.LookupDevice(deviceName); ok {
			ctxOpts.Viewport = &playwright.Size{Width: int(dev.Width), Height: int(dev.Height)}
			ctxOpts.UserAgent = playwright.String(dev.UserAgent)
			ctxOpts.IsMobile = playwright.Bool(dev.Mobile)
			ctxOpts.HasTouch = playwright.Bool(dev.Touch)
			ctxOpts.DeviceScaleFactor = playwright.Float(dev.Scale)
		} else if deviceName != "" {
			e.log.Warn("unknown device preset, using browser defaults", zap.String("device", deviceName))
		}
		bctx, err := b.NewContext(ctxOpts)
		if err != nil {
			done <- pwLaunch{err: err}
			return
		}
		pg, err := bctx.NewPage()
		if err != nil {
			_ = bctx.Close()
			done <- pwLaunch{err: err}
			return
		}
		done <- pwLaunch{page: &playwrightPage{bctx: bctx, page: pg, opts: e.opts}}
	}()

	timer := time.NewTimer(e.opts.LaunchTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, wrap("launch", "", r.err)
		}
		return r.page, nil
	case <-timer.C:
		go closeLate(done)
		return nil, &EngineError{Op: "launch", Err: fmt.Errorf("browser did not start within %s", e.opts.LaunchTimeout)}
	case <-ctx.Done():
		go closeLate(done)
		return nil, &EngineError{Op: "launch", Err: ctx.Err()}
	}
}

type pwLaunch struct {
	page *playwrightPage
	err  error
}

// closeLate releases a page whose launch finished after the caller gave up.
func closeLate(done <-chan pwLaunch) {
	if r := <-done; r.page != nil {
		_ = r.page.Close()
	}
}

func (e *playwrightEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			firstErr = err
		}
		e.browser = nil
	}
	if e.pw != nil {
		if err := e.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.pw = nil
	}
	return firstErr
}

type playwrightPage struct {
	bctx      playwright.BrowserContext
	page      playwright.Page
	opts      Options
	closeOnce sync.Once
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// playwright-go calls are not context aware; ctx is checked before each call
// and the engine timeout bounds the call itself.
func (p *playwrightPage) guard(ctx context.Context, op, sel string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &EngineError{Op: op, Selector: sel, Err: err}
	}
	return wrap(op, sel, fn())
}

func (p *playwrightPage) Goto(ctx context.Context, url string) error {
	return p.guard(ctx, "goto", url, func() error {
		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			Timeout:   ms(p.opts.NavigationTimeout),
			WaitUntil: playwright.WaitUntilStateLoad,
		})
		return err
	})
}

func (p *playwrightPage) Click(ctx context.Context, sel string) error {
	return p.guard(ctx, "click", sel, func() error {
		if err := p.page.Click(sel, playwright.PageClickOptions{Timeout: ms(p.opts.ActionTimeout)}); err != nil {
			return err
		}
		p.settle()
		return nil
	})
}

func (p *playwrightPage) Fill(ctx context.Context, sel, value string) error {
	return p.guard(ctx, "fill", sel, func() error {
		return p.page.Fill(sel, value, playwright.PageFillOptions{Timeout: ms(p.opts.ActionTimeout)})
	})
}

func (p *playwrightPage) Type(ctx context.Context, sel, text string) error {
	return p.guard(ctx, "type", sel, func() error {
		return p.page.Type(sel, text, playwright.PageTypeOptions{Timeout: ms(p.opts.ActionTimeout)})
	})
}

func (p *playwrightPage) SelectOption(ctx context.Context, sel, value string) error {
	return p.guard(ctx, "select", sel, func() error {
		_, err := p.page.SelectOption(sel, playwright.SelectOptionValues{Values: &[]string{value}},
			playwright.PageSelectOptionOptions{Timeout: ms(p.opts.ActionTimeout)})
		return err
	})
}

func (p *playwrightPage) Check(ctx context.Context, sel string) error {
	return p.guard(ctx, "check", sel, func() error {
		return p.page.Check(sel, playwright.PageCheckOptions{Timeout: ms(p.opts.ActionTimeout)})
	})
}

func (p *playwrightPage) Uncheck(ctx context.Context, sel string) error {
	return p.guard(ctx, "uncheck", sel, func() error {
		return p.page.Uncheck(sel, playwright.PageUncheckOptions{Timeout: ms(p.opts.ActionTimeout)})
	})
}

func (p *playwrightPage) Press(ctx context.Context, sel, key string) error {
	return p.guard(ctx, "press", sel, func() error {
		if sel == "" || sel == "body" {
			return p.page.Keyboard().Press(key)
		}
		if err := p.page.Press(sel, key, playwright.PagePressOptions{Timeout: ms(p.opts.ActionTimeout)}); err != nil {
			return err
		}
		p.settle()
		return nil
	})
}

func (p *playwrightPage) Submit(ctx context.Context, sel string) error {
	return p.guard(ctx, "submit", sel, func() error {
		if _, err := p.page.Evaluate(submitScript(sel)); err != nil {
			return err
		}
		p.settle()
		return nil
	})
}

func (p *playwrightPage) Evaluate(ctx context.Context, expression string, res any) error {
	return p.guard(ctx, "evaluate", "", func() error {
		v, err := p.page.Evaluate(expression)
		if err != nil || res == nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, res)
	})
}

// settle waits briefly for a navigation triggered by the last action.
func (p *playwrightPage) settle() {
	_ = p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: ms(navigationWindow),
	})
}

func (p *playwrightPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.bctx.Close()
	})
	return err
}
