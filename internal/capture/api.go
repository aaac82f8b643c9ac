package capture

import (
	"context"
	"sync"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// RecordingBrowser decorates a page. Every action runs on the real page
// first; a successful action is reported to the attached sink, if any.
// Errors are returned unchanged.
type RecordingBrowser struct {
	browser.Page

	mu   sync.RWMutex
	sink Sink
}

func NewRecordingBrowser(p browser.Page) *RecordingBrowser {
	return &RecordingBrowser{Page: p}
}

func (b *RecordingBrowser) attach(s Sink) {
	b.mu.Lock()
	b.sink = s
	b.mu.Unlock()
}

func (b *RecordingBrowser) detach() {
	b.mu.Lock()
	b.sink = nil
	b.mu.Unlock()
}

// Recording reports whether actions are currently being captured.
func (b *RecordingBrowser) Recording() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sink != nil
}

func (b *RecordingBrowser) record(ev models.RawEvent) {
	b.mu.RLock()
	s := b.sink
	b.mu.RUnlock()
	if s != nil {
		s.Emit(ev)
	}
}

func (b *RecordingBrowser) Goto(ctx context.Context, url string) error {
	if err := b.Page.Goto(ctx, url); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "navigate", URL: url})
	return nil
}

func (b *RecordingBrowser) Click(ctx context.Context, sel string) error {
	if err := b.Page.Click(ctx, sel); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "click", Selector: sel})
	return nil
}

func (b *RecordingBrowser) Fill(ctx context.Context, sel, value string) error {
	if err := b.Page.Fill(ctx, sel, value); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "fill", Selector: sel, Value: value})
	return nil
}

func (b *RecordingBrowser) Type(ctx context.Context, sel, text string) error {
	if err := b.Page.Type(ctx, sel, text); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "type", Selector: sel, Text: text})
	return nil
}

func (b *RecordingBrowser) SelectOption(ctx context.Context, sel, value string) error {
	if err := b.Page.SelectOption(ctx, sel, value); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "select", Selector: sel, Value: value})
	return nil
}

func (b *RecordingBrowser) Check(ctx context.Context, sel string) error {
	if err := b.Page.Check(ctx, sel); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "check", Selector: sel})
	return nil
}

func (b *RecordingBrowser) Uncheck(ctx context.Context, sel string) error {
	if err := b.Page.Uncheck(ctx, sel); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "uncheck", Selector: sel})
	return nil
}

func (b *RecordingBrowser) Press(ctx context.Context, sel, key string) error {
	if err := b.Page.Press(ctx, sel, key); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "press", Selector: sel, Value: key})
	return nil
}

func (b *RecordingBrowser) Submit(ctx context.Context, sel string) error {
	if err := b.Page.Submit(ctx, sel); err != nil {
		return err
	}
	b.record(models.RawEvent{Type: "submit", Selector: sel})
	return nil
}

type apiSource struct {
	browser *RecordingBrowser
}

func (s *apiSource) Kind() models.Source { return models.SourceAutomation }

func (s *apiSource) Start(_ context.Context, sink Sink) error {
	s.browser.attach(sink)
	return nil
}

func (s *apiSource) Stop(context.Context) error {
	s.browser.detach()
	return nil
}
