// Package capture implements the producers of raw action events: API
// interception, in-page DOM listeners, generated-script parsing and trace
// import. Exactly one source is active per recording.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// ErrCaptureSource marks a failure of a source's underlying mechanism. The
// session keeps running without capture.
var ErrCaptureSource = errors.New("capture source error")

// Sink receives raw events from an active source.
type Sink interface {
	Emit(ev models.RawEvent)
	// Fail reports that the source stopped capturing.
	Fail(err error)
}

type Source interface {
	Kind() models.Source
	Start(ctx context.Context, sink Sink) error
	// Stop deactivates the source and flushes buffered events to the sink
	// before returning.
	Stop(ctx context.Context) error
}

type Options struct {
	URL            string
	PollInterval   time.Duration
	EventBuffer    int
	CodegenCommand string
	MaskPasswords  bool
	Logger         *zap.Logger
}

// New builds the source selected by cfg. b is the session's recording-aware
// browser.
func New(cfg models.SourceConfig, b *RecordingBrowser, opts Options) (Source, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1000
	}

	switch cfg.Source {
	case models.SourceAutomation:
		return &apiSource{browser: b}, nil
	case models.SourceManual:
		return newDOMSource(b, opts), nil
	case models.SourceGeneratedScript:
		return newCodegenSource(cfg.ScriptText, opts), nil
	case models.SourceTrace:
		return &traceSource{path: cfg.TracePath, log: opts.Logger}, nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", ErrCaptureSource, cfg.Source)
}

// SinkFunc adapts a function to a Sink that ignores failures.
type SinkFunc func(ev models.RawEvent)

func (f SinkFunc) Emit(ev models.RawEvent) { f(ev) }
func (f SinkFunc) Fail(error)              {}
