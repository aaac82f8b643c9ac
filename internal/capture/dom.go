package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/selector"
)

// maxPollFailures is the number of consecutive failed polls after which the
// DOM source gives up.
const maxPollFailures = 50

const drainExpr = `(function() {
	var r = window.__vtrRecorder;
	if (!r || !r.active) return null;
	return r.drain();
})()`

const pauseExpr = `(function() {
	var r = window.__vtrRecorder;
	if (!r) return [];
	r.active = false;
	return r.drain();
})()`

// domSource injects listeners into the page and polls their buffer.
type domSource struct {
	page browser.Page
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	sink   Sink
	cancel context.CancelFunc
	done   chan struct{}
}

func newDOMSource(p browser.Page, opts Options) *domSource {
	return &domSource{page: p, opts: opts, log: opts.Logger.Named("dom-capture")}
}

func (s *domSource) Kind() models.Source { return models.SourceManual }

func (s *domSource) Start(ctx context.Context, sink Sink) error {
	if err := s.install(ctx, false); err != nil {
		return fmt.Errorf("%w: inject recorder: %v", ErrCaptureSource, err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.sink = sink
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.poll(pollCtx, sink, done)
	return nil
}

func (s *domSource) install(ctx context.Context, announce bool) error {
	script := selector.InPageScript() + ";\n" + recorderScript(announce, s.opts.MaskPasswords, s.opts.EventBuffer)
	return s.page.Evaluate(ctx, script, nil)
}

func (s *domSource) poll(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var batch *[]models.RawEvent
		err := s.page.Evaluate(ctx, drainExpr, &batch)
		if err == nil && batch == nil {
			// A navigation replaced the document; reinstall and record where it went.
			err = s.install(ctx, true)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.log.Debug("poll failed", zap.Int("consecutive", failures), zap.Error(err))
			if failures >= maxPollFailures {
				s.log.Warn("dom capture disabled", zap.Error(err))
				sink.Fail(fmt.Errorf("%w: page unreachable: %v", ErrCaptureSource, err))
				return
			}
			continue
		}
		failures = 0
		if batch != nil {
			for _, ev := range *batch {
				sink.Emit(ev)
			}
		}
	}
}

func (s *domSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done, sink := s.cancel, s.done, s.sink
	s.cancel, s.sink = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	// Flush whatever the page buffered since the last poll.
	var rest []models.RawEvent
	if err := s.page.Evaluate(ctx, pauseExpr, &rest); err != nil {
		s.log.Debug("final drain failed", zap.Error(err))
		return nil
	}
	for _, ev := range rest {
		sink.Emit(ev)
	}
	return nil
}

// recorderScript installs window.__vtrRecorder. It requires the resolver
// from selector.InPageScript.
func recorderScript(announce, maskPasswords bool, buffer int) string {
	return fmt.Sprintf(`(function(announce, maskPasswords, maxEvents) {
	var existing = window.__vtrRecorder;
	if (existing) {
		existing.events = [];
		existing.last = {};
		existing.active = true;
		return true;
	}

	var rec = window.__vtrRecorder = {
		events: [],
		last: {},
		active: true,
		lastClick: 0,
		push: function(ev) {
			if (!this.active) return;
			ev.timestamp = Date.now();
			if (this.events.length >= maxEvents) this.events.shift();
			this.events.push(ev);
			try {
				var parent = window.opener || (window.parent !== window ? window.parent : null);
				if (parent) parent.postMessage({source: 'vtr-recorder', event: ev}, '*');
			} catch (e) {
				console.log('vtr recorder: parent window unavailable', e);
			}
		},
		drain: function() {
			var out = this.events;
			this.events = [];
			return out;
		}
	};

	function sel(el) { return window.__vtrResolve(el); }
	function tagOf(el) { return el && el.tagName ? el.tagName.toLowerCase() : ''; }
	function toggle(el) { return tagOf(el) === 'input' && (el.type === 'checkbox' || el.type === 'radio'); }
	function editable(el) {
		if (!el) return false;
		if (el.isContentEditable) return true;
		var tag = tagOf(el);
		if (tag === 'textarea') return true;
		return tag === 'input' && ['checkbox', 'radio', 'submit', 'button', 'file', 'reset', 'image'].indexOf(el.type) < 0;
	}
	function valueOf(el) {
		if (el.isContentEditable) return el.textContent;
		if (maskPasswords && el.type === 'password') return '***';
		return el.value;
	}
	function emitValue(el) {
		var s = sel(el), v = valueOf(el);
		if (rec.last[s] === v) return;
		rec.last[s] = v;
		rec.push({type: 'fill', selector: s, value: v});
	}

	document.addEventListener('click', function(e) {
		if (!e.isTrusted) return;
		var t = e.target;
		if (toggle(t) || tagOf(t) === 'select' || tagOf(t) === 'option') return;
		rec.lastClick = Date.now();
		rec.push({type: 'click', selector: sel(t)});
	}, true);

	document.addEventListener('input', function(e) {
		if (e.isTrusted && editable(e.target)) emitValue(e.target);
	}, true);

	document.addEventListener('change', function(e) {
		if (!e.isTrusted) return;
		var t = e.target;
		if (tagOf(t) === 'select') {
			rec.push({type: 'select', selector: sel(t), value: t.value});
		} else if (toggle(t)) {
			rec.push({type: t.checked ? 'check' : 'uncheck', selector: sel(t)});
		} else if (editable(t)) {
			emitValue(t);
		}
	}, true);

	document.addEventListener('submit', function(e) {
		if (!e.isTrusted) return;
		// A submit right after a click was caused by that click.
		if (Date.now() - rec.lastClick < 1000) return;
		rec.push({type: 'submit', selector: sel(e.target)});
	}, true);

	document.addEventListener('keydown', function(e) {
		if (!e.isTrusted || e.key !== 'Enter') return;
		var t = e.target;
		if (!editable(t) || tagOf(t) === 'textarea' || t.form) return;
		rec.push({type: 'press', selector: sel(t), value: 'Enter'});
	}, true);

	document.addEventListener('focusout', function(e) {
		if (e.isTrusted && editable(e.target)) rec.push({type: 'blur', selector: sel(e.target)});
	}, true);

	if (announce) rec.push({type: 'navigate', url: location.href});
	return true;
})(%t, %t, %d)`, announce, maskPasswords, buffer)
}
