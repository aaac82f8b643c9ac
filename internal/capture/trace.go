package capture

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/selector"
)

// targetAttr marks the element an action acted on inside a trace snapshot.
const targetAttr = "__playwright_target__"

// traceMethods maps trace call method names to raw event types.
var traceMethods = map[string]string{
	"goto":               "navigate",
	"click":              "click",
	"dblclick":           "click",
	"tap":                "click",
	"mouseClick":         "click",
	"fill":               "fill",
	"type":               "type",
	"pressSequentially":  "type",
	"keyboardType":       "type",
	"keyboardInsertText": "type",
	"press":              "press",
	"keyboardPress":      "press",
	"selectOption":       "select",
	"check":              "check",
	"uncheck":            "uncheck",
	"setChecked":         "check",
}

type tracePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type frameSnapshot struct {
	CallID       string          `json:"callId"`
	SnapshotName string          `json:"snapshotName"`
	FrameURL     string          `json:"frameUrl"`
	HTML         json.RawMessage `json:"html"`
}

type traceEvent struct {
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	CallID        string          `json:"callId"`
	Class         string          `json:"class"`
	Method        string          `json:"method"`
	APIName       string          `json:"apiName"`
	Params        map[string]any  `json:"params"`
	StartTime     float64         `json:"startTime"`
	WallTime      float64         `json:"wallTime"`
	MonotonicTime float64         `json:"monotonicTime"`
	Error         json.RawMessage `json:"error"`
	Point         *tracePoint     `json:"point"`
	Metadata      *traceEvent     `json:"metadata"`
	Snapshot      *frameSnapshot  `json:"snapshot"`
}

func (e *traceEvent) callID() string {
	if e.CallID != "" {
		return e.CallID
	}
	return e.ID
}

func (e *traceEvent) failed() bool {
	s := strings.TrimSpace(string(e.Error))
	return s != "" && s != "null" && s != "{}"
}

// traceCall is one structured action plus what the log says about it.
type traceCall struct {
	event    traceEvent
	kind     string
	point    *tracePoint
	snapshot int // index into snapshots of the nearest preceding snapshot, or -1
	failed   bool
}

// ParseTraceFile reads a trace archive (zip) or a bare line-delimited log.
func ParseTraceFile(path string) ([]models.RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat trace: %w", err)
	}
	return ParseTrace(f, st.Size())
}

// ParseTrace parses a trace archive. Inputs that are not zip archives are
// read as a single line-delimited log.
func ParseTrace(r io.ReaderAt, size int64) ([]models.RawEvent, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return ParseTraceLog(io.NewSectionReader(r, 0, size))
	}

	var logs []*zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".trace") {
			logs = append(logs, f)
		}
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("trace archive has no .trace event log")
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Name < logs[j].Name })

	var all []traceEvent
	for _, f := range logs {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		events, err := readTraceEvents(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		all = append(all, events...)
	}
	return extractTraceActions(all), nil
}

// ParseTraceBytes is ParseTrace over an in-memory upload.
func ParseTraceBytes(data []byte) ([]models.RawEvent, error) {
	return ParseTrace(bytes.NewReader(data), int64(len(data)))
}

// ParseTraceLog parses one line-delimited trace event log.
func ParseTraceLog(r io.Reader) ([]models.RawEvent, error) {
	events, err := readTraceEvents(r)
	if err != nil {
		return nil, err
	}
	return extractTraceActions(events), nil
}

func readTraceEvents(r io.Reader) ([]traceEvent, error) {
	var events []traceEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev traceEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Tracing tools append event kinds we do not know; skip lines we cannot read.
			continue
		}
		if ev.Type == "action" && ev.Metadata != nil {
			meta := *ev.Metadata
			meta.Type = "action"
			ev = meta
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func extractTraceActions(events []traceEvent) []models.RawEvent {
	var (
		offset    float64
		calls     []*traceCall
		byID      = map[string]*traceCall{}
		snapshots []frameSnapshot
	)

	for _, ev := range events {
		switch ev.Type {
		case "context-options":
			if ev.WallTime > 0 && ev.MonotonicTime > 0 {
				offset = ev.WallTime - ev.MonotonicTime
			}
		case "before", "action":
			kind, ok := traceMethods[ev.Method]
			if !ok {
				continue
			}
			c := &traceCall{event: ev, kind: kind, point: ev.Point, snapshot: len(snapshots) - 1, failed: ev.failed()}
			calls = append(calls, c)
			if id := ev.callID(); id != "" {
				byID[id] = c
			}
		case "input":
			if c := byID[ev.callID()]; c != nil {
				if ev.Point != nil {
					c.point = ev.Point
				}
				c.snapshot = len(snapshots) - 1
			}
		case "after":
			if c := byID[ev.callID()]; c != nil && ev.failed() {
				c.failed = true
			}
		case "frame-snapshot":
			if ev.Snapshot != nil {
				snapshots = append(snapshots, *ev.Snapshot)
			}
		}
	}

	var out []models.RawEvent
	for _, c := range calls {
		if c.failed {
			continue
		}
		if ev, ok := c.rawEvent(snapshots, offset); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *traceCall) rawEvent(snapshots []frameSnapshot, offset float64) (models.RawEvent, bool) {
	p := c.event.Params
	ev := models.RawEvent{Type: c.kind}
	if c.event.StartTime > 0 {
		ev.Timestamp = int64(math.Round(c.event.StartTime + offset))
	}

	switch c.kind {
	case "navigate":
		ev.URL = paramString(p, "url")
		return ev, ev.URL != ""
	case "fill":
		ev.Value = paramString(p, "value")
	case "type":
		ev.Text = paramString(p, "text")
	case "press":
		ev.Value = paramString(p, "key")
	case "select":
		ev.Value = selectValue(p["options"])
	case "check":
		if checked, ok := p["checked"].(bool); ok && !checked {
			ev.Type = "uncheck"
		}
	}

	// Structured selectors win; the snapshot lookup only fills gaps.
	ev.Selector = paramString(p, "selector")
	if ev.Selector == "" {
		ev.Selector = c.recoverSelector(snapshots)
	}
	return ev, true
}

// recoverSelector locates the action target in the snapshot taken for the
// call, falling back to the nearest preceding snapshot. This is lossy: when
// no snapshot marks the target, a placeholder naming the pointer position is
// returned instead of a guess.
func (c *traceCall) recoverSelector(snapshots []frameSnapshot) string {
	id := c.event.callID()
	var candidates []int
	for _, prefix := range []string{"input@", "before@", ""} {
		for i, snap := range snapshots {
			if id != "" && snap.CallID == id && strings.HasPrefix(snap.SnapshotName, prefix) && !containsIndex(candidates, i) {
				candidates = append(candidates, i)
			}
		}
	}
	if c.snapshot >= 0 && c.snapshot < len(snapshots) && !containsIndex(candidates, c.snapshot) {
		candidates = append(candidates, c.snapshot)
	}

	for _, i := range candidates {
		doc := renderSnapshot(snapshots[i].HTML)
		if doc == "" {
			continue
		}
		r, err := selector.FromHTML(strings.NewReader(doc))
		if err != nil {
			continue
		}
		el := r.Document().Find(fmt.Sprintf(`[%s="%s"]`, targetAttr, id))
		if el.Length() > 0 {
			return r.Resolve(el)
		}
	}
	if c.kind == "press" || c.kind == "type" {
		return "body"
	}
	return placeholderSelector(c.point)
}

func containsIndex(list []int, i int) bool {
	for _, v := range list {
		if v == i {
			return true
		}
	}
	return false
}

// placeholderSelector names an unresolved pointer target.
func placeholderSelector(p *tracePoint) string {
	if p == nil {
		return "trace-unresolved"
	}
	return fmt.Sprintf("trace-point(%d,%d)", int(math.Round(p.X)), int(math.Round(p.Y)))
}

// IsPlaceholder reports whether sel is an unresolved trace target.
func IsPlaceholder(sel string) bool {
	return strings.HasPrefix(sel, "trace-point(") || sel == "trace-unresolved"
}

func paramString(p map[string]any, key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprint(v)
	}
	return ""
}

func selectValue(v any) string {
	switch o := v.(type) {
	case string:
		return o
	case []any:
		if len(o) == 0 {
			return ""
		}
		if s, ok := o[0].(string); ok {
			return s
		}
		if m, ok := o[0].(map[string]any); ok {
			for _, k := range []string{"valueOrLabel", "value", "label"} {
				if s, ok := m[k].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

type traceSource struct {
	path string
	log  *zap.Logger
}

func (s *traceSource) Kind() models.Source { return models.SourceTrace }

// Start imports the configured trace, if any. Without a path the session
// receives traces later through uploads.
func (s *traceSource) Start(_ context.Context, sink Sink) error {
	if s.path == "" {
		return nil
	}
	events, err := ParseTraceFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureSource, err)
	}
	s.log.Info("trace imported", zap.String("path", s.path), zap.Int("events", len(events)))
	for _, ev := range events {
		sink.Emit(ev)
	}
	return nil
}

func (s *traceSource) Stop(context.Context) error { return nil }
