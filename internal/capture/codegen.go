package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// strLit matches one JavaScript or Python string literal, quotes included.
const strLit = `('(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"|` + "`[^`]*`" + `)`

const optStrLit = `(?:` + strLit + `)?`

// scriptActions maps codegen method names to raw event types.
var scriptActions = map[string]string{
	"click":              "click",
	"dblclick":           "click",
	"tap":                "click",
	"fill":               "fill",
	"type":               "type",
	"pressSequentially":  "type",
	"press_sequentially": "type",
	"press":              "press",
	"check":              "check",
	"uncheck":            "uncheck",
	"selectOption":       "select",
	"select_option":      "select",
}

var roleTags = map[string]string{
	"button": "button",
	"link":   "a",
}

// scriptRule turns one matched line into an event. Rules are tried in order
// and the first rule that builds an event wins.
type scriptRule struct {
	name    string
	pattern *regexp.Regexp
	build   func(m []string) (models.RawEvent, bool)
}

var scriptGrammar = []scriptRule{
	{
		name:    "goto",
		pattern: regexp.MustCompile(`\bpage\.goto\(\s*` + strLit),
		build: func(m []string) (models.RawEvent, bool) {
			return models.RawEvent{Type: "navigate", URL: unquoteJS(m[1])}, true
		},
	},
	{
		name:    "locator",
		pattern: regexp.MustCompile(`\.locator\(\s*` + strLit + `\s*\)(?:\.first\(\))?\s*\.\s*(\w+)\(\s*` + optStrLit),
		build: func(m []string) (models.RawEvent, bool) {
			return actionEvent(unquoteJS(m[1]), m[2], m[3])
		},
	},
	{
		name:    "role",
		pattern: regexp.MustCompile(`\.get(?:By|_by_)(?:Role|role)\(\s*` + strLit + `(?:\s*,\s*\{?\s*name\s*[:=]\s*` + strLit + `)?[^)]*\)\s*\.\s*(\w+)\(\s*` + optStrLit),
		build: func(m []string) (models.RawEvent, bool) {
			role, name := unquoteJS(m[1]), unquoteJS(m[2])
			var sel string
			switch tag := roleTags[role]; {
			case name == "":
				sel = fmt.Sprintf(`[role="%s"]`, role)
			case tag != "":
				sel = fmt.Sprintf(`%s:has-text("%s")`, tag, cssQuote(name))
			default:
				sel = fmt.Sprintf(`[aria-label="%s"]`, cssQuote(name))
			}
			return actionEvent(sel, m[3], m[4])
		},
	},
	{
		name:    "attribute",
		pattern: regexp.MustCompile(`\.get(?:By|_by_)(TestId|test_id|Placeholder|placeholder|Label|label)\(\s*` + strLit + `[^)]*\)\s*\.\s*(\w+)\(\s*` + optStrLit),
		build: func(m []string) (models.RawEvent, bool) {
			attr := map[string]string{
				"TestId": "data-testid", "test_id": "data-testid",
				"Placeholder": "placeholder", "placeholder": "placeholder",
				"Label": "aria-label", "label": "aria-label",
			}[m[1]]
			sel := fmt.Sprintf(`[%s="%s"]`, attr, cssQuote(unquoteJS(m[2])))
			return actionEvent(sel, m[3], m[4])
		},
	},
	{
		name:    "page-action",
		pattern: regexp.MustCompile(`\bpage\.(\w+)\(\s*` + strLit + `(?:\s*,\s*` + strLit + `)?`),
		build: func(m []string) (models.RawEvent, bool) {
			return actionEvent(unquoteJS(m[2]), m[1], m[3])
		},
	},
}

func actionEvent(sel, method, arg string) (models.RawEvent, bool) {
	typ, ok := scriptActions[method]
	if !ok || sel == "" {
		return models.RawEvent{}, false
	}
	ev := models.RawEvent{Type: typ, Selector: sel}
	switch typ {
	case "fill", "select", "press":
		ev.Value = unquoteJS(arg)
	case "type":
		ev.Text = unquoteJS(arg)
	}
	return ev, true
}

// ParseScript extracts raw events from the text of a generated automation
// script. Lines that match no rule are ignored.
func ParseScript(text string) []models.RawEvent {
	var events []models.RawEvent
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || isComment(line) {
			continue
		}
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

func parseLine(line string) (models.RawEvent, bool) {
	for _, rule := range scriptGrammar {
		m := rule.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if ev, ok := rule.build(m); ok {
			return ev, true
		}
	}
	return models.RawEvent{}, false
}

func isComment(line string) bool {
	for _, p := range []string{"//", "#", "/*", "*"} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// unquoteJS strips the quotes of a string literal and resolves its escapes.
func unquoteJS(lit string) string {
	if len(lit) < 2 {
		return lit
	}
	body := lit[1 : len(lit)-1]
	if lit[0] == '`' {
		return body
	}
	var b strings.Builder
	escaped := false
	for _, r := range body {
		if !escaped {
			if r == '\\' {
				escaped = true
				continue
			}
			b.WriteRune(r)
			continue
		}
		escaped = false
		switch r {
		case 'n':
			b.WriteRune('\n')
		case 't':
			b.WriteRune('\t')
		case 'r':
			b.WriteRune('\r')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cssQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// codegenSource parses script text given at activation, or runs an external
// codegen command for the session URL and parses its output on stop.
type codegenSource struct {
	text    string
	command string
	url     string
	log     *zap.Logger

	mu      sync.Mutex
	sink    Sink
	cmd     *exec.Cmd
	outPath string
	exited  chan error
	stopped bool
}

func newCodegenSource(text string, opts Options) *codegenSource {
	return &codegenSource{
		text:    text,
		command: opts.CodegenCommand,
		url:     opts.URL,
		log:     opts.Logger.Named("codegen"),
	}
}

func (s *codegenSource) Kind() models.Source { return models.SourceGeneratedScript }

func (s *codegenSource) Start(ctx context.Context, sink Sink) error {
	if strings.TrimSpace(s.text) != "" {
		for _, ev := range ParseScript(s.text) {
			sink.Emit(ev)
		}
		return nil
	}
	if strings.TrimSpace(s.command) == "" {
		return fmt.Errorf("%w: no script text and no codegen command configured", ErrCaptureSource)
	}

	out, err := os.CreateTemp("", "codegen-*.js")
	if err != nil {
		return fmt.Errorf("%w: create output file: %v", ErrCaptureSource, err)
	}
	out.Close()

	args := expandCommand(s.command, s.url, out.Name())
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		os.Remove(out.Name())
		return fmt.Errorf("%w: start %s: %v", ErrCaptureSource, args[0], err)
	}
	s.log.Info("codegen started", zap.Strings("args", args), zap.Int("pid", cmd.Process.Pid))

	exited := make(chan error, 1)
	s.mu.Lock()
	s.sink, s.cmd, s.outPath, s.exited, s.stopped = sink, cmd, out.Name(), exited, false
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if err != nil && !stopped {
			s.log.Warn("codegen exited", zap.Error(err))
			sink.Fail(fmt.Errorf("%w: codegen exited: %v", ErrCaptureSource, err))
		}
		exited <- err
	}()
	return nil
}

func (s *codegenSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, exited, outPath, sink := s.cmd, s.exited, s.outPath, s.sink
	s.stopped = true
	s.cmd, s.sink = nil, nil
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}
	defer os.Remove(outPath)

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		s.log.Warn("codegen did not exit, killing", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-exited
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read codegen output: %v", ErrCaptureSource, err)
	}
	for _, ev := range ParseScript(string(data)) {
		sink.Emit(ev)
	}
	return nil
}

// expandCommand substitutes {url} and {output}; either is appended when the
// template omits it.
func expandCommand(tmpl, url, output string) []string {
	fields := strings.Fields(tmpl)
	var hasURL, hasOut bool
	for i, f := range fields {
		if strings.Contains(f, "{url}") {
			hasURL = true
			f = strings.ReplaceAll(f, "{url}", url)
		}
		if strings.Contains(f, "{output}") {
			hasOut = true
			f = strings.ReplaceAll(f, "{output}", output)
		}
		fields[i] = f
	}
	if !hasOut {
		fields = append(fields, "--output", output)
	}
	if !hasURL && url != "" {
		fields = append(fields, url)
	}
	return fields
}
