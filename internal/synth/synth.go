// Package synth renders recorded steps as a runnable Playwright test script.
//
// Every step is wrapped on its own: a failure at step i throws a StepError
// carrying the script name, the 1-based step index and the underlying
// message, and stops only that script. Output is deterministic apart from
// the "Generated at" header line.
package synth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// GeneratedPrefix starts the only line that differs between two renderings
// of the same steps.
const GeneratedPrefix = "// Generated at "

var now = time.Now

// Script is one named step list inside a suite.
type Script struct {
	Name  string        `json:"name"`
	Steps []models.Step `json:"steps"`
}

type renderedStep struct {
	Index   int
	Comment string
	Body    string // empty when the step is skipped
}

type renderedScript struct {
	Name     string
	NameLit  string
	Func     string
	Steps    []renderedStep
	Skipped  int
	Executed int
}

const stepErrorClass = `class StepError extends Error {
  constructor(scriptName, stepIndex, cause) {
    const message = cause && cause.message ? cause.message : String(cause);
    super(scriptName + ': step ' + stepIndex + ' failed: ' + message);
    this.name = 'StepError';
    this.scriptName = scriptName;
    this.stepIndex = stepIndex;
    this.cause = cause;
  }
}`

var funcs = template.FuncMap{"indent": indent}

var scriptTemplate = template.Must(template.New("script").Funcs(funcs).Parse(`// Recorded script: {{.Script.Name}}
{{.Generated}}
// Steps: {{len .Script.Steps}}{{if .Script.Skipped}} ({{.Script.Skipped}} skipped){{end}}

` + stepErrorClass + `

const SCRIPT_NAME = {{.Script.NameLit}};
{{template "func" .Script}}
module.exports = { name: SCRIPT_NAME, run, StepError };

if (require.main === module) {
  (async () => {
    const { chromium } = require('playwright');
    const browser = await chromium.launch({ headless: {{.Headless}} });
    const page = await browser.newPage();
    try {
      await run(page);
      console.log(SCRIPT_NAME + ': passed');
    } catch (err) {
      console.error(err.message);
      process.exitCode = 1;
    } finally {
      await browser.close();
    }
  })();
}
{{define "func"}}
async function {{.Func}}(page) {
{{- range .Steps}}
  // Step {{.Index}}: {{.Comment}}
{{- if .Body}}
  try {
{{indent .Body "    "}}
  } catch (err) {
    throw new StepError({{$.NameLit}}, {{.Index}}, err);
  }
{{- end}}
{{- end}}
}
{{end}}`))

var suiteTemplate = template.Must(template.New("suite").Funcs(funcs).Parse(`// Recorded suite: {{.Name}}
{{.Generated}}
// Scripts: {{len .Scripts}}

` + stepErrorClass + `
{{range .Scripts}}{{template "func" .}}{{end}}
const scripts = [
{{- range .Scripts}}
  { name: {{.NameLit}}, run: {{.Func}} },
{{- end}}
];

async function runSuite(browser) {
  const failures = [];
  for (const script of scripts) {
    const page = await browser.newPage();
    try {
      await script.run(page);
      console.log(script.name + ': passed');
    } catch (err) {
      const stepIndex = err instanceof StepError ? err.stepIndex : 0;
      failures.push({ scriptName: script.name, stepIndex, message: err.message });
      console.error(err.message);
    } finally {
      await page.close();
    }
  }
  return failures;
}

module.exports = { scripts, runSuite, StepError };

if (require.main === module) {
  (async () => {
    const { chromium } = require('playwright');
    const browser = await chromium.launch({ headless: {{.Headless}} });
    try {
      const failures = await runSuite(browser);
      if (failures.length > 0) process.exitCode = 1;
    } finally {
      await browser.close();
    }
  })();
}
`))

func init() {
	template.Must(suiteTemplate.AddParseTree("func", scriptTemplate.Lookup("func").Tree))
}

// Synthesize renders steps as a standalone script named name.
func Synthesize(steps []models.Step, name string) string {
	return render(scriptTemplate, map[string]any{
		"Script":    renderScript(name, "run", steps),
		"Generated": GeneratedPrefix + now().UTC().Format(time.RFC3339),
		"Headless":  false,
	})
}

// SynthesizeSuite renders one runner for several scripts. The runner records
// each failing script with its step index and moves on to the next script.
func SynthesizeSuite(name string, scripts []Script) string {
	rendered := make([]renderedScript, len(scripts))
	for i, s := range scripts {
		rendered[i] = renderScript(s.Name, fmt.Sprintf("run%d", i+1), s.Steps)
	}
	return render(suiteTemplate, map[string]any{
		"Name":      name,
		"Scripts":   rendered,
		"Generated": GeneratedPrefix + now().UTC().Format(time.RFC3339),
		"Headless":  true,
	})
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	// The templates are fixed and the data is plain strings; Execute only
	// fails on a template bug.
	if err := t.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("synth: %v", err))
	}
	return buf.String()
}

func renderScript(name, fn string, steps []models.Step) renderedScript {
	if strings.TrimSpace(name) == "" {
		name = "recording"
	}
	rs := renderedScript{Name: oneLine(name), NameLit: lit(name), Func: fn}
	for i, s := range steps {
		body, comment := statement(s)
		if body == "" {
			rs.Skipped++
		} else {
			rs.Executed++
		}
		rs.Steps = append(rs.Steps, renderedStep{Index: i + 1, Comment: comment, Body: body})
	}
	return rs
}

// statement returns the executable body for s and a one-line description.
// An empty body means the step is kept only as a comment.
func statement(s models.Step) (string, string) {
	sel := lit(s.Selector)
	val := lit(s.Value)
	desc := oneLine(fmt.Sprintf("%s %s", s.Type, describe(s)))

	if s.Type.NeedsSelector() && capture.IsPlaceholder(s.Selector) {
		return "", "skipped " + oneLine(string(s.Type)) + ", target not recovered (" + oneLine(s.Selector) + ")"
	}

	switch s.Type {
	case models.StepNavigate:
		return fmt.Sprintf("await page.goto(%s);", val), desc
	case models.StepClick:
		return fmt.Sprintf("await page.click(%s);", sel), desc
	case models.StepFill:
		return fmt.Sprintf("await page.fill(%s, %s);", sel, val), desc
	case models.StepTypeText:
		return fmt.Sprintf("await page.type(%s, %s);", sel, val), desc
	case models.StepSelect:
		return fmt.Sprintf("await page.selectOption(%s, %s);", sel, val), desc
	case models.StepCheck:
		return fmt.Sprintf("await page.check(%s);", sel), desc
	case models.StepUncheck:
		return fmt.Sprintf("await page.uncheck(%s);", sel), desc
	case models.StepPress:
		if s.Selector == "" || s.Selector == "body" {
			return fmt.Sprintf("await page.keyboard.press(%s);", val), desc
		}
		return fmt.Sprintf("await page.press(%s, %s);", sel, val), desc
	case models.StepSubmit:
		return fmt.Sprintf(`await page.$eval(%s, (el) => {
  const form = el.tagName === 'FORM' ? el : el.form;
  if (!form) throw new Error('no form to submit');
  form.requestSubmit ? form.requestSubmit() : form.submit();
});`, sel), desc
	}
	return "", "skipped unsupported step type " + lit(string(s.Type))
}

func describe(s models.Step) string {
	switch s.Type {
	case models.StepNavigate:
		return s.Value
	case models.StepFill, models.StepTypeText, models.StepSelect, models.StepPress:
		return fmt.Sprintf("%s = %s", s.Selector, lit(s.Value))
	}
	return s.Selector
}

// lit renders s as a JavaScript string literal. encoding/json output is a
// valid JS literal and escapes U+2028/U+2029.
func lit(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// oneLine keeps comment text from breaking out of a // comment.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\u2028", " ", "\u2029", " ").Replace(s)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// StripGenerated removes the generation timestamp line so two renderings can
// be compared.
func StripGenerated(script string) string {
	lines := strings.Split(script, "\n")
	out := lines[:0]
	for _, l := range lines {
		if !strings.HasPrefix(l, GeneratedPrefix) {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
