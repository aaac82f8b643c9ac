package synth

import (
	"strings"
	"testing"
	"time"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

func sample() []models.Step {
	return []models.Step{
		{ID: "1", Type: models.StepNavigate, Value: "https://example.com"},
		{ID: "2", Type: models.StepClick, Selector: "#submit"},
		{ID: "3", Type: models.StepFill, Selector: "#name", Value: "Al'ice \"quoted\"\nnext"},
		{ID: "4", Type: models.StepPress, Selector: "body", Value: "Enter"},
		{ID: "5", Type: models.StepType("hover"), Selector: "#menu"},
		{ID: "6", Type: models.StepClick, Selector: "trace-point(10,20)"},
	}
}

func TestSynthesizeWrapsEveryStep(t *testing.T) {
	out := Synthesize(sample(), "checkout")

	for _, want := range []string{
		"// Recorded script: checkout",
		"class StepError extends Error",
		`const SCRIPT_NAME = "checkout";`,
		"async function run(page) {",
		`await page.goto("https://example.com");`,
		`await page.click("#submit");`,
		`await page.fill("#name", "Al'ice \"quoted\"\nnext");`,
		`await page.keyboard.press("Enter");`,
		`throw new StepError("checkout", 1, err);`,
		`throw new StepError("checkout", 4, err);`,
		`// Step 5: skipped unsupported step type "hover"`,
		"// Step 6: skipped click, target not recovered (trace-point(10,20))",
		"module.exports = { name: SCRIPT_NAME, run, StepError };",
		"if (require.main === module) {",
		"// Steps: 6 (2 skipped)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("script missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "StepError(\"checkout\", 5,") || strings.Contains(out, "StepError(\"checkout\", 6,") {
		t.Error("skipped steps must not be executed")
	}
	if got := strings.Count(out, "try {"); got != 5 {
		// four wrapped steps plus the runner
		t.Errorf("try blocks = %d, want 5", got)
	}
}

func TestSynthesizeIsIdempotent(t *testing.T) {
	steps := sample()
	first := Synthesize(steps, "login")

	now = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { now = time.Now }()
	second := Synthesize(steps, "login")

	if first == second {
		t.Fatal("expected differing generation timestamps")
	}
	if StripGenerated(first) != StripGenerated(second) {
		t.Error("renderings differ outside the generation line")
	}
	if strings.Count(first, GeneratedPrefix) != 1 {
		t.Error("expected exactly one generation line")
	}
}

func TestSynthesizeCommentsCannotBreakOut(t *testing.T) {
	steps := []models.Step{{Type: models.StepClick, Selector: "a\n}); process.exit(1); //"}}
	out := Synthesize(steps, "evil\nname")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "}); process.exit(1)") {
			t.Fatalf("selector escaped its comment: %q", line)
		}
	}
	if !strings.Contains(out, "// Recorded script: evil name") {
		t.Error("name not flattened in header comment")
	}
}

func TestSynthesizeEmpty(t *testing.T) {
	out := Synthesize(nil, "")
	if !strings.Contains(out, `const SCRIPT_NAME = "recording";`) {
		t.Error("empty name should default")
	}
	if !strings.Contains(out, "async function run(page) {\n}") {
		t.Errorf("expected empty run body\n%s", out)
	}
}

func TestSynthesizeSuite(t *testing.T) {
	out := SynthesizeSuite("nightly", []Script{
		{Name: "login", Steps: sample()[:2]},
		{Name: "search", Steps: []models.Step{{Type: models.StepFill, Selector: "#q", Value: "go"}}},
	})
	for _, want := range []string{
		"// Recorded suite: nightly",
		"async function run1(page) {",
		"async function run2(page) {",
		`throw new StepError("search", 1, err);`,
		`{ name: "login", run: run1 },`,
		`{ name: "search", run: run2 },`,
		"failures.push({ scriptName: script.name, stepIndex, message: err.message });",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("suite missing %q\n%s", want, out)
		}
	}
	if strings.Count(out, "class StepError") != 1 {
		t.Error("StepError must be declared once per suite")
	}
}
