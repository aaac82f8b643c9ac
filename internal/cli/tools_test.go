package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	toolName, toolOut, toolSuite = "", "", false
	var out, errOut bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseScriptStdin(t *testing.T) {
	script := "await page.goto('https://example.com');\nawait page.fill('#q', 'go');\nawait page.press('#q', 'Enter');\n"
	out, err := run(t, script, "parse-script")
	if err != nil {
		t.Fatal(err)
	}
	var list []models.Step
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(list) != 3 || list[1].Value != "go" || list[2].Type != models.StepPress {
		t.Errorf("steps = %+v", list)
	}
	for _, s := range list {
		if s.Source != models.SourceGeneratedScript {
			t.Errorf("source = %s", s.Source)
		}
	}
}

func TestParseScriptEmpty(t *testing.T) {
	out, err := run(t, "console.log('nothing');\n", "parse-script", "-")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("out = %q", out)
	}
}

func TestParseTraceMissingFile(t *testing.T) {
	if _, err := run(t, "", "parse-trace", filepath.Join(t.TempDir(), "none.zip")); err == nil {
		t.Fatal("expected an error")
	}
}

func TestSynthesize(t *testing.T) {
	dir := t.TempDir()
	steps := `[{"id":"1","type":"navigate","value":"https://example.com","source":"manual","timestamp":1},
{"id":"2","type":"click","selector":"#go","value":"","source":"manual","timestamp":2}]`
	a := filepath.Join(dir, "login.steps.json")
	b := filepath.Join(dir, "search.json")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte(steps), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  []string
	}{
		{"stdin", steps, []string{"synthesize", "--name", "flow"}, []string{`const SCRIPT_NAME = "flow"`, `page.click("#go")`}},
		{"file", "", []string{"synthesize", a}, []string{`const SCRIPT_NAME = "recording"`}},
		{"suite", "", []string{"synthesize", "--suite", a, b}, []string{"runSuite", `"login"`, `"search"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestSynthesizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"bad json", "{", []string{"synthesize"}},
		{"suite without files", "", []string{"synthesize", "--suite"}},
		{"two files without suite", "", []string{"synthesize", "a.json", "b.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.stdin, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSynthesizeWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.js")
	if _, err := run(t, "[]", "synthesize", "-o", path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "async function run(page)") {
		t.Errorf("file = %q, %v", data, err)
	}
}
