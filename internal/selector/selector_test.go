package selector

import (
	"strings"
	"testing"
)

const page = `<html><body>
<div id="app">
  <form id="login">
    <input id="email" class="field">
    <input class="field pw" name="password">
    <span class="hint">a</span><span class="hint">b</span>
    <button type="submit" class="btn">Sign in</button>
    <button class="btn" data-testid="cancel">Cancel</button>
  </form>
  <ul>
    <li class="item">one</li>
    <li class="item">two</li>
    <li class="item">three</li>
  </ul>
  <div id="12345"><p>x</p></div>
  <a href="/docs" class="nav">Documentation</a>
  <button class="btn">This button has a very long label that exceeds the limit</button>
</div>
</body></html>`

func mustResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := FromHTML(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestResolvePriority(t *testing.T) {
	r := mustResolver(t)
	tests := []struct {
		name string
		find string
		want string
	}{
		{"stable id", "#email", "#email"},
		{"unique class", "input.pw", ".pw"},
		{"data attribute", `[data-testid="cancel"]`, `[data-testid="cancel"]`},
		{"button text", "button[type=submit]", `button:has-text("Sign in")`},
		{"unique class beats text", "a", ".nav"},
		{"structural path", "li:nth-child(2)", "#app > ul > li:nth-of-type(2)"},
		{"unstable id skipped", "p", "#app > div > p"},
		{"long text falls back to path", "#app > button", "#app > button"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := r.Document().Find(tt.find)
			if el.Length() == 0 {
				t.Fatalf("fixture has no match for %q", tt.find)
			}
			if got := r.Resolve(el); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.find, got, tt.want)
			}
		})
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	r := mustResolver(t)
	if got := r.Resolve(nil); got != "body" {
		t.Errorf("Resolve(nil) = %q, want body", got)
	}
	if got := r.Resolve(r.Document().Find(".missing")); got != "body" {
		t.Errorf("Resolve(empty) = %q, want body", got)
	}
}

func TestResolveDeepTreeTerminates(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("<div>")
	}
	b.WriteString(`<span>deep</span>`)
	for i := 0; i < 200; i++ {
		b.WriteString("</div>")
	}
	r, err := FromHTML(strings.NewReader(b.String()))
	if err != nil {
		t.Fatal(err)
	}
	got := r.Resolve(r.Document().Find("span"))
	if n := strings.Count(got, ">") + 1; n > maxDepth {
		t.Errorf("path has %d parts, want at most %d", n, maxDepth)
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a.b", `a\.b`},
		{"1st", `\31 st`},
		{"-1x", `-\31 x`},
		{"-", `\-`},
		{"a b", `a\ b`},
		{"ä", "ä"},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestXPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`button:has-text("Sign in")`, `//button[normalize-space(.)="Sign in"]`, true},
		{`a:has-text("say \"hi\"")`, `//a[normalize-space(.)='say "hi"']`, true},
		{"#email", "", false},
	}
	for _, tt := range tests {
		got, ok := XPath(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("XPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
