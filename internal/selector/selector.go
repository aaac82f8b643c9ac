// Package selector derives stable CSS-like locators for DOM elements.
//
// The priority chain is id, unique class, unique data attribute, short text
// of an interactive control, and finally a structural path. Resolve never
// fails; the structural path is always available.
package selector

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	maxDepth   = 64
	maxTextLen = 50
)

var (
	unstableID  = regexp.MustCompile(`^[0-9]|[0-9]{4,}|^:`)
	hasTextExpr = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9-]*):has-text\("((?:[^"\\]|\\.)*)"\)$`)

	preferredDataAttrs = []string{"data-testid", "data-test-id", "data-test", "data-qa", "data-cy"}
)

// Resolver resolves selectors against one parsed document.
type Resolver struct {
	doc *goquery.Document
}

func New(doc *goquery.Document) *Resolver {
	return &Resolver{doc: doc}
}

func FromHTML(r io.Reader) (*Resolver, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return New(doc), nil
}

func (r *Resolver) Document() *goquery.Document {
	return r.doc
}

// Resolve returns a selector for the first element of el.
func (r *Resolver) Resolve(el *goquery.Selection) string {
	if el == nil || el.Length() == 0 {
		return "body"
	}
	el = el.First()
	if el.Get(0).Type != html.ElementNode {
		return "body"
	}

	if id, ok := el.Attr("id"); ok && isStableID(id) {
		return "#" + Escape(id)
	}
	if s := r.byClass(el); s != "" {
		return s
	}
	if s := r.byData(el); s != "" {
		return s
	}
	if s := r.byText(el); s != "" {
		return s
	}
	return r.path(el)
}

func (r *Resolver) unique(sel string) bool {
	return r.doc.Find(sel).Length() == 1
}

func (r *Resolver) byClass(el *goquery.Selection) string {
	class, _ := el.Attr("class")
	classes := strings.Fields(class)
	if len(classes) == 0 {
		return ""
	}
	tag := goquery.NodeName(el)
	for _, c := range classes {
		if cand := "." + Escape(c); r.unique(cand) {
			return cand
		}
	}
	for _, c := range classes {
		if cand := tag + "." + Escape(c); r.unique(cand) {
			return cand
		}
	}
	var b strings.Builder
	b.WriteString(tag)
	for _, c := range classes {
		b.WriteString("." + Escape(c))
	}
	if cand := b.String(); len(classes) > 1 && r.unique(cand) {
		return cand
	}
	return ""
}

func (r *Resolver) byData(el *goquery.Selection) string {
	var names []string
	for _, name := range preferredDataAttrs {
		if v, ok := el.Attr(name); ok && v != "" {
			names = append(names, name)
		}
	}
	for _, a := range el.Get(0).Attr {
		if strings.HasPrefix(a.Key, "data-") && a.Val != "" && !contains(names, a.Key) {
			names = append(names, a.Key)
		}
	}
	tag := goquery.NodeName(el)
	for _, name := range names {
		v, _ := el.Attr(name)
		cand := fmt.Sprintf(`[%s="%s"]`, name, quote(v))
		if r.unique(cand) {
			return cand
		}
		if r.unique(tag + cand) {
			return tag + cand
		}
	}
	return ""
}

func (r *Resolver) byText(el *goquery.Selection) string {
	if !isInteractive(el) {
		return ""
	}
	text := normalizeText(el.Text())
	if text == "" || len([]rune(text)) >= maxTextLen {
		return ""
	}
	tag := goquery.NodeName(el)
	matches := 0
	r.doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
		if normalizeText(s.Text()) == text {
			matches++
		}
	})
	if matches != 1 {
		return ""
	}
	return fmt.Sprintf(`%s:has-text("%s")`, tag, quote(text))
}

// path walks up to the nearest ancestor with a stable id or the root.
func (r *Resolver) path(el *goquery.Selection) string {
	var parts []string
	n := el.Get(0)
	for depth := 0; n != nil && n.Type == html.ElementNode && depth < maxDepth; depth++ {
		tag := n.Data
		if depth > 0 {
			if id := attr(n, "id"); isStableID(id) {
				parts = append(parts, "#"+Escape(id))
				break
			}
		}
		if tag == "html" {
			parts = append(parts, tag)
			break
		}
		part := tag
		if idx, count := nthOfType(n); count > 1 {
			part = fmt.Sprintf("%s:nth-of-type(%d)", tag, idx)
		}
		parts = append(parts, part)
		n = n.Parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	if len(parts) == 0 {
		return "body"
	}
	return strings.Join(parts, " > ")
}

func nthOfType(n *html.Node) (idx, count int) {
	if n.Parent == nil {
		return 1, 1
	}
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		count++
		if c == n {
			idx = count
		}
	}
	return idx, count
}

func isInteractive(el *goquery.Selection) bool {
	switch goquery.NodeName(el) {
	case "button", "a":
		return true
	}
	role, _ := el.Attr("role")
	return role == "button" || role == "link"
}

func isStableID(id string) bool {
	return strings.TrimSpace(id) != "" && !unstableID.MatchString(id)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// quote escapes a value for a double-quoted CSS string.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func unquote(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Escape escapes a CSS identifier following the CSS.escape() algorithm.
func Escape(ident string) string {
	runes := []rune(ident)
	var b strings.Builder
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, `\%x `, r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, `\%x `, r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TextMatch splits a text descriptor produced by Resolve into tag and text.
func TextMatch(sel string) (tag, text string, ok bool) {
	m := hasTextExpr.FindStringSubmatch(strings.TrimSpace(sel))
	if m == nil {
		return "", "", false
	}
	return m[1], unquote(m[2]), true
}

// XPath converts a text descriptor into an equivalent XPath expression.
func XPath(sel string) (string, bool) {
	tag, text, ok := TextMatch(sel)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("//%s[normalize-space(.)=%s]", tag, xpathLiteral(text)), true
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(quoted, `, '"', `) + ")"
}
