package browser

import (
	"encoding/json"
	"fmt"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/selector"
)

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// FindExpr is a JavaScript expression evaluating to the element matched by
// sel, or null.
func FindExpr(sel string) string {
	if xp, ok := selector.XPath(sel); ok {
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", jsString(xp))
	}
	return fmt.Sprintf("document.querySelector(%s)", jsString(sel))
}

func selectScript(sel, value string) string {
	return fmt.Sprintf(`(function() {
	var el = %s;
	if (!el) throw new Error('element not found: ' + %s);
	el.value = %s;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return el.value;
})()`, FindExpr(sel), jsString(sel), jsString(value))
}

func submitScript(sel string) string {
	return fmt.Sprintf(`(function() {
	var el = %s;
	if (!el) throw new Error('element not found: ' + %s);
	var form = el.tagName === 'FORM' ? el : el.form;
	if (!form) throw new Error('no form for ' + %s);
	if (form.requestSubmit) form.requestSubmit(); else form.submit();
	return true;
})()`, FindExpr(sel), jsString(sel), jsString(sel))
}
