package capture

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

const maxSnapshotDepth = 256

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true,
	"track": true, "wbr": true,
}

// renderSnapshot turns a frame snapshot into HTML. Snapshots are either a
// plain HTML string or nested [tag, {attrs}, ...children] arrays. References
// into earlier snapshots ([[snapshotsAgo, index]]) are not resolved and
// render as nothing.
func renderSnapshot(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	if s, ok := node.(string); ok {
		return s
	}
	var b strings.Builder
	writeSnapshotNode(&b, node, 0)
	return b.String()
}

func writeSnapshotNode(b *strings.Builder, node any, depth int) {
	if depth > maxSnapshotDepth {
		return
	}
	switch n := node.(type) {
	case string:
		b.WriteString(html.EscapeString(n))
	case []any:
		if len(n) == 0 {
			return
		}
		tag, ok := n[0].(string)
		if !ok || tag == "" {
			return
		}
		tag = strings.ToLower(tag)
		children := n[1:]
		var attrs map[string]any
		if len(children) > 0 {
			if a, ok := children[0].(map[string]any); ok {
				attrs = a
				children = children[1:]
			}
		}

		b.WriteString("<" + tag)
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, ` %s="%s"`, k, html.EscapeString(fmt.Sprint(attrs[k])))
		}
		b.WriteString(">")
		if voidElements[tag] {
			return
		}
		for _, c := range children {
			writeSnapshotNode(b, c, depth+1)
		}
		b.WriteString("</" + tag + ">")
	}
}
