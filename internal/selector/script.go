package selector

// InPageScript installs window.__vtrResolve in the target page. It mirrors
// Resolve so that selectors recorded in the live page and selectors recovered
// from trace snapshots have the same shape.
func InPageScript() string {
	return `
(function() {
	if (window.__vtrResolve) return;

	var MAX_DEPTH = 64;
	var MAX_TEXT = 50;
	var DATA_ATTRS = ['data-testid', 'data-test-id', 'data-test', 'data-qa', 'data-cy'];

	function esc(s) {
		if (window.CSS && CSS.escape) return CSS.escape(s);
		return s.replace(/([^a-zA-Z0-9_\-\u0080-\uFFFF])/g, '\\$1');
	}
	function quote(s) {
		return s.replace(/\\/g, '\\\\').replace(/"/g, '\\"');
	}
	function unique(sel) {
		try { return document.querySelectorAll(sel).length === 1; } catch (e) { return false; }
	}
	function stableID(id) {
		return !!id && id.trim() !== '' && !/^[0-9]|[0-9]{4,}|^:/.test(id);
	}
	function norm(s) {
		return (s || '').replace(/\s+/g, ' ').trim();
	}

	function byClass(el) {
		var classes = (typeof el.className === 'string' ? el.className : '').trim().split(/\s+/).filter(Boolean);
		if (!classes.length) return '';
		var tag = el.tagName.toLowerCase();
		for (var i = 0; i < classes.length; i++) {
			if (unique('.' + esc(classes[i]))) return '.' + esc(classes[i]);
		}
		for (var j = 0; j < classes.length; j++) {
			if (unique(tag + '.' + esc(classes[j]))) return tag + '.' + esc(classes[j]);
		}
		var all = tag + classes.map(function(c) { return '.' + esc(c); }).join('');
		if (classes.length > 1 && unique(all)) return all;
		return '';
	}

	function byData(el) {
		var names = DATA_ATTRS.filter(function(n) { return el.getAttribute(n); });
		for (var i = 0; i < el.attributes.length; i++) {
			var a = el.attributes[i];
			if (a.name.indexOf('data-') === 0 && a.value && names.indexOf(a.name) < 0) names.push(a.name);
		}
		var tag = el.tagName.toLowerCase();
		for (var k = 0; k < names.length; k++) {
			var cand = '[' + names[k] + '="' + quote(el.getAttribute(names[k])) + '"]';
			if (unique(cand)) return cand;
			if (unique(tag + cand)) return tag + cand;
		}
		return '';
	}

	function byText(el) {
		var tag = el.tagName.toLowerCase();
		var role = el.getAttribute('role');
		if (tag !== 'button' && tag !== 'a' && role !== 'button' && role !== 'link') return '';
		var text = norm(el.textContent);
		if (!text || text.length >= MAX_TEXT) return '';
		var matches = Array.prototype.filter.call(document.getElementsByTagName(tag), function(n) {
			return norm(n.textContent) === text;
		});
		if (matches.length !== 1) return '';
		return tag + ':has-text("' + quote(text) + '")';
	}

	function path(el) {
		var parts = [];
		for (var depth = 0; el && el.nodeType === 1 && depth < MAX_DEPTH; depth++) {
			var tag = el.tagName.toLowerCase();
			if (depth > 0 && stableID(el.id)) { parts.unshift('#' + esc(el.id)); break; }
			if (tag === 'html') { parts.unshift(tag); break; }
			var part = tag;
			var parent = el.parentElement;
			if (parent) {
				var same = Array.prototype.filter.call(parent.children, function(c) { return c.tagName === el.tagName; });
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(el) + 1) + ')';
			}
			parts.unshift(part);
			el = parent;
		}
		return parts.length ? parts.join(' > ') : 'body';
	}

	window.__vtrResolve = function(el) {
		try {
			if (!el || el.nodeType !== 1) return 'body';
			if (stableID(el.id)) return '#' + esc(el.id);
			return byClass(el) || byData(el) || byText(el) || path(el);
		} catch (e) {
			return 'body';
		}
	};

	// Locates an element for a selector produced by __vtrResolve.
	window.__vtrFind = function(sel) {
		var m = /^([a-zA-Z][a-zA-Z0-9-]*):has-text\("((?:[^"\\]|\\.)*)"\)$/.exec(sel);
		if (m) {
			var text = m[2].replace(/\\(.)/g, '$1');
			var nodes = document.getElementsByTagName(m[1]);
			for (var i = 0; i < nodes.length; i++) {
				if (norm(nodes[i].textContent) === text) return nodes[i];
			}
			return null;
		}
		try { return document.querySelector(sel); } catch (e) { return null; }
	};
})();
`
}
