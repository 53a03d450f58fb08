// Package content normalizes article HTML before it is stored, resolving
// relative URLs against the article's origin so a detached viewer renders
// links and images correctly.
package content

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NormalizeHTML rewrites relative href, src and srcset attributes in text
// against baseRaw. The rewrite is deterministic: feeding the output back in
// changes nothing, which keeps article reconciliation idempotent.
func NormalizeHTML(text, baseRaw string) string {
	base := parseBaseURL(baseRaw)
	if base == nil {
		return text
	}

	if !containsRewriteTargets(text) {
		return text
	}
	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(text), root)
	if err != nil {
		return text
	}
	changed := false
	for _, node := range nodes {
		if rewriteNode(node, base) {
			changed = true
		}
	}
	if !changed {
		return text
	}
	var b strings.Builder
	for _, node := range nodes {
		_ = html.Render(&b, node)
	}
	return b.String()
}

func rewriteNode(node *html.Node, base *url.URL) bool {
	changed := false
	if node.Type == html.ElementNode {
		switch node.Data {
		case "img":
			if rewriteAttr(node, "src", func(value string) (string, bool) {
				return resolveURL(value, base)
			}) {
				changed = true
			}
			if rewriteAttr(node, "srcset", func(value string) (string, bool) {
				return rewriteSrcset(value, base)
			}) {
				changed = true
			}
		case "source":
			if rewriteAttr(node, "srcset", func(value string) (string, bool) {
				return rewriteSrcset(value, base)
			}) {
				changed = true
			}
		case "a":
			if rewriteAttr(node, "href", func(value string) (string, bool) {
				return resolveURL(value, base)
			}) {
				changed = true
			}
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if rewriteNode(child, base) {
			changed = true
		}
	}
	return changed
}

func rewriteAttr(node *html.Node, key string, rewrite func(string) (string, bool)) bool {
	for i, attr := range node.Attr {
		if attr.Key != key {
			continue
		}
		if updated, ok := rewrite(attr.Val); ok {
			node.Attr[i].Val = updated
			return true
		}
		return false
	}
	return false
}

// resolveURL turns a relative reference into an absolute one. Absolute URLs,
// fragments and non-navigational schemes are left alone.
func resolveURL(value string, base *url.URL) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return value, false
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return value, false
	}
	if ref.Scheme != "" {
		return value, false
	}

	return base.ResolveReference(ref).String(), true
}

func containsRewriteTargets(text string) bool {
	return strings.Contains(text, "<img") || strings.Contains(text, "<source") || strings.Contains(text, "<a")
}

// parseBaseURL accepts only absolute http(s) URLs with a host so rewriting
// stays deterministic.
func parseBaseURL(raw string) *url.URL {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil
	}
	return parsed
}
