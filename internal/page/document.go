package page

import (
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// AssetKind is the class of a referenced asset.
type AssetKind string

const (
	AssetScript     AssetKind = "script"
	AssetStylesheet AssetKind = "stylesheet"
	AssetImage      AssetKind = "image"
)

// AssetReference is one asset found in a page.
type AssetReference struct {
	Kind AssetKind
	// RawPath is the attribute value as written in the markup.
	RawPath string
	// ResolvedPath is RawPath joined against the page directory with any
	// query string or fragment removed.
	ResolvedPath string
	// IsExternal is set for remote, protocol-relative and data: references,
	// which are never touched.
	IsExternal bool

	node *html.Node
}

// IsExternalPath reports whether a reference points outside the local
// filesystem.
func IsExternalPath(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:")
}

// resolvePath joins raw against dir, dropping query and fragment and
// decoding percent escapes.
func resolvePath(dir, raw string) string {
	p := strings.TrimSpace(raw)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	return filepath.Join(dir, filepath.FromSlash(p))
}

// FindReferences walks doc in document order and returns every script,
// stylesheet and image reference. dir is the page directory.
func FindReferences(doc *html.Node, dir string) []AssetReference {
	var refs []AssetReference

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if ref, ok := referenceOf(n, dir); ok {
				refs = append(refs, ref)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return refs
}

func referenceOf(n *html.Node, dir string) (AssetReference, bool) {
	var kind AssetKind
	var raw string
	var ok bool

	switch n.DataAtom {
	case atom.Script:
		kind = AssetScript
		raw, ok = attr(n, "src")
	case atom.Link:
		if !isStylesheetLink(n) {
			return AssetReference{}, false
		}
		kind = AssetStylesheet
		raw, ok = attr(n, "href")
	case atom.Img:
		kind = AssetImage
		raw, ok = attr(n, "src")
	default:
		return AssetReference{}, false
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return AssetReference{}, false
	}

	ref := AssetReference{
		Kind:       kind,
		RawPath:    raw,
		IsExternal: IsExternalPath(raw),
		node:       n,
	}
	if !ref.IsExternal {
		ref.ResolvedPath = resolvePath(dir, raw)
	}
	return ref, true
}

func isStylesheetLink(n *html.Node) bool {
	rel, ok := attr(n, "rel")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(rel) {
		if strings.EqualFold(token, "stylesheet") {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			continue
		}
		attrs = append(attrs, a)
	}
	n.Attr = attrs
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// inlineScript drops the src attribute and makes body the script's text.
func inlineScript(n *html.Node, body string) {
	removeAttr(n, "src")
	removeChildren(n)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: body})
}

// inlineStylesheet replaces a <link rel=stylesheet> with a <style> holding
// css. A media attribute is carried over.
func inlineStylesheet(n *html.Node, css string) {
	style := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Style,
		Data:     "style",
	}
	if media, ok := attr(n, "media"); ok && media != "" {
		style.Attr = append(style.Attr, html.Attribute{Key: "media", Val: media})
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})

	if n.Parent == nil {
		return
	}
	n.Parent.InsertBefore(style, n)
	n.Parent.RemoveChild(n)
}

// inlineImage points the image at its data URI.
func inlineImage(n *html.Node, dataURI string) {
	setAttr(n, "src", dataURI)
}

// findElement returns the first element with the given atom.
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// injectSnippet appends the live reload script to <head>, falling back to
// <body> and then the document itself.
func injectSnippet(doc *html.Node) {
	script := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
	}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: ReloadSnippet})

	target := findElement(doc, atom.Head)
	if target == nil {
		target = findElement(doc, atom.Body)
	}
	if target == nil {
		target = doc
	}
	target.AppendChild(script)
}
