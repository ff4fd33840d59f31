// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// maxDepth stops runaway recursion on pathological documents.
const maxDepth = 256

// Document is what extraction pulls out of an HTML page.
type Document struct {
	Title    string
	Text     string
	Markdown string
	Links    []string
	Scripts  []string
	Metadata map[string]string
}

// Extract parses an HTML document. Relative links and script sources are
// resolved against base when it is non-nil.
func Extract(body string, base *url.URL) (*Document, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	x := &extractor{base: base, doc: &Document{Metadata: map[string]string{}}, seen: map[string]bool{}}
	x.walk(root, 0)

	x.doc.Title = collapse(x.doc.Title)
	x.doc.Text = clean(x.text.String())
	x.doc.Markdown = clean(x.md.String())
	return x.doc, nil
}

type extractor struct {
	base *url.URL
	doc  *Document
	text strings.Builder
	md   strings.Builder
	seen map[string]bool
}

func (x *extractor) write(s string) {
	x.text.WriteString(s)
	x.md.WriteString(s)
}

func (x *extractor) walk(n *html.Node, depth int) {
	if depth > maxDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		if t := collapse(n.Data); t != "" {
			if startsSpace(n.Data) {
				t = " " + t
			}
			if endsSpace(n.Data) {
				t += " "
			}
			x.write(t)
		}
		return
	case html.ElementNode:
		if !x.open(n) {
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		x.walk(c, depth+1)
	}

	if n.Type == html.ElementNode {
		x.close(n)
	}
}

// open handles a start tag and reports whether to descend into it.
func (x *extractor) open(n *html.Node) bool {
	switch n.Data {
	case "title":
		if x.doc.Title == "" {
			x.doc.Title = textOf(n)
		}
		return false
	case "meta":
		key := attr(n, "name")
		if key == "" {
			key = attr(n, "property")
		}
		if key != "" {
			x.doc.Metadata[strings.ToLower(key)] = attr(n, "content")
		}
		return false
	case "script":
		if src := attr(n, "src"); src != "" {
			x.doc.Scripts = append(x.doc.Scripts, x.resolve(src))
		}
		return false
	case "style", "noscript", "iframe", "svg", "template", "head":
		if n.Data == "head" {
			// head carries title and meta; walk it without emitting text
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode {
					x.open(c)
				}
			}
		}
		return false
	case "h1", "h2", "h3", "h4", "h5", "h6":
		x.text.WriteString("\n\n")
		x.md.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
	case "p", "div", "section", "article", "table", "blockquote":
		x.write("\n\n")
	case "br", "tr":
		x.write("\n")
	case "li":
		x.text.WriteString("\n- ")
		x.md.WriteString("\n- ")
	case "pre":
		x.text.WriteString("\n\n")
		x.md.WriteString("\n\n```\n")
	case "code":
		if !inside(n, "pre") {
			x.md.WriteString("`")
		}
	case "strong", "b":
		x.md.WriteString("**")
	case "em", "i":
		x.md.WriteString("*")
	case "a":
		if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
			link := x.resolve(href)
			if !x.seen[link] {
				x.seen[link] = true
				x.doc.Links = append(x.doc.Links, link)
			}
			x.md.WriteString("[")
		}
	case "img":
		if alt := attr(n, "alt"); alt != "" {
			x.write("[Image: " + alt + "] ")
		}
		return false
	}
	return true
}

func (x *extractor) close(n *html.Node) {
	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "section", "article", "table", "blockquote":
		x.write("\n\n")
	case "pre":
		x.text.WriteString("\n\n")
		x.md.WriteString("\n```\n\n")
	case "code":
		if !inside(n, "pre") {
			x.md.WriteString("`")
		}
	case "strong", "b":
		x.md.WriteString("**")
	case "em", "i":
		x.md.WriteString("*")
	case "a":
		if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
			x.md.WriteString("](" + x.resolve(href) + ")")
		}
	}
}

func (x *extractor) resolve(ref string) string {
	if x.base == nil {
		return ref
	}
	u, err := x.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func inside(n *html.Node, tag string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// collapse folds runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func startsSpace(s string) bool {
	return s != "" && strings.ContainsRune(" \t\r\n", rune(s[0]))
}

func endsSpace(s string) bool {
	return s != "" && strings.ContainsRune(" \t\r\n", rune(s[len(s)-1]))
}

// clean trims lines and limits blank runs to one empty line.
func clean(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
