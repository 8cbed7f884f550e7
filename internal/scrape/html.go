package scrape

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	minIngredientText  = 3
	minInstructionText = 11
)

// walk visits n depth-first. fn returns false to skip n's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && pred(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && pred(c) {
			out = append(out, c)
			return false
		}
		return true
	})
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func classContains(n *html.Node, subs ...string) bool {
	cls := strings.ToLower(attr(n, "class"))
	if cls == "" {
		return false
	}
	for _, s := range subs {
		if strings.Contains(cls, s) {
			return true
		}
	}
	return false
}

func hasClass(n *html.Node, name string) bool {
	for _, c := range strings.Fields(strings.ToLower(attr(n, "class"))) {
		if c == name {
			return true
		}
	}
	return false
}

func isTag(tags ...atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, t := range tags {
			if n.DataAtom == t {
				return true
			}
		}
		return false
	}
}

// rawText concatenates the text children of n without interpretation.
func rawText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func skipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg, atom.Iframe, atom.Nav:
		return true
	}
	return false
}

func isBlock(n *html.Node) bool {
	switch n.DataAtom {
	case atom.P, atom.Div, atom.Li, atom.Br, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Tr, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Ul, atom.Ol, atom.Table:
		return true
	}
	return false
}

// textOf returns the visible text of n on a single line.
func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && skipped(c) {
			return false
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return cleanText(b.String())
}

// blockLines returns the visible text of n with block elements on their
// own lines.
func blockLines(n *html.Node) []string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			if skipped(c) {
				return
			}
			if isBlock(c) {
				b.WriteByte('\n')
				defer b.WriteByte('\n')
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			visit(cc)
		}
	}
	visit(n)

	var out []string
	for _, ln := range strings.Split(b.String(), "\n") {
		if ln = cleanText(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// pageTitle returns the document <title>.
func pageTitle(doc *html.Node) string {
	if t := find(doc, isTag(atom.Title)); t != nil {
		return cleanText(rawText(t))
	}
	return ""
}

// htmlRecipe finds a recipe laid out with the common class names recipe
// sites use. It returns "" when neither an ingredient nor an instruction
// container is found.
func htmlRecipe(doc *html.Node) string {
	var title string
	for _, pred := range []func(*html.Node) bool{
		func(n *html.Node) bool { return n.DataAtom == atom.H1 && classContains(n, "recipe", "title") },
		func(n *html.Node) bool { return hasClass(n, "recipe-title") || hasClass(n, "recipe-name") },
		isTag(atom.H1),
	} {
		if n := find(doc, pred); n != nil {
			if title = textOf(n); title != "" {
				break
			}
		}
	}

	ingredients := listItems(doc, []string{"ingredient"}, minIngredientText, atom.Li)
	steps := listItems(doc, []string{"instruction", "direction", "method", "step"}, minInstructionText, atom.Li, atom.P)
	if len(ingredients) == 0 && len(steps) == 0 {
		return ""
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(title + "\n")
	}
	if len(ingredients) > 0 {
		b.WriteString("\nINGREDIENTS:\n")
		for _, ing := range ingredients {
			b.WriteString("• " + ing + "\n")
		}
	}
	if len(steps) > 0 {
		b.WriteString("\nINSTRUCTIONS:\n")
		for i, s := range steps {
			b.WriteString(strconv.Itoa(i+1) + ". " + s + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// listItems finds the first container whose class mentions one of subs and
// has item children, and returns the item texts of at least minLen bytes.
func listItems(doc *html.Node, subs []string, minLen int, items ...atom.Atom) []string {
	var out []string
	find(doc, func(n *html.Node) bool {
		if !classContains(n, subs...) {
			return false
		}
		for _, it := range findAll(n, isTag(items...)) {
			if s := textOf(it); len(s) >= minLen {
				out = append(out, s)
			}
		}
		return len(out) > 0
	})
	return out
}

// bodyText is the last resort: visible text of main, article or body.
func bodyText(doc *html.Node) string {
	root := find(doc, isTag(atom.Main))
	if root == nil {
		root = find(doc, isTag(atom.Article))
	}
	if root == nil {
		root = find(doc, isTag(atom.Body))
	}
	if root == nil {
		root = doc
	}
	return strings.Join(blockLines(root), "\n")
}
