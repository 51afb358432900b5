package sportsref

import (
	"strings"

	"golang.org/x/net/html"
)

// cell is one th/td keyed by its data-stat attribute.
type cell struct {
	text string
	csk  string
	href string
}

type row map[string]cell

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// findAll returns every element matching pred, in document order. Tables
// that the site ships inside HTML comments are parsed and searched too.
func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if pred(n) {
				out = append(out, n)
			}
		case html.CommentNode:
			if strings.Contains(n.Data, "<table") {
				if doc, err := html.Parse(strings.NewReader(n.Data)); err == nil {
					walk(doc)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if all := findAll(root, pred); len(all) > 0 {
		return all[0]
	}
	return nil
}

func tableByID(root *html.Node, id string) *html.Node {
	return findFirst(root, func(n *html.Node) bool {
		return n.Data == "table" && attr(n, "id") == id
	})
}

func parseRow(tr *html.Node) row {
	r := make(row)
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		stat := attr(c, "data-stat")
		if stat == "" {
			continue
		}
		ce := cell{text: textOf(c), csk: attr(c, "csk")}
		if a := findFirst(c, func(n *html.Node) bool { return n.Data == "a" }); a != nil {
			ce.href = attr(a, "href")
		}
		r[stat] = ce
	}
	return r
}

// bodyRows returns the data rows of a table, skipping repeated header rows.
func bodyRows(table *html.Node) []row {
	if table == nil {
		return nil
	}
	var out []row
	for _, tbody := range findAll(table, func(n *html.Node) bool { return n.Data == "tbody" }) {
		for tr := tbody.FirstChild; tr != nil; tr = tr.NextSibling {
			if tr.Type != html.ElementNode || tr.Data != "tr" || hasClass(tr, "thead") {
				continue
			}
			if r := parseRow(tr); len(r) > 0 {
				out = append(out, r)
			}
		}
	}
	return out
}

// footRow returns the first tfoot row (team totals).
func footRow(table *html.Node) row {
	tfoot := findFirst(table, func(n *html.Node) bool { return n.Data == "tfoot" })
	if tfoot == nil {
		return nil
	}
	tr := findFirst(tfoot, func(n *html.Node) bool { return n.Data == "tr" })
	if tr == nil {
		return nil
	}
	return parseRow(tr)
}
