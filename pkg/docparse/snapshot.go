package docparse

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxHeadings = 20

// Snapshot is the marketing-relevant outline of a web page.
type Snapshot struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Headings    []string `json:"headings,omitempty"`
}

// IsZero reports whether nothing was extracted.
func (s Snapshot) IsZero() bool {
	return s.Title == "" && s.Description == "" && len(s.Headings) == 0
}

// String renders the snapshot as prompt-ready text.
func (s Snapshot) String() string {
	var b strings.Builder
	if s.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", s.Title)
	}
	if s.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", s.Description)
	}
	if len(s.Headings) > 0 {
		b.WriteString("Headings:\n")
		for _, h := range s.Headings {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	return strings.TrimSpace(b.String())
}

// ParseSnapshot reads title, meta description (or og:description) and
// h1-h3 headings from an HTML page.
func ParseSnapshot(r io.Reader) (Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse html: %w", err)
	}
	var (
		snap   Snapshot
		ogDesc string
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if snap.Title == "" {
					snap.Title = normalizeText(extractText(n))
				}
			case atom.Meta:
				name := strings.ToLower(attr(n, "name"))
				prop := strings.ToLower(attr(n, "property"))
				content := normalizeText(attr(n, "content"))
				if name == "description" && snap.Description == "" {
					snap.Description = content
				}
				if prop == "og:description" && ogDesc == "" {
					ogDesc = content
				}
			case atom.H1, atom.H2, atom.H3:
				if h := normalizeText(extractText(n)); h != "" && len(snap.Headings) < maxHeadings {
					snap.Headings = append(snap.Headings, h)
				}
				return
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if snap.Description == "" {
		snap.Description = ogDesc
	}
	return snap, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
