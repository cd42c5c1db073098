// Package links handles the links embedded in page markdown: the
// "(text)[owner/id]" shorthand and extraction of wiki links from the AST.
package links

import (
	"bytes"
	"regexp"

	"forkwiki/pkg/address"
	"forkwiki/pkg/types"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var shorthandRegexp = regexp.MustCompile(`\(([^)]+)\)\[([^\]]+)\]`)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Linkify),
)

// Link is one link found in a page.
type Link struct {
	Text string
	Href string
	// Target is set when Href is an owner/id wiki link.
	Target types.PageLocator
}

// IsWiki reports whether the link points at another page.
func (l Link) IsWiki() bool {
	return !l.Target.IsZero()
}

// Convert rewrites "(text)[href]" into the standard "[text](href)" form.
func Convert(content types.PageContent) types.PageContent {
	return types.PageContent(shorthandRegexp.ReplaceAllString(string(content), "[$1]($2)"))
}

// Extract returns every link in content in document order. The shorthand
// form is converted first.
func Extract(content types.PageContent) []Link {
	source := []byte(Convert(content))
	doc := markdown.Parser().Parse(text.NewReader(source))

	var out []Link
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch link := n.(type) {
		case *ast.Link:
			out = append(out, newLink(inlineText(link, source), string(link.Destination)))
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			href := string(link.URL(source))
			out = append(out, newLink(string(link.Label(source)), href))
		}
		return ast.WalkContinue, nil
	})
	return out
}

// WikiLinks returns the distinct page locators content links to.
func WikiLinks(content types.PageContent) []types.PageLocator {
	var out []types.PageLocator
	seen := make(map[types.PageLocator]bool)
	for _, link := range Extract(content) {
		if !link.IsWiki() || seen[link.Target] {
			continue
		}
		seen[link.Target] = true
		out = append(out, link.Target)
	}
	return out
}

func newLink(label, href string) Link {
	link := Link{Text: label, Href: href}
	if loc, err := address.ParseLink(href); err == nil && address.ValidateLocator(loc) == nil {
		link.Target = loc
	}
	return link
}

func inlineText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}
