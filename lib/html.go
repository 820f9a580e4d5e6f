package lib

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	whitespace = regexp.MustCompile(`\s+`)

	// Elements a rich-text title or body may carry. Anything else in angle
	// brackets is text.
	richTextElements = map[atom.Atom]bool{
		atom.Html: true, atom.Head: true, atom.Body: true, atom.Title: true,
		atom.Script: true, atom.Style: true,
		atom.P: true, atom.Br: true, atom.Div: true, atom.Span: true, atom.Hr: true,
		atom.B: true, atom.Strong: true, atom.I: true, atom.Em: true, atom.U: true,
		atom.S: true, atom.Small: true, atom.Mark: true, atom.Sub: true, atom.Sup: true,
		atom.Code: true, atom.Pre: true, atom.Blockquote: true, atom.Font: true,
		atom.A: true, atom.Img: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
		atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	}
)

// PlainText renders a possibly rich-text string the way a notification shows
// it: markup dropped, entities decoded, whitespace collapsed. A '<' that does
// not open a rich-text element is kept as text, so "x<y tonight" survives.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return compactWhitespace(s)
	}
	doc, err := htmlquery.Parse(strings.NewReader(escapeStrayTags(s)))
	if err != nil {
		return compactWhitespace(s)
	}
	body := htmlquery.FindOne(doc, "//body")
	if body == nil {
		body = doc
	}
	return digForText(body)
}

// escapeStrayTags escapes every tag-like run that is not a rich-text element,
// including an unterminated tag at the end of s.
func escapeStrayTags(s string) string {
	var buf strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	consumed := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// Whatever the tokenizer could not finish is literal text.
			buf.WriteString(html.EscapeString(s[consumed:]))
			return buf.String()
		}
		// Copied: TagName lowercases the tokenizer's buffer in place.
		raw := string(z.Raw())
		consumed += len(raw)
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if !richTextElements[atom.Lookup(name)] {
				buf.WriteString(html.EscapeString(raw))
				continue
			}
		}
		buf.WriteString(raw)
	}
}

func digForText(n *html.Node) string {
	if n == nil {
		return ""
	}
	buf := new(bytes.Buffer)
	dig(n, buf)
	return compactWhitespace(buf.String())
}

func dig(n *html.Node, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	switch {
	case n.Type == html.TextNode:
		buf.WriteString(n.Data)
	case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
		return
	case n.Type == html.ElementNode && n.Data == "br":
		buf.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		dig(c, buf)
	}
	if n.Type == html.ElementNode && n.Data == "p" {
		buf.WriteString(" ")
	}
}

func compactWhitespace(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ")
	return s
}
