package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Document is a parsed page. Both fetch strategies produce one, so extraction
// never depends on how the markup was obtained.
type Document struct {
	doc *goquery.Document
}

// ParseDocument parses HTML, decoding it from the charset named in
// contentType or declared by the page itself.
func ParseDocument(r io.Reader, contentType string) (*Document, error) {
	decoded, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to detect charset: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{doc: doc}, nil
}

func ParseHTML(html string) (*Document, error) {
	return ParseDocument(strings.NewReader(html), "text/html; charset=utf-8")
}

// FirstText returns the text of the first element matched by any selector,
// trying selectors in order and skipping empty matches. Meta elements yield
// their content attribute.
func (d *Document) FirstText(selectors []string) (string, string, bool) {
	for _, sel := range selectors {
		var found string
		d.doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = nodeText(s)
			return found == ""
		})
		if found != "" {
			return found, sel, true
		}
	}
	return "", "", false
}

func nodeText(s *goquery.Selection) string {
	if goquery.NodeName(s) == "meta" {
		content, _ := s.Attr("content")
		return strings.TrimSpace(content)
	}
	if v, ok := s.Attr("content"); ok && strings.TrimSpace(s.Text()) == "" {
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(s.Text()), " ")
}
