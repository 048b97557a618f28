// Package opml provides OPML import and export for the feed catalog.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/josdijkstraco/rssfeed-agent/model"
)

// OPML represents the root OPML structure.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains metadata about the OPML document.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outline elements (feeds).
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a feed or a grouping in OPML.
type Outline struct {
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLUrl   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Subscription is one feed URL extracted from an OPML document. The
// title is advisory; subscribing still fetches the live feed for its
// canonical metadata.
type Subscription struct {
	URL   string
	Title string
}

// Parse reads an OPML document and extracts feed subscriptions.
func Parse(r io.Reader) ([]Subscription, error) {
	var doc OPML
	decoder := xml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	return extractSubscriptions(doc.Body.Outlines), nil
}

// extractSubscriptions recursively collects feeds from outlines.
func extractSubscriptions(outlines []Outline) []Subscription {
	var subs []Subscription

	for _, outline := range outlines {
		if outline.XMLUrl != "" {
			sub := Subscription{
				URL:   outline.XMLUrl,
				Title: outline.Title,
			}
			if sub.Title == "" {
				sub.Title = outline.Text
			}
			subs = append(subs, sub)
		}

		if len(outline.Outlines) > 0 {
			subs = append(subs, extractSubscriptions(outline.Outlines)...)
		}
	}

	return subs
}

// Generate writes an OPML document listing the given feeds.
func Generate(w io.Writer, feeds []model.Feed) error {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       "rssfeed-agent Subscriptions",
			DateCreated: time.Now().Format(time.RFC1123),
		},
	}

	for _, f := range feeds {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Type:   "rss",
			Text:   f.Title,
			Title:  f.Title,
			XMLUrl: f.URL,
		})
	}

	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode OPML: %w", err)
	}

	if _, err := w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write final newline: %w", err)
	}

	return nil
}
