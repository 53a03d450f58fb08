// Package opml parses and writes OPML subscription lists, preserving the
// folder structure expressed by nested outlines.
package opml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	opmlRootName = "opml"
	opmlVersion  = "2.0"
	xmlIndent    = "  "
)

// Outline is one node of an OPML body. A node with a URL is a feed
// subscription; a node without one is a folder grouping its children.
type Outline struct {
	Title    string
	URL      string
	Children []Outline
}

// IsFeed reports whether the outline carries a subscription URL.
func (o Outline) IsFeed() bool {
	return strings.TrimSpace(o.URL) != ""
}

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr,omitempty"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title string `xml:"title,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text      string    `xml:"text,attr,omitempty"`
	Title     string    `xml:"title,attr,omitempty"`
	Type      string    `xml:"type,attr,omitempty"`
	XMLURL    string    `xml:"xmlUrl,attr,omitempty"`
	XMLURLAlt string    `xml:"xmlurl,attr,omitempty"`
	URL       string    `xml:"url,attr,omitempty"`
	Outlines  []outline `xml:"outline,omitempty"`
}

var errInvalidRoot = errors.New("invalid OPML: expected root <opml>")

// Parse decodes OPML data from r into an outline tree.
func Parse(r io.Reader) ([]Outline, error) {
	var doc document

	err := xml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("invalid OPML: %w", err)
	}

	if !strings.EqualFold(doc.XMLName.Local, opmlRootName) {
		return nil, errInvalidRoot
	}

	return convertOutlines(doc.Body.Outlines), nil
}

// Write encodes outlines as an OPML document and writes it to writer.
func Write(writer io.Writer, title string, outlines []Outline) error {
	doc := document{
		XMLName: xml.Name{
			Space: "",
			Local: opmlRootName,
		},
		Version: opmlVersion,
		Head:    head{Title: strings.TrimSpace(title)},
		Body:    body{Outlines: buildOutlines(outlines)},
	}

	_, err := io.WriteString(writer, xml.Header)
	if err != nil {
		return fmt.Errorf("write XML header: %w", err)
	}

	encoder := xml.NewEncoder(writer)

	defer func() {
		err = encoder.Close()
		if err != nil {
			slog.Warn("close OPML encoder", "err", err)
		}
	}()

	encoder.Indent("", xmlIndent)

	err = encoder.Encode(doc)
	if err != nil {
		return fmt.Errorf("encode OPML: %w", err)
	}

	flushErr := encoder.Flush()
	if flushErr != nil {
		return fmt.Errorf("flush OPML encoder: %w", flushErr)
	}

	return nil
}

func convertOutlines(raw []outline) []Outline {
	var out []Outline

	for index := range raw {
		current := &raw[index]

		feedURL := firstTrimmedValue(
			current.XMLURL,
			current.XMLURLAlt,
			current.URL,
		)
		title := firstTrimmedValue(current.Title, current.Text)
		children := convertOutlines(current.Outlines)

		if feedURL == "" && title == "" && len(children) == 0 {
			continue
		}

		if title == "" {
			title = feedURL
		}

		out = append(out, Outline{
			Title:    title,
			URL:      feedURL,
			Children: children,
		})
	}

	return out
}

func buildOutlines(outlines []Outline) []outline {
	var raw []outline

	for _, current := range outlines {
		feedURL := strings.TrimSpace(current.URL)
		title := strings.TrimSpace(current.Title)
		if title == "" {
			title = feedURL
		}
		if feedURL == "" && title == "" {
			continue
		}

		node := outline{
			Text:     title,
			Title:    title,
			Outlines: buildOutlines(current.Children),
		}
		if feedURL != "" {
			node.Type = "rss"
			node.XMLURL = feedURL
		}

		raw = append(raw, node)
	}

	return raw
}

func firstTrimmedValue(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}

	return ""
}
