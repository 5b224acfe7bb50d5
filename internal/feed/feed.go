// Package feed parses RSS 2.0 and Atom feeds into a uniform FeedRecord,
// detecting the feed type from the root element (spec §4.F).
package feed

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/fenwicklabs/harvest/internal/metrics"
)

type Type string

const (
	TypeRSS     Type = "rss"
	TypeAtom    Type = "atom"
	TypeUnknown Type = "unknown"
)

// Item is one entry of a feed, RSS or Atom.
type Item struct {
	Title       string
	Link        string
	Description string
	Published   string
	Author      string
	GUID        string
	Categories  []string
}

// Record is the parsed result of one feed document.
type Record struct {
	URL         string
	Title       string
	Description string
	FeedType    Type
	Items       []Item
	Error       string
}

// rssDoc mirrors the subset of RSS 2.0 this parser cares about. XMLName is
// left unrestricted (rather than pinned to "rss") so the same struct also
// decodes RDF/RSS 1.0 documents, whose root element is rdf:RDF but which
// still nest a channel the same way; RDF lists its items as siblings of
// channel rather than nested inside it, hence TopItems.
type rssDoc struct {
	XMLName xml.Name
	Channel struct {
		Title       string    `xml:"title"`
		Description string    `xml:"description"`
		Items       []rssItem `xml:"item"`
	} `xml:"channel"`
	TopItems []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	PubDate     string   `xml:"pubDate"`
	Author      string   `xml:"author"`
	DCCreator   string   `xml:"http://purl.org/dc/elements/1.1/ creator"`
	GUID        string   `xml:"guid"`
	Categories  []string `xml:"category"`
}

// atomDoc mirrors the subset of Atom this parser cares about.
type atomDoc struct {
	XMLName  xml.Name   `xml:"feed"`
	Title    string     `xml:"title"`
	Subtitle string     `xml:"subtitle"`
	Entries  []atomItem `xml:"entry"`
}

type atomItem struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Content   string      `xml:"content"`
	Published string      `xml:"published"`
	Updated   string      `xml:"updated"`
	ID        string      `xml:"id"`
	Links     []atomLink  `xml:"link"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []atomCategory `xml:"category"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// probe peeks at the root element name and namespace to classify the
// document before committing to a full decode, per §4.F's detection rule.
type probe struct {
	XMLName xml.Name
	Xmlns   string `xml:"xmlns,attr"`
}

// Parse decodes body (the feed URL is carried through only for the
// resulting Record) and returns the typed Record. Ill-formed XML produces
// a Record with FeedType=unknown and Error set, never a Go error — parser
// failures are data, per spec §7.
func Parse(feedURL string, body []byte) *Record {
	rec := &Record{URL: feedURL}

	var p probe
	if err := xml.Unmarshal(body, &p); err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("feed").Inc()
		rec.FeedType = TypeUnknown
		rec.Error = fmt.Sprintf("malformed xml: %v", err)
		return rec
	}

	local := strings.ToLower(p.XMLName.Local)
	switch {
	case local == "rss":
		return parseRSS(rec, body)
	case local == "feed" || strings.Contains(p.XMLName.Space, "http://www.w3.org/2005/Atom"):
		return parseAtom(rec, body)
	case hasChannelChild(body):
		// RDF/RSS 1.0 names its root rdf:RDF rather than rss, but still
		// carries a channel element — treat it the same as RSS 2.0.
		return parseRSS(rec, body)
	default:
		metrics.ParseErrorsTotal.WithLabelValues("feed").Inc()
		rec.FeedType = TypeUnknown
		rec.Error = fmt.Sprintf("unrecognized feed root element %q", p.XMLName.Local)
		return rec
	}
}

// hasChannelChild reports whether body's root element has a channel child,
// the detection rule spec §4.F uses for RSS variants that don't literally
// name their root element "rss" (e.g. RDF/RSS 1.0's rdf:RDF).
func hasChannelChild(body []byte) bool {
	var probe struct {
		XMLName xml.Name
		Channel *struct{} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Channel != nil
}

func parseRSS(rec *Record, body []byte) *Record {
	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("feed").Inc()
		rec.FeedType = TypeUnknown
		rec.Error = fmt.Sprintf("malformed rss: %v", err)
		return rec
	}

	rec.FeedType = TypeRSS
	rec.Title = doc.Channel.Title
	rec.Description = doc.Channel.Description
	items := doc.Channel.Items
	if len(items) == 0 {
		items = doc.TopItems
	}
	for _, it := range items {
		author := it.Author
		if author == "" {
			author = it.DCCreator
		}
		rec.Items = append(rec.Items, Item{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
			Published:   it.PubDate,
			Author:      author,
			GUID:        it.GUID,
			Categories:  it.Categories,
		})
	}
	return rec
}

func parseAtom(rec *Record, body []byte) *Record {
	var doc atomDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("feed").Inc()
		rec.FeedType = TypeUnknown
		rec.Error = fmt.Sprintf("malformed atom: %v", err)
		return rec
	}

	rec.FeedType = TypeAtom
	rec.Title = doc.Title
	rec.Description = doc.Subtitle
	for _, it := range doc.Entries {
		desc := it.Summary
		if desc == "" {
			desc = it.Content
		}
		published := it.Published
		if published == "" {
			published = it.Updated
		}
		var categories []string
		for _, c := range it.Categories {
			if c.Term != "" {
				categories = append(categories, c.Term)
			}
		}
		rec.Items = append(rec.Items, Item{
			Title:       it.Title,
			Link:        atomLinkOf(it.Links),
			Description: desc,
			Published:   published,
			Author:      it.Author.Name,
			GUID:        it.ID,
			Categories:  categories,
		})
	}
	return rec
}

// atomLinkOf selects the alternate-rel (or rel-absent) link, falling back
// to the first href-bearing link, per §4.F.
func atomLinkOf(links []atomLink) string {
	for _, l := range links {
		if l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return l.Href
		}
	}
	for _, l := range links {
		if l.Href != "" {
			return l.Href
		}
	}
	return ""
}
