// Package htmlextract implements the HTML Extractor: it turns fetched HTML
// bytes and a base URL into a PageRecord carrying title, links, meta,
// images, structured data and headings (spec §4.E).
package htmlextract

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is a single anchor discovered on a page.
type Link struct {
	TargetURL  string
	AnchorText string
	Rel        []string
	IsExternal bool
}

// Image is a single <img> discovered on a page.
type Image struct {
	Src    string
	Width  string
	Height string
	Alt    string
	Title  string
}

// StructuredDatum is one JSON-LD object with a recognized @type.
type StructuredDatum struct {
	Type string
	Data json.RawMessage
}

// OpenGraph holds the fixed Open Graph tag mapping.
type OpenGraph struct {
	Title       string
	Description string
	Image       string
	Type        string
	URL         string
}

// Twitter holds the fixed Twitter card tag mapping.
type Twitter struct {
	Card        string
	Title       string
	Description string
	Image       string
}

// Meta holds the optional page metadata fields.
type Meta struct {
	Description   string
	Keywords      []string
	Author        string
	PublishedDate string
	ModifiedDate  string
	OG            OpenGraph
	Twitter       Twitter
	CanonicalURL  string
	Language      string
}

// PageRecord is the result of extracting one HTML page.
type PageRecord struct {
	URL            string
	StatusCode     int
	Title          string
	Links          []Link
	Meta           Meta
	Images         []Image
	StructuredData []StructuredDatum
	Headings       map[int][]string
	Error          string
}

// Extract parses body as HTML relative to baseURL and returns the
// populated PageRecord. Malformed HTML is tolerated — goquery's parser is
// lenient by design — so Extract returns an error only when baseURL does
// not parse or the body cannot be read; callers set PageRecord.Error for
// upstream fetch failures, not parse failures.
func Extract(baseURL string, body []byte) (*PageRecord, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	rec := &PageRecord{
		URL:      baseURL,
		Headings: make(map[int][]string),
	}

	rec.Title = strings.TrimSpace(doc.Find("title").First().Text())
	rec.Links = extractLinks(doc, base)
	rec.Meta = extractMeta(doc, base)
	rec.Images = extractImages(doc, base)
	rec.StructuredData = extractStructuredData(doc)
	extractHeadings(doc, rec.Headings)

	return rec, nil
}

func extractLinks(doc *goquery.Document, base *url.URL) []Link {
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target, ok := absolutize(base, href)
		if !ok {
			return
		}
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}

		var rel []string
		if relAttr, exists := s.Attr("rel"); exists {
			for _, tok := range strings.Fields(relAttr) {
				rel = append(rel, tok)
			}
		}

		links = append(links, Link{
			TargetURL:  target,
			AnchorText: strings.TrimSpace(s.Text()),
			Rel:        rel,
			IsExternal: !strings.EqualFold(u.Hostname(), base.Hostname()),
		})
	})
	return links
}

func extractMeta(doc *goquery.Document, base *url.URL) Meta {
	var m Meta

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		property, _ := s.Attr("property")
		content, _ := s.Attr("content")
		name = strings.ToLower(name)
		property = strings.ToLower(property)

		switch {
		case name == "description":
			m.Description = content
		case name == "keywords":
			for _, k := range strings.Split(content, ",") {
				if k = strings.TrimSpace(k); k != "" {
					m.Keywords = append(m.Keywords, k)
				}
			}
		case name == "author":
			m.Author = content
		case property == "article:published_time" && m.PublishedDate == "":
			m.PublishedDate = content
		case property == "datepublished" && m.PublishedDate == "":
			m.PublishedDate = content
		case name == "date" && m.PublishedDate == "":
			m.PublishedDate = content
		case property == "article:modified_time" && m.ModifiedDate == "":
			m.ModifiedDate = content
		case property == "datemodified" && m.ModifiedDate == "":
			m.ModifiedDate = content
		case property == "og:title":
			m.OG.Title = content
		case property == "og:description":
			m.OG.Description = content
		case property == "og:image":
			m.OG.Image = content
		case property == "og:type":
			m.OG.Type = content
		case property == "og:url":
			m.OG.URL = content
		case name == "twitter:card":
			m.Twitter.Card = content
		case name == "twitter:title":
			m.Twitter.Title = content
		case name == "twitter:description":
			m.Twitter.Description = content
		case name == "twitter:image":
			m.Twitter.Image = content
		}
	})

	if href, exists := doc.Find(`link[rel="canonical"]`).First().Attr("href"); exists {
		if canon, ok := absolutize(base, href); ok {
			m.CanonicalURL = canon
		}
	}

	if lang, exists := doc.Find("html").First().Attr("lang"); exists {
		m.Language = lang
	}

	return m
}

func extractImages(doc *goquery.Document, base *url.URL) []Image {
	var images []Image
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		absSrc, ok := absolutize(base, src)
		if !ok {
			return
		}
		img := Image{Src: absSrc}
		if w, exists := s.Attr("width"); exists && isAllDigits(w) {
			img.Width = w
		}
		if h, exists := s.Attr("height"); exists && isAllDigits(h) {
			img.Height = h
		}
		img.Alt, _ = s.Attr("alt")
		img.Title, _ = s.Attr("title")
		images = append(images, img)
	})
	return images
}

func extractHeadings(doc *goquery.Document, out map[int][]string) {
	for level := 1; level <= 6; level++ {
		tag := "h" + strconv.Itoa(level)
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			out[level] = append(out[level], text)
		})
	}
}

// extractStructuredData decodes every application/ld+json script block,
// handling the three accepted shapes: a single object, a top-level array,
// or an object carrying an @graph array. Invalid JSON is silently skipped.
func extractStructuredData(doc *goquery.Document) []StructuredDatum {
	var data []StructuredDatum
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		data = append(data, parseLDJSON([]byte(raw))...)
	})
	return data
}

func parseLDJSON(raw []byte) []StructuredDatum {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil
		}
		var out []StructuredDatum
		for _, item := range items {
			out = append(out, datumFromObject(item)...)
		}
		return out
	}
	return datumFromObject(trimmed)
}

func datumFromObject(raw json.RawMessage) []StructuredDatum {
	var envelope struct {
		Type  json.RawMessage   `json:"@type"`
		Graph []json.RawMessage `json:"@graph"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	if len(envelope.Graph) > 0 {
		var out []StructuredDatum
		for _, member := range envelope.Graph {
			out = append(out, datumFromObject(member)...)
		}
		return out
	}
	typ := typeString(envelope.Type)
	if typ == "" {
		return nil
	}
	return []StructuredDatum{{Type: typ, Data: raw}}
}

func typeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return arr[0]
	}
	return ""
}

func absolutize(base *url.URL, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(u).String(), true
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
