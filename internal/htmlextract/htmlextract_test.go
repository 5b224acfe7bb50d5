package htmlextract

import "testing"

func TestExtract_S1(t *testing.T) {
	body := []byte(`<html lang="en"><head><title>T</title>
<meta name=description content="D">
<link rel=canonical href="/c"></head>
<body><a href="/a" rel="nofollow me">x</a>
<a href="https://other/z">y</a></body></html>`)

	rec, err := Extract("http://host/p", body)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.Title != "T" {
		t.Errorf("expected title T, got %q", rec.Title)
	}
	if rec.Meta.Language != "en" {
		t.Errorf("expected language en, got %q", rec.Meta.Language)
	}
	if rec.Meta.Description != "D" {
		t.Errorf("expected description D, got %q", rec.Meta.Description)
	}
	if rec.Meta.CanonicalURL != "http://host/c" {
		t.Errorf("expected canonical http://host/c, got %q", rec.Meta.CanonicalURL)
	}
	if len(rec.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(rec.Links))
	}
	if rec.Links[0].TargetURL != "http://host/a" || rec.Links[0].AnchorText != "x" ||
		len(rec.Links[0].Rel) != 2 || rec.Links[0].IsExternal {
		t.Errorf("unexpected first link: %+v", rec.Links[0])
	}
	if rec.Links[1].TargetURL != "https://other/z" || rec.Links[1].AnchorText != "y" ||
		len(rec.Links[1].Rel) != 0 || !rec.Links[1].IsExternal {
		t.Errorf("unexpected second link: %+v", rec.Links[1])
	}
}

func TestExtract_StructuredDataGraph(t *testing.T) {
	body := []byte(`<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"Article","headline":"a"},
  {"@type":"Person","name":"b"}
]}
</script>
</head><body></body></html>`)

	rec, err := Extract("http://host/p", body)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.StructuredData) != 2 {
		t.Fatalf("expected 2 structured data entries, got %d", len(rec.StructuredData))
	}
	if rec.StructuredData[0].Type != "Article" || rec.StructuredData[1].Type != "Person" {
		t.Errorf("unexpected types: %+v", rec.StructuredData)
	}
}

func TestExtract_InvalidJSONSilentlySkipped(t *testing.T) {
	body := []byte(`<html><head>
<script type="application/ld+json">{not json}</script>
</head><body></body></html>`)

	rec, err := Extract("http://host/p", body)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.StructuredData) != 0 {
		t.Errorf("expected no structured data, got %+v", rec.StructuredData)
	}
}

func TestExtract_ImagesWidthHeightMustBeNumeric(t *testing.T) {
	body := []byte(`<html><body>
<img src="/a.png" width="100" height="bogus" alt="a">
</body></html>`)

	rec, err := Extract("http://host/p", body)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(rec.Images))
	}
	if rec.Images[0].Width != "100" {
		t.Errorf("expected width 100, got %q", rec.Images[0].Width)
	}
	if rec.Images[0].Height != "" {
		t.Errorf("expected height dropped, got %q", rec.Images[0].Height)
	}
}

func TestExtract_Headings(t *testing.T) {
	body := []byte(`<html><body><h1>A</h1><h2>B</h2><h1>C</h1></body></html>`)
	rec, err := Extract("http://host/p", body)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.Headings[1]) != 2 || rec.Headings[1][0] != "A" || rec.Headings[1][1] != "C" {
		t.Errorf("unexpected h1s: %+v", rec.Headings[1])
	}
	if len(rec.Headings[2]) != 1 || rec.Headings[2][0] != "B" {
		t.Errorf("unexpected h2s: %+v", rec.Headings[2])
	}
}
