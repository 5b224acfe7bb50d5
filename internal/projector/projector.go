// Package projector implements the Attestation Projector: the deterministic
// mapping from PageRecord / FeedRecord / SitemapRecord to an ordered
// sequence of attest.Command (spec §4.H). Projection never touches the
// network or the sink — it is pure, which is what makes it testable for
// determinism (invariant I6 / property P5).
package projector

import (
	"strconv"
	"strings"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/fenwicklabs/harvest/internal/feed"
	"github.com/fenwicklabs/harvest/internal/htmlextract"
	"github.com/fenwicklabs/harvest/internal/sitemap"
)

// maxImageCommands caps the number of has_image commands emitted per page,
// per §4.H step 6.
const maxImageCommands = 10

func baseAttributes(actor string) (map[string]string, []string) {
	attrs := map[string]string{"source": attest.Source}
	var actors []string
	if actor != "" {
		actors = []string{actor}
	}
	return attrs, actors
}

func withAttrs(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Page projects a PageRecord into its ordered attestation commands.
// includeExternal controls whether links_externally_to commands are
// emitted for external links (step 8 of §4.H).
func Page(rec *htmlextract.PageRecord, actor string, includeExternal bool) []attest.Command {
	attrs, actors := baseAttributes(actor)
	var cmds []attest.Command

	if rec.Title != "" {
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateHasTitle},
			Contexts:   []string{rec.Title},
			Actors:     actors,
			Attributes: attrs,
		})
	}

	if rec.Meta.Description != "" {
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateHasMetaDescription},
			Contexts:   []string{rec.Meta.Description},
			Actors:     actors,
			Attributes: attrs,
		})
	}

	if rec.Meta.Author != "" {
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateAuthoredBy},
			Contexts:   []string{rec.Meta.Author},
			Actors:     actors,
			Attributes: attrs,
		})
	}

	if rec.Meta.PublishedDate != "" {
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicatePublishedAt},
			Contexts:   []string{rec.Meta.PublishedDate},
			Actors:     actors,
			Attributes: attrs,
		})
	}

	if rec.Meta.CanonicalURL != "" && rec.Meta.CanonicalURL != rec.URL {
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateHasCanonicalURL},
			Contexts:   []string{rec.Meta.CanonicalURL},
			Actors:     actors,
			Attributes: attrs,
		})
	}

	imageCount := 0
	for _, img := range rec.Images {
		if img.Alt == "" {
			continue
		}
		if imageCount >= maxImageCommands {
			break
		}
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateHasImage},
			Contexts:   []string{img.Src},
			Actors:     actors,
			Attributes: withAttrs(attrs, map[string]string{"alt": img.Alt, "title": img.Title}),
		})
		imageCount++
	}

	for _, sd := range rec.StructuredData {
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateHasStructuredData},
			Contexts:   []string{sd.Type},
			Actors:     actors,
			Attributes: withAttrs(attrs, map[string]string{"data": string(sd.Data)}),
		})
	}

	for _, l := range rec.Links {
		if l.IsExternal && !includeExternal {
			continue
		}
		predicate := attest.PredicateLinksTo
		if l.IsExternal {
			predicate = attest.PredicateLinksExternallyTo
		}
		extra := map[string]string{}
		if l.AnchorText != "" {
			extra["anchor_text"] = l.AnchorText
		}
		if len(l.Rel) > 0 {
			extra["rel"] = strings.Join(l.Rel, ",")
		}
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{predicate},
			Contexts:   []string{l.TargetURL},
			Actors:     actors,
			Attributes: withAttrs(attrs, extra),
		})
	}

	return cmds
}

// Feed projects a FeedRecord into its ordered attestation commands.
func Feed(rec *feed.Record, actor string) []attest.Command {
	attrs, actors := baseAttributes(actor)
	var cmds []attest.Command

	if rec.Title != "" {
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateHasTitle},
			Contexts:   []string{rec.Title},
			Actors:     actors,
			Attributes: withAttrs(attrs, map[string]string{"feed_type": string(rec.FeedType)}),
		})
	}

	for _, it := range rec.Items {
		if it.Link == "" {
			continue
		}
		extra := map[string]string{}
		if it.Title != "" {
			extra["title"] = it.Title
		}
		if it.Published != "" {
			extra["published"] = it.Published
		}
		if it.Author != "" {
			extra["author"] = it.Author
		}
		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateFeedContains},
			Contexts:   []string{it.Link},
			Actors:     actors,
			Attributes: withAttrs(attrs, extra),
		})
	}

	return cmds
}

// Sitemap projects a SitemapRecord into its ordered attestation commands.
func Sitemap(rec *sitemap.Record, actor string) []attest.Command {
	attrs, actors := baseAttributes(actor)
	var cmds []attest.Command

	for _, entry := range rec.URLs {
		extra := map[string]string{}
		if entry.LastMod != "" {
			extra["lastmod"] = entry.LastMod
		}
		if entry.ChangeFreq != "" {
			extra["changefreq"] = entry.ChangeFreq
		}
		extra["priority"] = strconv.FormatFloat(entry.Priority, 'f', -1, 64)

		cmds = append(cmds, attest.Command{
			Subjects:   []string{rec.URL},
			Predicates: []string{attest.PredicateSitemapContains},
			Contexts:   []string{entry.Loc},
			Actors:     actors,
			Attributes: withAttrs(attrs, extra),
		})
	}

	return cmds
}
