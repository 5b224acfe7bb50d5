// Package attest defines the attestation data model and the narrow Sink
// interface the harvest engine writes through. The sink itself — the
// durable attestation store — is an external collaborator; this package
// only describes the shape of the traffic crossing that boundary.
package attest

import "context"

// Fixed predicate vocabulary. The projector (internal/projector) only ever
// emits commands using these strings.
const (
	PredicateHasTitle            = "has_title"
	PredicateHasMetaDescription  = "has_meta_description"
	PredicateHasCanonicalURL     = "has_canonical_url"
	PredicateAuthoredBy          = "authored_by"
	PredicatePublishedAt         = "published_at"
	PredicateHasImage            = "has_image"
	PredicateHasStructuredData   = "has_structured_data"
	PredicateLinksTo             = "links_to"
	PredicateLinksExternallyTo   = "links_externally_to"
	PredicateFeedContains        = "feed_contains"
	PredicateSitemapContains     = "sitemap_contains"
)

// Source identifies this harvester in every attestation's attributes.
const Source = "webharvest"

// Command is a content-addressable fact awaiting an ID from the sink.
// Timestamp is a Unix seconds value; zero means "let the sink stamp now".
type Command struct {
	Subjects   []string
	Predicates []string
	Contexts   []string
	Actors     []string
	Timestamp  int64
	Attributes map[string]string
}

// Attestation is the durable fact returned once a Command is generated
// and created.
type Attestation struct {
	ID         string
	Subjects   []string
	Predicates []string
	Contexts   []string
	Actors     []string
	Timestamp  int64
	Attributes map[string]string
	CreatedAt  int64
}

// Filter selects a subset of attestations from the sink.
type Filter struct {
	Subjects   []string
	Predicates []string
	Contexts   []string
	Actors     []string
	TimeStart  int64
	TimeEnd    int64
	Limit      int
}

// Sink is the narrow interface the engine uses to reach the external
// attestation store. Implementations must be safe for concurrent use.
type Sink interface {
	GenerateAndCreate(ctx context.Context, cmd Command) (Attestation, error)
	Exists(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, filter Filter) ([]Attestation, error)
	Close() error
}

// HasAttestation reports whether the sink already holds at least one
// attestation matching subject+predicate — the check the crawler's
// skip_previously_attested option relies on (spec §4.I).
func HasAttestation(ctx context.Context, sink Sink, subject, predicate string) (bool, error) {
	results, err := sink.Query(ctx, Filter{
		Subjects:   []string{subject},
		Predicates: []string{predicate},
		Limit:      1,
	})
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}
