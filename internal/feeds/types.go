// Package feeds provides the feed source registry and feed fetching.
package feeds

import "time"

// Category is the geographic grouping of a feed source
type Category string

const (
	CategoryInternational Category = "international"
	CategoryDomestic      Category = "domestic"
)

// Source is a configured feed endpoint
type Source struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Category Category `yaml:"category"`
	Weight   float64  `yaml:"weight"` // trust weight in [0,1]
}

// Stub is a candidate article discovered in a feed. Immutable once created;
// identity for dedup purposes is CanonicalURL.
type Stub struct {
	URL          string
	CanonicalURL string
	Title        string
	Source       string
	Category     Category
	Weight       float64
	PublishedAt  time.Time
}
