package feeds

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/dmarin/newswatch/internal/logging"
)

// FeedError marks a source-level failure. The scan skips the source and
// continues with the others.
type FeedError struct {
	Source string
	Err    error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Source, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// Fetcher retrieves article stubs from feed sources.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given HTTP timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch retrieves and parses one feed source, yielding stubs with canonical
// URLs. Does NOT filter duplicates - the dedup ledger owns that. Respects
// context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]Stub, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &FeedError{Source: src.Name, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", "newswatch/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FeedError{Source: src.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FeedError{Source: src.Name, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	parser := gofeed.NewParser()
	feed, err := parser.Parse(resp.Body)
	if err != nil {
		return nil, &FeedError{Source: src.Name, Err: fmt.Errorf("parse feed: %w", err)}
	}

	now := time.Now()
	stubs := make([]Stub, 0, len(feed.Items))

	for _, entry := range feed.Items {
		if entry.Link == "" {
			continue
		}

		canonical, err := Canonicalize(entry.Link)
		if err != nil {
			logging.Debug("Skipping item with unparseable link", "source", src.Name, "link", entry.Link)
			continue
		}

		published := now
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = *entry.UpdatedParsed
		}

		stubs = append(stubs, Stub{
			URL:          entry.Link,
			CanonicalURL: canonical,
			Title:        entry.Title,
			Source:       src.Name,
			Category:     src.Category,
			Weight:       src.Weight,
			PublishedAt:  published,
		})
	}

	return stubs, nil
}
