package feeds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmarin/newswatch/internal/logging"
)

// DefaultSources is the compiled-in feed registry, used when no feeds file
// is configured.
func DefaultSources() []Source {
	return []Source{
		{Name: "Yahoo Finance", URL: "https://finance.yahoo.com/news/rssindex", Category: CategoryInternational, Weight: 0.9},
		{Name: "CNBC Finance", URL: "https://www.cnbc.com/id/10000664/device/rss/rss.html", Category: CategoryInternational, Weight: 0.9},
		{Name: "Investing.com", URL: "https://www.investing.com/rss/news.rss", Category: CategoryInternational, Weight: 0.8},
		{Name: "WSJ Markets", URL: "https://feeds.a.dj.com/rss/RSSMarketsMain.xml", Category: CategoryInternational, Weight: 0.9},
		{Name: "TechCrunch", URL: "https://techcrunch.com/feed/", Category: CategoryInternational, Weight: 0.7},
		{Name: "The Verge Business", URL: "https://www.theverge.com/rss/business/index.xml", Category: CategoryInternational, Weight: 0.6},
		{Name: "CoinDesk", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/", Category: CategoryInternational, Weight: 0.7},
		{Name: "CoinTelegraph", URL: "https://cointelegraph.com/rss", Category: CategoryInternational, Weight: 0.6},
		{Name: "Reuters World", URL: "https://www.reuters.com/world/rss.xml", Category: CategoryInternational, Weight: 0.9},
		{Name: "BBC World Service", URL: "http://feeds.bbci.co.uk/news/world/rss.xml", Category: CategoryInternational, Weight: 0.9},
		{Name: "Ziarul Financiar", URL: "https://www.zf.ro/rss", Category: CategoryDomestic, Weight: 0.9},
		{Name: "Profit.ro", URL: "https://www.profit.ro/rss", Category: CategoryDomestic, Weight: 0.8},
		{Name: "Bursa.ro", URL: "https://www.bursa.ro/rss.xml", Category: CategoryDomestic, Weight: 0.8},
		{Name: "Wall-Street", URL: "https://www.wall-street.ro/rss", Category: CategoryDomestic, Weight: 0.7},
		{Name: "Economica.net", URL: "https://www.economica.net/rss", Category: CategoryDomestic, Weight: 0.7},
		{Name: "Business Magazin", URL: "https://www.businessmagazin.ro/rss", Category: CategoryDomestic, Weight: 0.6},
	}
}

// registryFile is the YAML shape of a feeds file.
type registryFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads the feed registry from a YAML file. A missing path
// returns the compiled-in defaults. Entries without a name or URL are
// skipped with a warning; a source problem never aborts startup.
func LoadSources(path string) ([]Source, error) {
	if path == "" {
		return DefaultSources(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Warn("Feeds file not found, using defaults", "path", path)
			return DefaultSources(), nil
		}
		return nil, fmt.Errorf("read feeds file: %w", err)
	}

	var reg registryFile
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse feeds file %s: %w", path, err)
	}

	sources := make([]Source, 0, len(reg.Sources))
	for _, src := range reg.Sources {
		if src.Name == "" || src.URL == "" {
			logging.Warn("Skipping feed source with missing name or url", "name", src.Name, "url", src.URL)
			continue
		}
		if src.Category == "" {
			src.Category = CategoryInternational
		}
		if src.Weight <= 0 || src.Weight > 1 {
			src.Weight = 0.5
		}
		sources = append(sources, src)
	}

	if len(sources) == 0 {
		logging.Warn("Feeds file contained no usable sources, using defaults", "path", path)
		return DefaultSources(), nil
	}

	return sources, nil
}
