// Package sources maps source slugs to crawler builders. Each source package
// owns one crawl shape; everything they share lives in internal/crawl.
package sources

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ingesil/gazette-crawler/internal/crawl"
	"github.com/ingesil/gazette-crawler/internal/sources/boe"
	"github.com/ingesil/gazette-crawler/internal/sources/dogc"
)

// ErrUnknownSource indicates the slug has no registered crawler.
var ErrUnknownSource = errors.New("sources: unknown source")

// Builder constructs a ready-to-run crawler from shared dependencies.
type Builder func(deps crawl.Deps) (crawl.Runner, error)

var registry = map[string]Builder{
	"boe":  boe.New,
	"dogc": dogc.New,
}

// Lookup returns the builder for slug.
func Lookup(slug string) (Builder, error) {
	builder, ok := registry[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownSource, slug, Slugs())
	}
	return builder, nil
}

// Slugs lists the registered source slugs in stable order.
func Slugs() []string {
	slugs := make([]string, 0, len(registry))
	for slug := range registry {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
