package memory

import (
	"context"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
)

// Catalog serves statically configured sources and categories.
type Catalog struct {
	sources    []crawler.Source
	categories []crawler.CategoryConfig
}

// NewCatalog copies the given sources and categories.
func NewCatalog(sources []crawler.Source, categories []crawler.CategoryConfig) *Catalog {
	return &Catalog{
		sources:    append([]crawler.Source(nil), sources...),
		categories: append([]crawler.CategoryConfig(nil), categories...),
	}
}

// ListSources implements crawler.SourceStore.
func (c *Catalog) ListSources(context.Context) ([]crawler.Source, error) {
	return append([]crawler.Source(nil), c.sources...), nil
}

// ListCategories implements crawler.CategoryStore.
func (c *Catalog) ListCategories(context.Context) ([]crawler.CategoryConfig, error) {
	return append([]crawler.CategoryConfig(nil), c.categories...), nil
}
