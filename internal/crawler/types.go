package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TargetType restricts what a seed may discover.
type TargetType string

// Target type values stored on sources and frontier items.
const (
	TargetWebsite TargetType = "WEBSITE"
	TargetPDF     TargetType = "PDF"
	TargetBoth    TargetType = "BOTH"
)

// ParseTargetType normalizes user input; empty input defaults to BOTH.
func ParseTargetType(raw string) (TargetType, error) {
	switch TargetType(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", TargetBoth:
		return TargetBoth, nil
	case TargetWebsite:
		return TargetWebsite, nil
	case TargetPDF:
		return TargetPDF, nil
	default:
		return "", fmt.Errorf("unknown target type %q", raw)
	}
}

// AllowsPages reports whether article-like pages are collected.
func (t TargetType) AllowsPages() bool {
	return t == TargetWebsite || t == TargetBoth || t == ""
}

// AllowsPDFs reports whether PDF links are collected.
func (t TargetType) AllowsPDFs() bool {
	return t == TargetPDF || t == TargetBoth || t == ""
}

// FrontierItem is one pending traversal step. Values are never mutated.
type FrontierItem struct {
	Scheme         string     `json:"scheme,omitempty"`
	Netloc         string     `json:"netloc"`
	Path           string     `json:"path"`
	DepthRemaining int        `json:"depth_remaining"`
	TargetType     TargetType `json:"target_type"`
}

// URL returns the canonical scheme://netloc/path form used by the visited set.
func (f FrontierItem) URL() string {
	scheme := f.Scheme
	if scheme == "" {
		scheme = defaultScheme
	}
	return scheme + "://" + f.Netloc + normalizePath(f.Path)
}

// Source is a persisted seed owned by the management collaborator.
type Source struct {
	Name       string     `json:"name,omitempty" mapstructure:"name"`
	Netloc     string     `json:"netloc" mapstructure:"netloc"`
	Path       string     `json:"path" mapstructure:"path"`
	Depth      int        `json:"depth,omitempty" mapstructure:"depth"`
	TargetType TargetType `json:"target_type" mapstructure:"target_type"`
	IsActive   bool       `json:"is_active" mapstructure:"is_active"`
}

// Seed converts the source into a frontier item with the given depth.
// A non-positive depth falls back to the source's own depth.
func (s Source) Seed(depth int) FrontierItem {
	if depth <= 0 {
		depth = s.Depth
	}
	tt := s.TargetType
	if tt == "" {
		tt = TargetBoth
	}
	return FrontierItem{
		Netloc:         strings.ToLower(strings.TrimSpace(s.Netloc)),
		Path:           s.Path,
		DepthRemaining: depth,
		TargetType:     tt,
	}
}

// ActiveSources filters out inactive sources.
func ActiveSources(sources []Source) []Source {
	active := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active
}

// CategoryConfig is a relevance bucket with its acceptance threshold and
// storage destination.
type CategoryConfig struct {
	Name                  string  `json:"name" mapstructure:"name"`
	MinRelevanceThreshold float64 `json:"min_relevance_threshold" mapstructure:"min_relevance_threshold"`
	StorageFolder         string  `json:"storage_folder" mapstructure:"storage_folder"`
}

// Folder returns the storage folder, defaulting to the category name.
func (c CategoryConfig) Folder() string {
	if c.StorageFolder != "" {
		return c.StorageFolder
	}
	return c.Name
}

// ClassificationResult is the winning category for one content item.
type ClassificationResult struct {
	Category   *string `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Artifact is the persisted record of one archived item.
type Artifact struct {
	ID         uuid.UUID `json:"id"`
	SourceURL  string    `json:"source_url"`
	StorageRef *string   `json:"storage_ref,omitempty"`
	Category   string    `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Approved   bool      `json:"approved"`
}

// CrawlResult is the output of one Frontier run. Each set is deduplicated and
// sorted, and the three sets are disjoint.
type CrawlResult struct {
	ArticleURLs  []string `json:"article_urls"`
	PDFURLs      []string `json:"pdf_urls"`
	ExcludedURLs []string `json:"excluded_urls"`
}
