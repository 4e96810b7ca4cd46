package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
)

// ListSources returns every source ordered by name. Each stored URL is split
// into netloc and path.
func (s *Store) ListSources(ctx context.Context) ([]crawler.Source, error) {
	query := fmt.Sprintf(`SELECT name, url, target_type, is_active FROM %s ORDER BY name`, s.tables.sources)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []crawler.Source
	for rows.Next() {
		var (
			name, rawURL, target string
			active               bool
		)
		if err := rows.Scan(&name, &rawURL, &target, &active); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		netloc, path, err := splitSourceURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", name, err)
		}
		tt, err := crawler.ParseTargetType(target)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", name, err)
		}
		out = append(out, crawler.Source{
			Name:       name,
			Netloc:     netloc,
			Path:       path,
			TargetType: tt,
			IsActive:   active,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// ListCategories returns the relevance categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]crawler.CategoryConfig, error) {
	query := fmt.Sprintf(`SELECT category_name, min_relevance_threshold FROM %s ORDER BY category_name`, s.tables.categories)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []crawler.CategoryConfig
	for rows.Next() {
		var c crawler.CategoryConfig
		if err := rows.Scan(&c.Name, &c.MinRelevanceThreshold); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func splitSourceURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("url %q has no host", raw)
	}
	return strings.ToLower(u.Host), u.Path, nil
}
