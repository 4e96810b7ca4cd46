package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
	"github.com/JakeFAU/intel-archiver/internal/pipeline"
	"github.com/JakeFAU/intel-archiver/internal/runregistry"
)

// newRunCmd executes one run in-process and waits for every branch.
func newRunCmd() *cobra.Command {
	var (
		depth      int
		seeds      []string
		targetType string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one crawl, classify and archive pass and wait for it to finish",
		Long: `Starts a run with the configured sources, or with the --seed URLs when given,
executes its branches with the local worker pool and exits once the run is
completed, stopped or failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			trig, err := buildTrigger(seeds, targetType, depth)
			if err != nil {
				return err
			}
			rec, err := appInstance.RunOnce(cmd.Context(), trig)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			appInstance.Logger().Info("run summary",
				zap.String("run_id", rec.RunID),
				zap.String("state", string(rec.State)),
				zap.Int("branches", rec.Branches),
			)
			if rec.State == runregistry.StateFailed {
				return fmt.Errorf("run %s failed: %s", rec.RunID, rec.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "crawl depth (defaults to crawl.depth)")
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL, repeatable; overrides configured sources")
	cmd.Flags().StringVar(&targetType, "target-type", "BOTH", "target type for --seed URLs: WEBSITE, PDF or BOTH")
	return cmd
}

func buildTrigger(seeds []string, targetType string, depth int) (pipeline.Trigger, error) {
	trig := pipeline.Trigger{CrawlDepth: depth}
	if len(seeds) == 0 {
		return trig, nil
	}
	tt, err := crawler.ParseTargetType(targetType)
	if err != nil {
		return trig, err
	}
	for _, raw := range seeds {
		netloc, path, ok := splitSeed(raw)
		if !ok {
			return trig, fmt.Errorf("invalid seed %q", raw)
		}
		trig.Sources = append(trig.Sources, crawler.Source{
			Name:       netloc,
			Netloc:     netloc,
			Path:       path,
			TargetType: tt,
			IsActive:   true,
		})
	}
	return trig, nil
}

// splitSeed accepts "https://host/path" or "host/path". Sources are always
// crawled over https, so the scheme is dropped.
func splitSeed(raw string) (netloc, path string, ok bool) {
	raw = strings.TrimSpace(raw)
	if _, rest, found := strings.Cut(raw, "://"); found {
		raw = rest
	}
	netloc, path, _ = strings.Cut(raw, "/")
	if netloc == "" {
		return "", "", false
	}
	return strings.ToLower(netloc), "/" + path, true
}
