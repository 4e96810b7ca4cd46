// Package archiver stores accepted documents in object storage and records
// them as artifacts, and removes them again with a two-phase delete.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	collyfetcher "github.com/JakeFAU/intel-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/intel-archiver/internal/hash/sha256"
	"github.com/JakeFAU/intel-archiver/internal/metrics"
	"github.com/JakeFAU/intel-archiver/internal/storage"
)

const pdfContentType = "application/pdf"

// ErrStorageDelete is returned by Delete when the object could not be
// trashed and force was not set; the artifact row is kept.
var ErrStorageDelete = errors.New("storage delete failed")

// PageRenderer prints a page to PDF.
type PageRenderer interface {
	RenderPDF(ctx context.Context, pageURL string) ([]byte, error)
}

// DocumentFetcher downloads raw bytes.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (collyfetcher.Document, error)
}

// Stager writes temporary files into the scratch area.
type Stager interface {
	Stage(name string, data []byte) (string, error)
}

// Deps bundles the Archiver collaborators.
type Deps struct {
	Objects   storage.ObjectStore
	Artifacts crawler.ArtifactStore
	Fetcher   DocumentFetcher
	Scratch   Stager
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Logger    *zap.Logger
}

// Archiver implements the archive stage.
type Archiver struct {
	deps   Deps
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New validates deps and constructs an Archiver.
func New(deps Deps) (*Archiver, error) {
	switch {
	case deps.Objects == nil:
		return nil, fmt.Errorf("object store is required")
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("artifact store is required")
	case deps.Scratch == nil:
		return nil, fmt.Errorf("scratch area is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{deps: deps, hasher: sha256.New(), logger: logger.Named("archiver")}, nil
}

// ArchivePages renders and stores each accepted page. Failures are logged and
// skipped. It returns the number of artifacts created.
func (a *Archiver) ArchivePages(ctx context.Context, renderer PageRenderer, items []classifier.Accepted) int {
	created := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		log := a.logger.With(zap.String("url", item.URL), zap.String("category", item.Category))
		if a.alreadyArchived(ctx, item.URL, log) {
			continue
		}
		data, err := renderer.RenderPDF(ctx, item.URL)
		if err != nil {
			metrics.ObserveArtifact(string(classifier.KindPage), "render_failed")
			log.Warn("render failed", zap.Error(err))
			continue
		}
		ok, err := a.store(ctx, item, data)
		if err != nil {
			log.Warn("archive failed", zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}
	return created
}

// ArchivePDF re-fetches and stores one accepted PDF. It returns whether a new
// artifact was created; a fetch failure aborts the item with an error.
func (a *Archiver) ArchivePDF(ctx context.Context, item classifier.Accepted) (bool, error) {
	log := a.logger.With(zap.String("url", item.URL), zap.String("category", item.Category))
	if a.alreadyArchived(ctx, item.URL, log) {
		return false, nil
	}
	if a.deps.Fetcher == nil {
		return false, fmt.Errorf("document fetcher is not configured")
	}
	doc, err := a.deps.Fetcher.Fetch(ctx, item.URL)
	if err != nil {
		metrics.ObserveArtifact(string(classifier.KindPDF), "fetch_failed")
		return false, fmt.Errorf("fetch pdf: %w", err)
	}
	return a.store(ctx, item, doc.Body)
}

func (a *Archiver) alreadyArchived(ctx context.Context, sourceURL string, log *zap.Logger) bool {
	exists, err := a.deps.Artifacts.ArtifactExists(ctx, sourceURL)
	if err != nil {
		log.Warn("artifact lookup failed", zap.Error(err))
		return false
	}
	if exists {
		metrics.ObserveArtifact("any", "duplicate")
		log.Debug("artifact already exists")
	}
	return exists
}

// store stages data, uploads it and inserts the artifact row. No row is
// written when the upload fails.
func (a *Archiver) store(ctx context.Context, item classifier.Accepted, data []byte) (bool, error) {
	kind := string(item.Kind)
	name := a.ObjectName(item.URL)
	staged, err := a.deps.Scratch.Stage(name, data)
	if err != nil {
		metrics.ObserveArtifact(kind, "stage_failed")
		return false, err
	}
	defer func() {
		_ = os.Remove(staged)
	}()

	folder, err := a.deps.Objects.EnsureFolder(ctx, folderFor(item))
	if err != nil {
		metrics.ObserveArtifact(kind, "upload_failed")
		return false, fmt.Errorf("ensure folder: %w", err)
	}
	// #nosec G304 -- staged is created by the scratch area.
	f, err := os.Open(staged)
	if err != nil {
		metrics.ObserveArtifact(kind, "stage_failed")
		return false, fmt.Errorf("open staged file: %w", err)
	}
	ref, err := a.deps.Objects.Upload(ctx, folder, name, pdfContentType, f)
	_ = f.Close()
	if err != nil {
		metrics.ObserveArtifact(kind, "upload_failed")
		return false, fmt.Errorf("upload: %w", err)
	}

	id, err := a.deps.IDs.NewUUID()
	if err != nil {
		return false, err
	}
	artifact := crawler.Artifact{
		ID:         id,
		SourceURL:  item.URL,
		StorageRef: &ref,
		Category:   item.Category,
		CreatedAt:  a.deps.Clock.Now(),
	}
	if err := a.deps.Artifacts.InsertArtifact(ctx, artifact); err != nil {
		a.discardUpload(ctx, item.URL, ref)
		if errors.Is(err, crawler.ErrDuplicateArtifact) {
			metrics.ObserveArtifact(kind, "duplicate")
			a.logger.Info("artifact inserted concurrently, skipping", zap.String("url", item.URL))
			return false, nil
		}
		metrics.ObserveArtifact(kind, "insert_failed")
		return false, fmt.Errorf("insert artifact: %w", err)
	}
	metrics.ObserveArtifact(kind, "archived")
	a.logger.Info("artifact archived",
		zap.String("url", item.URL),
		zap.String("artifact_id", id.String()),
		zap.String("storage_ref", ref),
	)
	return true, nil
}

// discardUpload trashes an object whose row could not be inserted, unless
// the row already stored for sourceURL references that same object.
func (a *Archiver) discardUpload(ctx context.Context, sourceURL, ref string) {
	log := a.logger.With(zap.String("url", sourceURL), zap.String("storage_ref", ref))
	ctx = context.WithoutCancel(ctx)
	existing, err := a.deps.Artifacts.FindArtifact(ctx, sourceURL)
	switch {
	case err == nil && existing.StorageRef != nil && *existing.StorageRef == ref:
		return
	case err != nil && !errors.Is(err, crawler.ErrArtifactNotFound):
		log.Warn("artifact lookup failed, keeping upload", zap.Error(err))
		return
	}
	if _, err := a.deps.Objects.SoftDelete(ctx, ref); err != nil {
		log.Warn("orphaned upload not removed", zap.Error(err))
		return
	}
	log.Debug("orphaned upload removed")
}

// ObjectName derives a stable, readable object name from the source URL.
func (a *Archiver) ObjectName(sourceURL string) string {
	base := storage.SanitizeName(sourceURL, 96)
	base = strings.TrimSuffix(base, ".pdf")
	base = strings.TrimSuffix(base, ".PDF")
	return base + "-" + a.hasher.Short([]byte(sourceURL), 10) + ".pdf"
}

func folderFor(item classifier.Accepted) string {
	if item.Folder != "" {
		return item.Folder
	}
	return item.Category
}

// Delete trashes the stored object first and removes the row only when that
// succeeded, the object was already gone, or force is set.
func (a *Archiver) Delete(ctx context.Context, id uuid.UUID, force bool) error {
	artifact, err := a.deps.Artifacts.GetArtifact(ctx, id)
	if err != nil {
		return err
	}
	if artifact.StorageRef != nil && *artifact.StorageRef != "" {
		existed, err := a.deps.Objects.SoftDelete(ctx, *artifact.StorageRef)
		switch {
		case err != nil && !force:
			return fmt.Errorf("%w: %v", ErrStorageDelete, err)
		case err != nil:
			a.logger.Warn("storage delete failed, forcing row delete",
				zap.String("artifact_id", id.String()), zap.Error(err))
		case !existed:
			a.logger.Warn("stored object already gone", zap.String("artifact_id", id.String()))
		}
	}
	if err := a.deps.Artifacts.DeleteArtifact(ctx, id); err != nil {
		return err
	}
	metrics.ObserveArtifact("any", "deleted")
	return nil
}
