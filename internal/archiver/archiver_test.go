package archiver

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
	collyfetcher "github.com/JakeFAU/intel-archiver/internal/fetcher/colly"
	uuidgen "github.com/JakeFAU/intel-archiver/internal/id/uuid"
	"github.com/JakeFAU/intel-archiver/internal/storage/local"
	"github.com/JakeFAU/intel-archiver/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeRenderer struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
}

func (r *fakeRenderer) RenderPDF(_ context.Context, pageURL string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pageURL)
	if r.failOn[pageURL] {
		return nil, errors.New("navigation failed")
	}
	return []byte("%PDF-rendered " + pageURL), nil
}

type fakeFetcher struct {
	err error
}

func (f fakeFetcher) Fetch(_ context.Context, rawURL string) (collyfetcher.Document, error) {
	if f.err != nil {
		return collyfetcher.Document{}, f.err
	}
	return collyfetcher.Document{StatusCode: 200, Body: []byte("%PDF-raw " + rawURL)}, nil
}

type failingUploads struct {
	*memory.BlobStore
}

func (failingUploads) Upload(context.Context, string, string, string, io.Reader) (string, error) {
	return "", errors.New("quota exceeded")
}

type failingTrash struct {
	*memory.BlobStore
}

func (failingTrash) SoftDelete(context.Context, string) (bool, error) {
	return false, errors.New("permission denied")
}

type harness struct {
	archiver  *Archiver
	objects   *memory.BlobStore
	artifacts *memory.ArtifactStore
}

func newHarness(t *testing.T, fetcher DocumentFetcher) harness {
	t.Helper()
	scratch, err := local.NewScratch(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	objects := memory.NewBlobStore()
	artifacts := memory.NewArtifactStore()
	a, err := New(Deps{
		Objects:   objects,
		Artifacts: artifacts,
		Fetcher:   fetcher,
		Scratch:   scratch,
		Clock:     fixedClock{t: time.Unix(1700000000, 0).UTC()},
		IDs:       uuidgen.New(),
	})
	require.NoError(t, err)
	return harness{archiver: a, objects: objects, artifacts: artifacts}
}

func accepted(url string, kind classifier.ItemKind) classifier.Accepted {
	return classifier.Accepted{URL: url, Kind: kind, Category: "AI", Folder: "ai-reports", Confidence: 0.9}
}

func TestArchivePagesCreatesArtifacts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	renderer := &fakeRenderer{failOn: map[string]bool{"https://example.com/broken-page-here": true}}
	items := []classifier.Accepted{
		accepted("https://example.com/news/report-on-markets-2024", classifier.KindPage),
		accepted("https://example.com/broken-page-here", classifier.KindPage),
	}

	created := h.archiver.ArchivePages(context.Background(), renderer, items)
	assert.Equal(t, 1, created)

	list := h.artifacts.List()
	require.Len(t, list, 1)
	assert.Equal(t, "https://example.com/news/report-on-markets-2024", list[0].SourceURL)
	assert.Equal(t, "AI", list[0].Category)
	require.NotNil(t, list[0].StorageRef)
	data, ok := h.objects.Object(*list[0].StorageRef)
	require.True(t, ok)
	assert.Contains(t, string(data), "%PDF-rendered")
}

func TestArchiveTwiceCreatesOneRow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	renderer := &fakeRenderer{}
	item := accepted("https://example.com/news/report-on-markets-2024", classifier.KindPage)

	assert.Equal(t, 1, h.archiver.ArchivePages(context.Background(), renderer, []classifier.Accepted{item}))
	assert.Equal(t, 0, h.archiver.ArchivePages(context.Background(), renderer, []classifier.Accepted{item}))
	assert.Len(t, h.artifacts.List(), 1)
	assert.Len(t, renderer.calls, 1, "existing artifacts are not re-rendered")
}

func TestArchivePDF(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{})
	item := accepted("https://example.com/news/report.pdf", classifier.KindPDF)

	created, err := h.archiver.ArchivePDF(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = h.archiver.ArchivePDF(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, h.artifacts.List(), 1)
}

func TestArchivePDFFetchFailureAbortsItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{err: errors.New("status 404")})
	created, err := h.archiver.ArchivePDF(context.Background(), accepted("https://example.com/a.pdf", classifier.KindPDF))
	require.Error(t, err)
	assert.False(t, created)
	assert.Empty(t, h.artifacts.List())
}

func TestUploadFailureWritesNoRow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{})
	h.archiver.deps.Objects = failingUploads{h.objects}

	created, err := h.archiver.ArchivePDF(context.Background(), accepted("https://example.com/a.pdf", classifier.KindPDF))
	require.Error(t, err)
	assert.False(t, created)
	assert.Empty(t, h.artifacts.List())
}

func TestConcurrentDuplicateInsertIsBenign(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{})
	url := "https://example.com/a.pdf"
	// Simulate another branch inserting between the existence check and insert.
	ref := "memory://elsewhere"
	require.NoError(t, h.artifacts.InsertArtifact(context.Background(), crawler.Artifact{
		ID: uuid.New(), SourceURL: url, StorageRef: &ref,
	}))
	created, err := h.archiver.store(context.Background(), accepted(url, classifier.KindPDF), []byte("%PDF"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, h.artifacts.List(), 1)
	assert.Zero(t, h.objects.Len(), "the losing upload is trashed")
}

func TestDuplicateInsertKeepsSharedObject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{})
	item := accepted("https://example.com/a.pdf", classifier.KindPDF)
	created, err := h.archiver.store(context.Background(), item, []byte("%PDF first"))
	require.NoError(t, err)
	require.True(t, created)

	// Same URL and folder resolve to the same object as the stored row.
	created, err = h.archiver.store(context.Background(), item, []byte("%PDF second"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, h.objects.Len())
}

type failingInserts struct {
	*memory.ArtifactStore
}

func (failingInserts) InsertArtifact(context.Context, crawler.Artifact) error {
	return errors.New("connection reset")
}

func TestInsertFailureTrashesUpload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{})
	h.archiver.deps.Artifacts = failingInserts{ArtifactStore: h.artifacts}
	created, err := h.archiver.store(context.Background(), accepted("https://example.com/a.pdf", classifier.KindPDF), []byte("%PDF"))
	require.Error(t, err)
	assert.False(t, created)
	assert.Zero(t, h.objects.Len())
}

func TestDeleteTwoPhase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{})
	ctx := context.Background()
	_, err := h.archiver.ArchivePDF(ctx, accepted("https://example.com/a.pdf", classifier.KindPDF))
	require.NoError(t, err)
	artifact := h.artifacts.List()[0]

	require.NoError(t, h.archiver.Delete(ctx, artifact.ID, false))
	assert.Empty(t, h.artifacts.List())
	assert.Zero(t, h.objects.Len())

	require.ErrorIs(t, h.archiver.Delete(ctx, artifact.ID, false), crawler.ErrArtifactNotFound)
}

func TestDeleteKeepsRowWhenStorageFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeFetcher{})
	ctx := context.Background()
	_, err := h.archiver.ArchivePDF(ctx, accepted("https://example.com/a.pdf", classifier.KindPDF))
	require.NoError(t, err)
	artifact := h.artifacts.List()[0]
	h.archiver.deps.Objects = failingTrash{h.objects}

	require.ErrorIs(t, h.archiver.Delete(ctx, artifact.ID, false), ErrStorageDelete)
	assert.Len(t, h.artifacts.List(), 1)

	require.NoError(t, h.archiver.Delete(ctx, artifact.ID, true))
	assert.Empty(t, h.artifacts.List())
}

func TestDeleteWhenObjectAlreadyGone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ref := "memory://ai-reports/missing.pdf"
	id := uuid.New()
	require.NoError(t, h.artifacts.InsertArtifact(context.Background(), crawler.Artifact{
		ID: id, SourceURL: "https://example.com/x", StorageRef: &ref,
	}))
	require.NoError(t, h.archiver.Delete(context.Background(), id, false))
	assert.Empty(t, h.artifacts.List())
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	name := h.archiver.ObjectName("https://example.com/news/report.pdf")
	assert.Regexp(t, `^example\.com_news_report-[0-9a-f]{10}\.pdf$`, name)
	assert.Equal(t, name, h.archiver.ObjectName("https://example.com/news/report.pdf"))
	assert.NotEqual(t, name, h.archiver.ObjectName("https://example.com/news/report.pdf?v=2"))
}
