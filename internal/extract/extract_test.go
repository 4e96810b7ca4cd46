package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/intel-archiver/internal/fetcher/colly"
)

type stubParagraphs struct {
	paragraphs []string
	err        error
}

func (s stubParagraphs) Paragraphs(context.Context, string) ([]string, error) {
	return s.paragraphs, s.err
}

type stubFetcher struct {
	body []byte
	err  error
}

func (s stubFetcher) Fetch(context.Context, string) (collyfetcher.Document, error) {
	if s.err != nil {
		return collyfetcher.Document{}, s.err
	}
	return collyfetcher.Document{StatusCode: 200, Body: s.body}, nil
}

func TestJoinParagraphsDropsShortOnes(t *testing.T) {
	t.Parallel()

	got := JoinParagraphs([]string{
		"  Markets rallied on Tuesday afternoon.  ",
		"Share this",
		"one two three",
		"",
		"The central bank held rates steady.",
	}, 3)
	assert.Equal(t, "Markets rallied on Tuesday afternoon. The central bank held rates steady.", got)
}

func TestExtractorPage(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig(), nil, nil)
	src := stubParagraphs{paragraphs: []string{"Four words are here.", "too short"}}
	assert.Equal(t, "Four words are here.", e.Page(context.Background(), src, "https://example.com/a"))

	failing := stubParagraphs{err: errors.New("navigation failed")}
	assert.Empty(t, e.Page(context.Background(), failing, "https://example.com/a"))
}

func TestSubstantial(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 50)
	cases := []struct {
		name string
		text string
		cfg  Config
		want bool
	}{
		{name: "empty", text: "", cfg: DefaultConfig(), want: false},
		{name: "whitespace", text: strings.Repeat(" ", 500), cfg: DefaultConfig(), want: false},
		{name: "short", text: "brief note", cfg: DefaultConfig(), want: false},
		{name: "long enough", text: long, cfg: DefaultConfig(), want: true},
		{name: "word gate rejects", text: strings.Repeat("x", 300), cfg: Config{MinChars: 200, MinWords: 10}, want: false},
		{name: "word gate accepts", text: long, cfg: Config{MinChars: 200, MinWords: 10}, want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Substantial(tc.text, tc.cfg))
		})
	}
}

func TestPDFTextReadsTextLayer(t *testing.T) {
	t.Parallel()

	text, err := PDFText(buildPDF("Hello Archive"))
	require.NoError(t, err)
	assert.Contains(t, text, "Hello Archive")
}

func TestPDFTextRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := PDFText([]byte("this is not a pdf at all"))
	require.Error(t, err)

	_, err = PDFText(nil)
	require.Error(t, err)
}

func TestExtractorPDFDegradesToEmpty(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig(), stubFetcher{err: errors.New("404")}, nil)
	assert.Empty(t, e.PDF(context.Background(), "https://example.com/a.pdf"))

	e = New(DefaultConfig(), stubFetcher{body: []byte("%PDF-1.4\ncorrupt")}, nil)
	assert.Empty(t, e.PDF(context.Background(), "https://example.com/a.pdf"))

	e = New(DefaultConfig(), stubFetcher{body: buildPDF("Quarterly outlook")}, nil)
	assert.Contains(t, e.PDF(context.Background(), "https://example.com/a.pdf"), "Quarterly outlook")
}

// buildPDF assembles a one-page PDF with a correct cross-reference table.
func buildPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}
