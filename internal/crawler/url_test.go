package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "example.com", "example.com", true},
		{"subdomain", "news.example.com", "example.com", true},
		{"different second level", "example.org", "example.com", false},
		{"different tld", "example.co", "example.com", false},
		{"empty left", "", "example.com", true},
		{"empty right", "example.com", "", true},
		{"both empty", "", "", true},
		{"single label identical", "localhost", "localhost", true},
		{"single label vs domain", "localhost", "example.com", false},
		{"external", "other.net", "www.example.com", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SameDomain(tc.a, tc.b))
			require.Equal(t, tc.want, SameDomain(tc.b, tc.a), "must be symmetric")
		})
	}
}

func TestSameDomainReflexive(t *testing.T) {
	t.Parallel()

	for _, host := range []string{"a.b.c", "example.com", "x", "", "foo.example.co.uk"} {
		require.True(t, SameDomain(host, host), host)
	}
}

func TestLooksLikeArticle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"/sports", false},
		{"/news/2024-05-world-summit", true},
		{"/news/report-on-markets-2024", true},
		{"/news/report-on-markets-2024/", true},
		{"/two-tokens", false},
		{"/a-b-c", true},
		{"/v1.2-release-notes", true},
		{"/bad_token-with-underscore", false},
		{"/café-au-lait", false},
		{"/query?-a-b", false},
		{"", false},
		{"/", false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, LooksLikeArticle(tc.path), tc.path)
	}
}

func TestIsPDF(t *testing.T) {
	t.Parallel()

	require.True(t, IsPDF("/news/report.pdf"))
	require.True(t, IsPDF("/news/report.pdf/"))
	require.True(t, IsPDF("/news/REPORT.PDF"))
	require.False(t, IsPDF("/news/report.pdf.html"))
	require.False(t, IsPDF("/news/pdf"))
}

func TestPDFNeverArticle(t *testing.T) {
	t.Parallel()

	page, err := url.Parse("https://example.com/news")
	require.NoError(t, err)
	item := FrontierItem{Netloc: "example.com", Path: "/news", DepthRemaining: 2, TargetType: TargetBoth}

	d := ClassifyLink(page, "/news/annual-report-2024.pdf", item)
	require.Equal(t, LinkPDF, d.Kind)
	require.False(t, d.Enqueue)
}

func TestParentPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/news/world", ParentPath("/news/world/big-summit-today"))
	require.Equal(t, "", ParentPath("/big-summit-today/"))
}

func TestBuildURLStripsQueryAndFragment(t *testing.T) {
	t.Parallel()

	page, err := url.Parse("http://Example.com/news")
	require.NoError(t, err)
	link, err := url.Parse("/story-of-the-day?utm=1#top")
	require.NoError(t, err)

	require.Equal(t, "http://example.com/story-of-the-day", BuildURL(page, link))

	abs, err := url.Parse("https://www.example.com")
	require.NoError(t, err)
	require.Equal(t, "https://www.example.com/", BuildURL(page, abs))
}

func TestClassifyLink(t *testing.T) {
	t.Parallel()

	page, err := url.Parse("https://example.com/news/")
	require.NoError(t, err)

	tests := []struct {
		name   string
		href   string
		target TargetType
		want   LinkDecision
	}{
		{
			name:   "relative article",
			href:   "report-on-markets-2024",
			target: TargetBoth,
			want:   LinkDecision{Kind: LinkArticle, URL: "https://example.com/news/report-on-markets-2024", Enqueue: true},
		},
		{
			name:   "article not allowed for pdf targets",
			href:   "/news/report-on-markets-2024",
			target: TargetPDF,
			want:   LinkDecision{Kind: LinkExcluded, URL: "https://example.com/news/report-on-markets-2024", Enqueue: true},
		},
		{
			name:   "pdf not allowed for website targets",
			href:   "/files/report.pdf",
			target: TargetWebsite,
			want:   LinkDecision{Kind: LinkExcluded, URL: "https://example.com/files/report.pdf"},
		},
		{
			name:   "mailto rejected",
			href:   "mailto:desk@example.com",
			target: TargetBoth,
			want:   LinkDecision{Kind: LinkRejected},
		},
		{
			name:   "external rejected",
			href:   "https://elsewhere.org/a-b-c",
			target: TargetBoth,
			want:   LinkDecision{Kind: LinkRejected},
		},
		{
			name:   "subdomain accepted",
			href:   "https://blog.example.com/tag/markets",
			target: TargetBoth,
			want:   LinkDecision{Kind: LinkExcluded, URL: "https://blog.example.com/tag/markets", Enqueue: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			item := FrontierItem{Netloc: "example.com", Path: "/news/", DepthRemaining: 2, TargetType: tc.target}
			require.Equal(t, tc.want, ClassifyLink(page, tc.href, item))
		})
	}
}

func TestParseTargetType(t *testing.T) {
	t.Parallel()

	tt, err := ParseTargetType("")
	require.NoError(t, err)
	require.Equal(t, TargetBoth, tt)

	tt, err = ParseTargetType("website")
	require.NoError(t, err)
	require.Equal(t, TargetWebsite, tt)

	_, err = ParseTargetType("video")
	require.Error(t, err)
}
