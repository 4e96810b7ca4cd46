package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if pagesCrawledTotal == nil || artifactsTotal == nil || branchesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpersIncrementCounters(t *testing.T) {
	ObservePageCrawled("https://metrics-test.example/news", "ok")
	ObserveArtifact("page-test", "inserted")
	ObserveArtifact("page-test", "inserted")
	ObserveBranch("urls-test", "done", 2*time.Second)

	if val := testutil.ToFloat64(pagesCrawledTotal.WithLabelValues("metrics-test.example", "ok")); val != 1 {
		t.Errorf("expected one crawled page, got %f", val)
	}
	if val := testutil.ToFloat64(artifactsTotal.WithLabelValues("page-test", "inserted")); val != 2 {
		t.Errorf("expected two artifacts, got %f", val)
	}
	if val := testutil.ToFloat64(branchesTotal.WithLabelValues("urls-test", "done")); val != 1 {
		t.Errorf("expected one branch, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
