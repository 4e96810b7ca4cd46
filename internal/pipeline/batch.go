package pipeline

import (
	"github.com/JakeFAU/intel-archiver/internal/classifier"
	"github.com/JakeFAU/intel-archiver/internal/crawler"
)

// RoundRobin splits urls into n batches, url i going to batch i mod n.
// Empty batches are dropped.
func RoundRobin(urls []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	batches := make([][]string, n)
	for i, u := range urls {
		batches[i%n] = append(batches[i%n], u)
	}
	out := batches[:0]
	for _, b := range batches {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// Units turns a crawl result into branch units: article batches first, then
// one unit per PDF.
func Units(res crawler.CrawlResult, batches int) []Unit {
	var units []Unit
	for _, b := range RoundRobin(res.ArticleURLs, batches) {
		units = append(units, Unit{Kind: classifier.KindPage, URLs: b})
	}
	for _, pdf := range res.PDFURLs {
		units = append(units, Unit{Kind: classifier.KindPDF, URLs: []string{pdf}})
	}
	return units
}
