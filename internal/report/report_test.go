package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/atra-crawler/atra/internal/crawlresult"
)

func TestGenerateSummary(t *testing.T) {
	now := time.Now()

	results := []crawlresult.SlimResult{
		{
			StatusCode:  200,
			ContentType: "text/html",
			Timestamp:   now,
			Hint:        crawlresult.StoredDataHint{Kind: crawlresult.HintInMemory, InMemory: []byte("123")},
		},
		{
			StatusCode:  403,
			ContentType: "text/html",
			Timestamp:   now.Add(1 * time.Second),
			Hint:        crawlresult.StoredDataHint{Kind: crawlresult.HintWarc},
		},
		{
			StatusCode: 0,
			Timestamp:  now.Add(2 * time.Second),
			Hint:       crawlresult.StoredDataHint{Kind: crawlresult.HintNone},
		},
	}

	summary := GenerateSummary(results, 1)

	if summary.TotalFetched != 3 {
		t.Errorf("expected 3 total fetched, got %d", summary.TotalFetched)
	}
	if summary.TotalErrors != 1 {
		t.Errorf("expected 1 error, got %d", summary.TotalErrors)
	}
	if summary.StatusCodes[200] != 1 {
		t.Errorf("expected 1 200 OK, got %d", summary.StatusCodes[200])
	}
	if summary.StatusCodes[403] != 1 {
		t.Errorf("expected 1 403 Forbidden, got %d", summary.StatusCodes[403])
	}
	if summary.HintCounts["in-memory"] != 1 || summary.HintCounts["warc"] != 1 || summary.HintCounts["none"] != 1 {
		t.Errorf("unexpected hint counts: %+v", summary.HintCounts)
	}
	if summary.TotalBytes != 3 {
		t.Errorf("expected 3 total bytes, got %d", summary.TotalBytes)
	}
	if summary.Duration != 2*time.Second {
		t.Errorf("expected 2s duration, got %v", summary.Duration)
	}
}

func TestWriteJSON(t *testing.T) {
	summary := Summary{TotalFetched: 5}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"TotalFetched": 5`) {
		t.Errorf("expected JSON to contain TotalFetched: 5")
	}
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		TotalFetched: 5,
		TotalErrors:  1,
		StatusCodes: map[int]int{
			200: 4,
			500: 1,
		},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Total Fetched: 5 urls") {
		t.Errorf("expected text to contain Total Fetched: 5")
	}
	if !strings.Contains(out, "200: 4") {
		t.Errorf("expected text to contain 200: 4")
	}
}

func TestWriteHTML(t *testing.T) {
	summary := Summary{
		TotalFetched: 10,
		HintCounts:   map[string]int{"warc": 10},
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>Atra Crawl Report</title>") {
		t.Errorf("expected HTML title")
	}
	if !strings.Contains(out, "warc") {
		t.Errorf("expected HTML to contain warc hint")
	}
}
