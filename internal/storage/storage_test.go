package storage

import (
	"testing"
	"time"
)

// ensure ScrapeResult compiles and has the fields expected
func TestScrapeResult_Types(t *testing.T) {
	_ = ScrapeResult{
		ID:           "test1234",
		URL:          "http://example.com",
		Method:       "GET",
		StatusCode:   200,
		Headers:      map[string][]string{"X-Test": {"true"}},
		Body:         []byte("hello"),
		Duration:     10 * time.Millisecond,
		DetectedBot:  false,
		DetectionSrc: "",
		CreatedAt:    time.Now(),
		Error:        "",
	}
}
