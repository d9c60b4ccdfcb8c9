// Package jsonl exports a finished crawl's slim results as
// newline-delimited JSON, the same one-record-per-line layout burr used
// for its NDJSON scrape backend.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/atra-crawler/atra/internal/crawlresult"
)

// Write renders results as NDJSON to w, one record per line.
func Write(w io.Writer, results []crawlresult.SlimResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("export/jsonl: encode %s: %w", r.URL, err)
		}
	}
	return nil
}

// Read parses NDJSON previously produced by Write.
func Read(r io.Reader) ([]crawlresult.SlimResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var out []crawlresult.SlimResult
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec crawlresult.SlimResult
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("export/jsonl: decode: %w", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("export/jsonl: scan: %w", err)
	}
	return out, nil
}
