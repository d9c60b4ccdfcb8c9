// Package csv exports a finished crawl's slim results to CSV, the same
// append-only, header-first layout burr used for its CSV scrape backend.
package csv

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/atra-crawler/atra/internal/crawlresult"
)

var headers = []string{
	"url",
	"status_code",
	"content_type",
	"timestamp",
	"hint_json",
}

// Write renders results as CSV to w, headers first.
func Write(w io.Writer, results []crawlresult.SlimResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("export/csv: write headers: %w", err)
	}

	for _, r := range results {
		hintJSON, err := json.Marshal(r.Hint)
		if err != nil {
			return fmt.Errorf("export/csv: marshal hint for %s: %w", r.URL, err)
		}

		record := []string{
			r.URL,
			strconv.Itoa(r.StatusCode),
			r.ContentType,
			r.Timestamp.Format(time.RFC3339Nano),
			string(hintJSON),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export/csv: write record for %s: %w", r.URL, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export/csv: flush: %w", err)
	}
	return nil
}

// Read parses CSV previously produced by Write.
func Read(r io.Reader) ([]crawlresult.SlimResult, error) {
	cr := csv.NewReader(r)

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("export/csv: read headers: %w", err)
	}

	var out []crawlresult.SlimResult
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("export/csv: read record: %w", err)
		}
		if len(record) != len(headers) {
			continue // skip malformed rows
		}

		statusCode, _ := strconv.Atoi(record[1])
		timestamp, _ := time.Parse(time.RFC3339Nano, record[3])

		var hint crawlresult.StoredDataHint
		if err := json.Unmarshal([]byte(record[4]), &hint); err != nil {
			return nil, fmt.Errorf("export/csv: unmarshal hint for %s: %w", record[0], err)
		}

		out = append(out, crawlresult.SlimResult{
			URL:         record[0],
			StatusCode:  statusCode,
			ContentType: record[2],
			Timestamp:   timestamp,
			Hint:        hint,
		})
	}
	return out, nil
}
