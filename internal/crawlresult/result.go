// Package crawlresult implements the durable URL -> slim crawl result
// map (spec component J): metadata plus a pointer to where the actual
// body lives, so bodies don't have to be duplicated between the
// link-state store and the WARC corpus.
package crawlresult

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atra-crawler/atra/internal/warc"
)

// HintKind tags where a slim result's body actually lives.
type HintKind int

const (
	// HintNone means no body was retained (e.g. a non-2xx response).
	HintNone HintKind = iota
	// HintInMemory holds the body inline, for small payloads.
	HintInMemory
	// HintExternalFile points at a file written outside the WARC corpus.
	HintExternalFile
	// HintWarc points at a WARC skip instruction.
	HintWarc
	// HintAssociated aliases another URL's stored result (e.g. a
	// redirect target that was already fetched and stored once).
	HintAssociated
)

func (k HintKind) String() string {
	switch k {
	case HintNone:
		return "none"
	case HintInMemory:
		return "in-memory"
	case HintExternalFile:
		return "external-file"
	case HintWarc:
		return "warc"
	case HintAssociated:
		return "associated"
	default:
		return "unknown"
	}
}

// StoredDataHint is the tagged union describing where a result's body
// lives.
type StoredDataHint struct {
	Kind HintKind

	InMemory     []byte                `json:",omitempty"`
	ExternalPath string                `json:",omitempty"`
	Warc         *warc.SkipInstruction `json:",omitempty"`
	Associated   string                `json:",omitempty"`
}

// SlimResult is the record stored for every crawled URL.
type SlimResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Timestamp   time.Time
	Hint        StoredDataHint
}

// Encode serializes a SlimResult to JSON for a backing store.
func Encode(r SlimResult) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("crawlresult: encode %s: %w", r.URL, err)
	}
	return b, nil
}

// Decode deserializes a SlimResult previously produced by Encode.
func Decode(data []byte) (SlimResult, error) {
	var r SlimResult
	if err := json.Unmarshal(data, &r); err != nil {
		return SlimResult{}, fmt.Errorf("crawlresult: decode: %w", err)
	}
	return r, nil
}
