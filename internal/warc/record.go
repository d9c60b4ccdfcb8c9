package warc

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ContentKind distinguishes a crawl result's payload location.
type ContentKind int

const (
	// InMemory holds the payload bytes directly.
	InMemory ContentKind = iota
	// ExternalFile references a payload already written elsewhere on
	// disk (e.g. a large download handled outside the WARC writer).
	ExternalFile
)

// Content is a crawl result's response body, prior to WARC encoding.
type Content struct {
	Kind ContentKind
	// Bytes holds the payload for Kind == InMemory.
	Bytes []byte
	// ExternalPath holds the referenced file name for Kind == ExternalFile.
	ExternalPath string
	// ExternalLength is the external file's length in bytes.
	ExternalLength uint64
	// Format is a MIME type or format label used to decide whether the
	// payload needs base64-safe encoding.
	Format string
}

// textualFormats are payload formats written verbatim; anything else is
// treated as unknown/binary and base64-encoded (spec.md §4.I step 3).
var textualFormats = map[string]bool{
	"text/html":              true,
	"text/plain":             true,
	"text/css":               true,
	"text/csv":               true,
	"text/xml":               true,
	"application/xml":        true,
	"application/json":       true,
	"application/javascript": true,
	"application/rss+xml":    true,
	"application/atom+xml":   true,
}

func isBinaryOrUnknown(format string) bool {
	return !textualFormats[format]
}

// Request describes one crawl result to append to the WARC sequence.
type Request struct {
	URL             string
	Timestamp       time.Time
	HeaderSignature []byte // synthesized HTTP status line + headers
	Content         Content
}

// SkipPointerWithOffsets augments a SkipPointer with the header length
// and body size needed to re-read a record without reparsing it.
type SkipPointerWithOffsets struct {
	Skip           SkipPointer
	HeaderLength   uint32
	BodyOctetCount uint64
}

// SkipInstruction is what WriteCrawlResult returns: a single pointer for
// an unsegmented record, or an ordered list for a segmented one.
type SkipInstruction struct {
	Single   *SkipPointerWithOffsets
	Multiple []SkipPointerWithOffsets
}

// WriteCrawlResult appends req to w following the 7-step record layout
// from spec.md §4.I, rotating the backing file afterward if it has grown
// past MaxFileSize.
func WriteCrawlResult(w *Writer, req Request) (SkipInstruction, error) {
	headerSig := req.HeaderSignature
	h := uint32(len(headerSig))

	if req.Content.Kind == ExternalFile {
		instr, err := writeExternalFileRecord(w, req, h)
		if err != nil {
			return SkipInstruction{}, err
		}
		if _, _, err := w.ForwardIfFilesize(MaxFileSize); err != nil {
			return instr, fmt.Errorf("warc: rotate after external-file record: %w", err)
		}
		return instr, nil
	}

	body := req.Content.Bytes
	base64Encoded := isBinaryOrUnknown(req.Content.Format)
	if base64Encoded {
		body = []byte(base64.StdEncoding.EncodeToString(body))
	}

	full := make([]byte, 0, len(headerSig)+len(body))
	full = append(full, headerSig...)
	full = append(full, body...)
	payloadDigest := labeledDigest(full)

	if uint64(len(full)) <= MaxFileSize {
		instr, err := writeSingleRecord(w, req, h, full, payloadDigest, base64Encoded)
		if err != nil {
			return SkipInstruction{}, err
		}
		if _, _, err := w.ForwardIfFilesize(MaxFileSize); err != nil {
			return instr, fmt.Errorf("warc: rotate after response record: %w", err)
		}
		return instr, nil
	}

	instr, err := writeSegmentedRecord(w, req, h, full, payloadDigest, base64Encoded)
	if err != nil {
		return SkipInstruction{}, err
	}
	if _, _, err := w.ForwardIfFilesize(MaxFileSize); err != nil {
		return instr, fmt.Errorf("warc: rotate after segmented record: %w", err)
	}
	return instr, nil
}

func writeExternalFileRecord(w *Writer, req Request, h uint32) (SkipInstruction, error) {
	recordID := uuid.New().String()
	digest := labeledDigest(req.HeaderSignature)

	pointer := w.GetSkipPointer()
	fields := []HeaderField{
		{"WARC-Type", "response"},
		{"WARC-Record-ID", "urn:uuid:" + recordID},
		{"WARC-Target-URI", req.URL},
		{"WARC-Date", req.Timestamp.UTC().Format(time.RFC3339)},
		{"WARC-Payload-Digest", digest},
		{"WARC-Block-Digest", digest},
		{"Content-Length", strconv.FormatUint(uint64(h), 10)},
		{"WARC-Truncated", "length"},
		{"Atra-External-File", req.Content.ExternalPath},
	}
	if _, err := w.WriteHeader(fields); err != nil {
		return SkipInstruction{}, err
	}
	if _, err := w.WriteBodyComplete(req.HeaderSignature); err != nil {
		return SkipInstruction{}, err
	}

	return SkipInstruction{Single: &SkipPointerWithOffsets{
		Skip:           pointer,
		HeaderLength:   h,
		BodyOctetCount: req.Content.ExternalLength,
	}}, nil
}

func writeSingleRecord(w *Writer, req Request, h uint32, full []byte, digest string, base64Encoded bool) (SkipInstruction, error) {
	recordID := uuid.New().String()
	pointer := w.GetSkipPointer()

	fields := []HeaderField{
		{"WARC-Type", "response"},
		{"WARC-Record-ID", "urn:uuid:" + recordID},
		{"WARC-Target-URI", req.URL},
		{"WARC-Date", req.Timestamp.UTC().Format(time.RFC3339)},
		{"WARC-Payload-Digest", digest},
		{"WARC-Block-Digest", digest},
		{"Content-Length", strconv.FormatUint(uint64(len(full)), 10)},
	}
	if base64Encoded {
		fields = append(fields, HeaderField{"Atra-Base64", "true"})
	}

	if _, err := w.WriteHeader(fields); err != nil {
		return SkipInstruction{}, err
	}
	if _, err := w.WriteBodyComplete(full); err != nil {
		return SkipInstruction{}, err
	}

	return SkipInstruction{Single: &SkipPointerWithOffsets{
		Skip:           pointer,
		HeaderLength:   h,
		BodyOctetCount: uint64(len(full)),
	}}, nil
}

func writeSegmentedRecord(w *Writer, req Request, h uint32, full []byte, payloadDigest string, base64Encoded bool) (SkipInstruction, error) {
	const chunkSize = MaxFileSize

	var chunks [][]byte
	for offset := uint64(0); offset < uint64(len(full)); offset += chunkSize {
		end := offset + chunkSize
		if end > uint64(len(full)) {
			end = uint64(len(full))
		}
		chunks = append(chunks, full[offset:end])
	}

	originID := uuid.New().String()
	var pointers []SkipPointerWithOffsets

	for i, chunk := range chunks {
		pointer := w.GetSkipPointer()
		blockDigest := labeledDigest(chunk)

		var recordID string
		if i == 0 {
			recordID = originID
		} else {
			recordID = uuid.New().String()
		}

		recordType := "continuation"
		if i == 0 {
			recordType = "response"
		}

		fields := []HeaderField{
			{"WARC-Type", recordType},
			{"WARC-Record-ID", "urn:uuid:" + recordID},
			{"WARC-Target-URI", req.URL},
			{"WARC-Date", req.Timestamp.UTC().Format(time.RFC3339)},
			{"WARC-Block-Digest", blockDigest},
			{"Content-Length", strconv.FormatUint(uint64(len(chunk)), 10)},
			{"WARC-Segment-Number", strconv.Itoa(i + 1)},
			{"WARC-Segment-Origin-ID", "urn:uuid:" + originID},
		}
		if i == 0 {
			fields = append(fields,
				HeaderField{"WARC-Header-Length", strconv.FormatUint(uint64(h), 10)},
				HeaderField{"WARC-Payload-Digest", payloadDigest},
			)
			if base64Encoded {
				fields = append(fields, HeaderField{"Atra-Base64", "true"})
			}
		}
		if i == len(chunks)-1 {
			fields = append(fields, HeaderField{"WARC-Segment-Total-Length", strconv.FormatUint(uint64(len(full)), 10)})
		}

		if _, err := w.WriteHeader(fields); err != nil {
			return SkipInstruction{}, err
		}
		if _, err := w.WriteBodyComplete(chunk); err != nil {
			return SkipInstruction{}, err
		}

		pointers = append(pointers, SkipPointerWithOffsets{
			Skip:           pointer,
			HeaderLength:   h,
			BodyOctetCount: uint64(len(chunk)),
		})
	}

	return SkipInstruction{Multiple: pointers}, nil
}
