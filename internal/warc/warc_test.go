package warc

import (
	"os"
	"strings"
	"testing"
	"time"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWriteHeaderAndBodyAdvancesSkipPointer(t *testing.T) {
	w := newTestWriter(t)

	first := w.GetSkipPointer()
	if first.Position != 0 {
		t.Fatalf("expected initial position 0, got %d", first.Position)
	}

	if _, err := w.WriteHeader([]HeaderField{{"WARC-Type", "response"}}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := w.WriteBodyComplete([]byte("hello")); err != nil {
		t.Fatalf("WriteBodyComplete: %v", err)
	}

	second := w.GetSkipPointer()
	if second.Position <= first.Position {
		t.Fatalf("expected position to advance, got %d then %d", first.Position, second.Position)
	}
	if second.File != first.File {
		t.Fatalf("expected same file before rotation")
	}
}

func TestForwardIfFilesizeRotates(t *testing.T) {
	w := newTestWriter(t)
	if _, err := w.WriteBodyComplete([]byte("x")); err != nil {
		t.Fatalf("WriteBodyComplete: %v", err)
	}
	before := w.GetSkipPointer().File

	retired, rotated, err := w.ForwardIfFilesize(1)
	if err != nil {
		t.Fatalf("ForwardIfFilesize: %v", err)
	}
	if !rotated {
		t.Fatal("expected rotation once size exceeds threshold")
	}
	if retired != before {
		t.Fatalf("expected retired file %q, got %q", before, retired)
	}
	if w.GetSkipPointer().File == before {
		t.Fatal("expected a new file after rotation")
	}
}

func TestWriteCrawlResultSingleRecord(t *testing.T) {
	w := newTestWriter(t)

	req := Request{
		URL:             "https://example.com/",
		Timestamp:       time.Now(),
		HeaderSignature: []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n"),
		Content: Content{
			Kind:   InMemory,
			Bytes:  []byte("<html><body>hi</body></html>"),
			Format: "text/html",
		},
	}

	instr, err := WriteCrawlResult(w, req)
	if err != nil {
		t.Fatalf("WriteCrawlResult: %v", err)
	}
	if instr.Single == nil || instr.Multiple != nil {
		t.Fatalf("expected a single-record skip instruction, got %+v", instr)
	}
	if instr.Single.HeaderLength != uint32(len(req.HeaderSignature)) {
		t.Fatalf("header length = %d", instr.Single.HeaderLength)
	}
}

func TestWriteCrawlResultBase64EncodesBinaryContent(t *testing.T) {
	w := newTestWriter(t)

	req := Request{
		URL:             "https://example.com/logo.png",
		Timestamp:       time.Now(),
		HeaderSignature: []byte("HTTP/1.1 200 OK\r\nContent-Type: image/png\r\n\r\n"),
		Content: Content{
			Kind:   InMemory,
			Bytes:  []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0x02},
			Format: "image/png",
		},
	}

	instr, err := WriteCrawlResult(w, req)
	if err != nil {
		t.Fatalf("WriteCrawlResult: %v", err)
	}
	if instr.Single == nil {
		t.Fatal("expected a single record")
	}

	raw, err := os.ReadFile(filePathOf(t, w))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "Atra-Base64: true") {
		t.Fatal("expected Atra-Base64 marker for unknown/binary format")
	}
}

func TestWriteCrawlResultSegmentsLargePayload(t *testing.T) {
	w := newTestWriter(t)

	body := strings.Repeat("a", int(MaxFileSize)+1024)
	req := Request{
		URL:             "https://example.com/huge",
		Timestamp:       time.Now(),
		HeaderSignature: []byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n"),
		Content: Content{
			Kind:   InMemory,
			Bytes:  []byte(body),
			Format: "text/plain",
		},
	}

	instr, err := WriteCrawlResult(w, req)
	if err != nil {
		t.Fatalf("WriteCrawlResult: %v", err)
	}
	if instr.Single != nil || len(instr.Multiple) < 2 {
		t.Fatalf("expected a segmented skip instruction, got %+v", instr)
	}
	for i, p := range instr.Multiple {
		if p.BodyOctetCount == 0 {
			t.Fatalf("segment %d has zero body octet count", i)
		}
	}
}

func TestWriteCrawlResultExternalFileReferencesPath(t *testing.T) {
	w := newTestWriter(t)

	req := Request{
		URL:             "https://example.com/archive.zip",
		Timestamp:       time.Now(),
		HeaderSignature: []byte("HTTP/1.1 200 OK\r\nContent-Type: application/zip\r\n\r\n"),
		Content: Content{
			Kind:           ExternalFile,
			ExternalPath:   "archive.zip",
			ExternalLength: 4096,
		},
	}

	instr, err := WriteCrawlResult(w, req)
	if err != nil {
		t.Fatalf("WriteCrawlResult: %v", err)
	}
	if instr.Single == nil {
		t.Fatal("expected a single record for the external-file case")
	}
	if instr.Single.BodyOctetCount != 4096 {
		t.Fatalf("body octet count = %d, want 4096", instr.Single.BodyOctetCount)
	}
}

func TestLabeledDigestIsStableAndLabeled(t *testing.T) {
	d1 := labeledDigest([]byte("hello"))
	d2 := labeledDigest([]byte("hello"))
	if d1 != d2 {
		t.Fatal("expected stable digest for identical input")
	}
	if !strings.HasPrefix(d1, "xxh3-128:") {
		t.Fatalf("expected labeled digest, got %q", d1)
	}
	if labeledDigest([]byte("world")) == d1 {
		t.Fatal("expected different digests for different input")
	}
}

// filePathOf returns the absolute path of the writer's current file, for
// assertions that need to inspect written bytes directly.
func filePathOf(t *testing.T, w *Writer) string {
	t.Helper()
	return w.dir + "/" + w.fileName
}
