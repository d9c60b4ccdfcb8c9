// Package webgraph implements the append-only link-graph writer (spec
// component K): a bounded-channel ingest queue drained by a single
// background goroutine that owns the file handle, so concurrent workers
// never contend on file writes.
package webgraph

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// schemaHeader is written as the first line of a fresh graph file. A
// reopened non-empty file is only accepted if some line matches the
// looser schemaPrefix/schemaMarker check below, mirroring how the
// original writer tolerated header lines that were re-formatted by
// hand without breaking reopen.
const schemaHeader = "@prefix : <http://atra.de/>\n"
const schemaPrefix = "@prefix"
const schemaMarker = "http://atra.de/"

// Edge is one entry of the web-link graph: either a seed's binding to
// its origin, or a link discovered between two pages.
type Edge struct {
	// Seed, if true, records origin→url as a seed binding; otherwise
	// From/To record a discovered link.
	Seed   bool
	Origin string
	URL    string
	From   string
	To     string
}

func (e Edge) line() string {
	if e.Seed {
		return fmt.Sprintf("%q :has_seed <%s> .\n", e.Origin, e.URL)
	}
	return fmt.Sprintf("<%s> :links_to <%s> .\n", e.From, e.To)
}

// Writer owns the append-only graph file. Send to C to enqueue an edge;
// the background goroutine started by Open drains it.
type Writer struct {
	C      chan Edge
	cancel context.CancelFunc
	done   chan struct{}
}

// Open opens (or creates) path and starts the background writer
// goroutine. capacity bounds the ingest channel: Send blocks once it
// fills rather than growing unboundedly, per spec.md §4.K's "writers
// never block more than channel capacity."
func Open(path string, capacity int, log *slog.Logger) (*Writer, error) {
	if log == nil {
		log = slog.Default()
	}

	info, statErr := os.Stat(path)
	empty := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("webgraph: open %s: %w", path, err)
	}

	if empty {
		if _, err := f.WriteString(schemaHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("webgraph: write schema header: %w", err)
		}
	} else if err := checkHeader(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		C:      make(chan Edge, capacity),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(ctx, f, log)
	return w, nil
}

// checkHeader scans the file for a line identifying the schema. Any
// line starting with "@prefix" and containing the schema marker
// satisfies it; a non-empty file with no such line is a fatal error,
// since it's almost certainly from an incompatible version or isn't a
// graph file at all.
func checkHeader(f *os.File) error {
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("webgraph: seek to check header: %w", err)
	}

	found := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, schemaPrefix) && strings.Contains(line, schemaMarker) {
			found = true
			break
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("webgraph: read header: %w", err)
	}
	if !found {
		return fmt.Errorf("webgraph: %s has a mismatched or missing schema header; the graph file is from an incompatible version", f.Name())
	}

	if _, err := f.Seek(0, 2); err != nil {
		return fmt.Errorf("webgraph: seek to end: %w", err)
	}
	return nil
}

func (w *Writer) run(ctx context.Context, f *os.File, log *slog.Logger) {
	defer close(w.done)
	defer f.Close()
	bw := bufio.NewWriter(f)
	defer bw.Flush()

	for {
		select {
		case <-ctx.Done():
			if err := bw.Flush(); err != nil {
				log.Error("webgraph flush on shutdown failed", "err", err)
			}
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-w.C:
					w.writeOne(bw, e, log)
				default:
					return
				}
			}
		case e := <-w.C:
			w.writeOne(bw, e, log)
		}
	}
}

func (w *Writer) writeOne(bw *bufio.Writer, e Edge, log *slog.Logger) {
	if _, err := bw.WriteString(e.line()); err != nil {
		log.Error("webgraph write failed", "err", err)
		return
	}
	if err := bw.Flush(); err != nil {
		log.Error("webgraph flush failed", "err", err)
	}
}

// Send enqueues an edge, blocking if the channel is at capacity, or
// returning ctx.Err() if ctx completes first.
func (w *Writer) Send(ctx context.Context, e Edge) error {
	select {
	case w.C <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the background writer after it drains any queued edges.
func (w *Writer) Close() {
	w.cancel()
	<-w.done
}
