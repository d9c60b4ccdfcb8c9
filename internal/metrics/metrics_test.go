package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/atra-crawler/atra/internal/fetch"
)

func TestMetricsServer(t *testing.T) {
	srv := Start(8889)
	// Give it a tiny bit of time to start up
	time.Sleep(100 * time.Millisecond)

	defer srv.Stop(context.Background())

	resp := fetch.Response{
		StatusCode: 200,
		Body:       []byte("hello world"), // 11 bytes
		Duration:   1 * time.Second,
	}

	RecordFetch("example.com", resp, nil)
	RecordWarcBytes("example.com", 11)
	RecordOriginReservation("example.com")
	SetQueueDepth(3)

	httpResp, err := http.Get("http://localhost:8889/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	output := string(body)

	if !strings.Contains(output, "atra_fetch_requests_total") {
		t.Errorf("expected atra_fetch_requests_total metric")
	}
	if !strings.Contains(output, `atra_fetch_duration_seconds_bucket`) {
		t.Errorf("expected atra_fetch_duration_seconds metric")
	}
	if !strings.Contains(output, `atra_fetch_bytes_total{origin="example.com"}`) {
		t.Errorf("expected atra_fetch_bytes_total metric for example.com")
	}
	if !strings.Contains(output, `atra_warc_bytes_total{origin="example.com"} 11`) {
		t.Errorf("expected atra_warc_bytes_total metric for example.com")
	}
	if !strings.Contains(output, `atra_origin_reservations_total{origin="example.com"} 1`) {
		t.Errorf("expected atra_origin_reservations_total metric for example.com")
	}
	if !strings.Contains(output, "atra_queue_depth 3") {
		t.Errorf("expected atra_queue_depth gauge")
	}
}
