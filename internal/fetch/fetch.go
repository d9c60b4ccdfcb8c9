// Package fetch is the thin façade over the HTTP client that the
// per-site crawler (component N) and the robots cache (component D)
// both consult to retrieve bytes off the wire.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/bypass"
	"github.com/atra-crawler/atra/internal/fingerprint"
	"github.com/atra-crawler/atra/internal/storage"
	"github.com/atra-crawler/atra/pkg/httpclient"
	"github.com/atra-crawler/atra/pkg/proxy"
	"github.com/atra-crawler/atra/pkg/useragent"
)

// RedirectPolicy controls which redirect targets a fetch is allowed to
// follow, per spec.md §4.L.
type RedirectPolicy int

const (
	// Loose follows up to Config.RedirectLimit redirects regardless of host.
	Loose RedirectPolicy = iota
	// Strict only follows redirects whose target host matches the
	// original host (subject to AllowSubdomains/AllowSameTLD), and stops
	// after StrictInitialTolerance hops to any other host.
	Strict
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// Config configures a Fetcher.
type Config struct {
	Timeout      time.Duration
	RedirectLimit int
	// StrictInitialTolerance bounds how many off-host hops Strict still
	// tolerates before giving up, per spec.md §4.L ("a small initial
	// redirect tolerance (1-2 hops)").
	StrictInitialTolerance int
	RedirectPolicy          RedirectPolicy
	AllowSubdomains         bool
	AllowSameTLD            bool
	UseCookieJar            bool
	ProxyPool               *proxy.Pool
	UAPool                  *useragent.Pool
	Fingerprint             fingerprint.Profile
	// ExtraHeaders are set on every outgoing request in addition to the
	// User-Agent and Accept/Accept-Language defaults.
	ExtraHeaders map[string]string
}

// Response is what a fetch returns: the façade's FetchedRequestData.
type Response struct {
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	DetectedBot bool
	DetectionSrc string
}

// Fetcher performs single-URL fetches honoring the configured redirect
// policy, proxy rotation, user-agent rotation and TLS fingerprint.
type Fetcher struct {
	config Config
	client *httpclient.Client
}

// New builds a Fetcher. A single Fetcher should be reused across
// requests so that cookie jars and connection pooling persist.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RedirectLimit == 0 {
		cfg.RedirectLimit = 5
	}
	if cfg.StrictInitialTolerance == 0 {
		cfg.StrictInitialTolerance = 1
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if string(cfg.Fingerprint) == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}

	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if val := req.Context().Value(proxyKey); val != nil {
			if u, ok := val.(*url.URL); ok {
				return u, nil
			}
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("fetch: setup transport: %w", err)
	}

	httpCfg := httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.RedirectLimit,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	}

	client, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("fetch: create client: %w", err)
	}

	if cfg.RedirectPolicy == Strict {
		limit := cfg.RedirectLimit
		tolerance := cfg.StrictInitialTolerance
		allowSub := cfg.AllowSubdomains
		allowTLD := cfg.AllowSameTLD
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("fetch: stopped after %d redirects", limit)
			}
			origin := via[0].URL
			if hostMatches(origin, req.URL, allowSub, allowTLD) {
				return nil
			}
			if len(via) <= tolerance {
				return nil
			}
			return fmt.Errorf("fetch: strict redirect policy rejected off-host redirect to %s", req.URL.Host)
		}
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// hostMatches reports whether target is an acceptable redirect
// destination for a request that started at origin, per the Strict
// policy's host, subdomain, and shared-TLD options.
func hostMatches(origin, target *url.URL, allowSub, allowTLD bool) bool {
	o := strings.ToLower(origin.Hostname())
	t := strings.ToLower(target.Hostname())
	if o == t {
		return true
	}
	if allowSub && strings.HasSuffix(t, "."+o) {
		return true
	}
	if allowTLD {
		oOrigin, ok1 := atraurl.OriginOf(origin)
		tOrigin, ok2 := atraurl.OriginOf(target)
		if ok1 && ok2 && oOrigin == tOrigin {
			return true
		}
	}
	return false
}

// Fetch performs a GET request against target. Callers are expected to
// have already consulted the interval pacer and origin guard; Fetch
// itself does not rate-limit or reserve the origin.
func (f *Fetcher) Fetch(ctx context.Context, target string) (Response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Response{}, fmt.Errorf("fetch: build request for %s: %w", target, err)
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
		if activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
		}
	}

	req.Header.Set("User-Agent", f.config.UAPool.GetSequential())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range f.config.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
		}
		return Response{Duration: time.Since(start)}, fmt.Errorf("fetch: request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Duration: time.Since(start)}, fmt.Errorf("fetch: read body of %s: %w", target, err)
	}

	out := Response{
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}

	detected, source := analyzeBotDetection(out)
	out.DetectedBot = detected
	out.DetectionSrc = source

	return out, nil
}

// robotsURL derives the well-known robots.txt location for an origin.
func robotsURL(origin atraurl.Origin) string {
	return "https://" + string(origin) + "/robots.txt"
}

// FetchRobots implements robots.Fetcher, letting the robots cache
// consult this same client without importing the fetch package back.
func (f *Fetcher) FetchRobots(ctx context.Context, origin atraurl.Origin) ([]byte, int, error) {
	resp, err := f.Fetch(ctx, robotsURL(origin))
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.StatusCode, nil
}

// analyzeBotDetection runs the shared bot-protection detectors against
// a fetch response, bridging to storage.ScrapeResult's field layout
// since that's the type the detectors are written against.
func analyzeBotDetection(r Response) (bool, string) {
	bridge := &storage.ScrapeResult{
		StatusCode: r.StatusCode,
		Headers:    r.Headers,
		Body:       r.Body,
	}
	bypass.Analyze(bridge, bypass.DefaultDetectors())
	return bridge.DetectedBot, bridge.DetectionSrc
}
