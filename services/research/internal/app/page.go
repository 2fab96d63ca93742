package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"copysensei/pkg/docparse"
)

const (
	defaultSnapshotTimeout  = 10 * time.Second
	defaultSnapshotMaxBytes = 2 << 20
	snapshotUserAgent       = "CopySenseiResearch/1.0"
)

// PageFetcherOptions configures NewPageFetcher.
type PageFetcherOptions struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowPrivateNetworks permits loopback and private addresses.
	AllowPrivateNetworks bool
}

// PageFetcher downloads a page and reduces it to a docparse.Snapshot.
type PageFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewPageFetcher builds a fetcher whose dialer refuses non-public addresses
// unless AllowPrivateNetworks is set.
func NewPageFetcher(opts PageFetcherOptions) *PageFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultSnapshotMaxBytes
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	if !opts.AllowPrivateNetworks {
		dialer.Control = publicOnly
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	return &PageFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		},
		maxBytes: maxBytes,
	}
}

// Snapshot fetches rawURL and extracts its title, description and headings.
func (f *PageFetcher) Snapshot(ctx context.Context, rawURL string) (docparse.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return docparse.Snapshot{}, err
	}
	req.Header.Set("User-Agent", snapshotUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := f.client.Do(req)
	if err != nil {
		return docparse.Snapshot{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return docparse.Snapshot{}, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return docparse.Snapshot{}, fmt.Errorf("fetch page: unexpected content type %s", mediaType)
		}
	}
	return docparse.ParseSnapshot(io.LimitReader(resp.Body, f.maxBytes))
}

func publicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}
