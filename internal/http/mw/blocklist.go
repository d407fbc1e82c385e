package mw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrURLBlocked is returned when a target URL matches the blocklist.
var ErrURLBlocked = errors.New("target url is blocked")

// URLBlocklist rejects extraction targets whose host matches a blocked
// domain, IP, or CIDR range. Private and loopback addresses are always
// blocked so the service cannot be pointed at internal infrastructure.
// The domain list is S3-backed with lazy loading, etag caching, and error
// backoff; it fails open to the built-in rules when S3 is unavailable.
type URLBlocklist struct {
	s3Client *s3.Client
	bucket   string
	key      string

	mu           sync.RWMutex
	domains      map[string]bool
	blockedIPs   map[string]bool
	blockedCIDRs []*net.IPNet
	etag         string
	lastCheck    time.Time
	lastError    time.Time
	initialized  bool
	cacheTTL     time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger
}

// URLBlocklistConfig holds configuration for the URL blocklist.
type URLBlocklistConfig struct {
	// S3Client may be nil; only the built-in private-network rules apply then.
	S3Client     *s3.Client
	Bucket       string
	Key          string
	CacheTTL     time.Duration // How often to check for updates (default: 5 min)
	ErrorBackoff time.Duration // How long to wait after an error (default: 1 min)
	Logger       *slog.Logger
}

// NewURLBlocklist creates a new URL blocklist. The S3 list is lazy-loaded on
// first check.
func NewURLBlocklist(cfg URLBlocklistConfig) *URLBlocklist {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 1 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &URLBlocklist{
		s3Client:     cfg.S3Client,
		bucket:       cfg.Bucket,
		key:          cfg.Key,
		domains:      make(map[string]bool),
		blockedIPs:   make(map[string]bool),
		blockedCIDRs: make([]*net.IPNet, 0),
		cacheTTL:     cfg.CacheTTL,
		errorBackoff: cfg.ErrorBackoff,
		logger:       cfg.Logger,
	}
}

// Check returns ErrURLBlocked when the raw URL targets a blocked host.
// Handlers call this before dispatching scrape, crawl, search, and map work.
func (b *URLBlocklist) Check(ctx context.Context, rawURL string) error {
	if b.s3Client != nil {
		b.maybeRefresh(ctx)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return nil // Invalid URLs are rejected by request validation, not here.
	}
	host := strings.ToLower(parsed.Hostname())

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateAddress(ip) || b.ipBlocked(ip) {
			return fmt.Errorf("%w: %s", ErrURLBlocked, host)
		}
		return nil
	}

	if b.domainBlocked(host) {
		return fmt.Errorf("%w: %s", ErrURLBlocked, host)
	}
	return nil
}

// domainBlocked matches the host and all of its parent domains.
func (b *URLBlocklist) domainBlocked(host string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for h := host; h != ""; {
		if b.domains[h] {
			return true
		}
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		h = h[idx+1:]
	}
	return false
}

func (b *URLBlocklist) ipBlocked(ip net.IP) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.blockedIPs[ip.String()] {
		return true
	}
	for _, cidr := range b.blockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// isPrivateAddress reports whether the IP points at internal infrastructure.
func isPrivateAddress(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// maybeRefresh checks if the S3 list needs a refresh. Non-blocking; refreshes
// run in the background.
func (b *URLBlocklist) maybeRefresh(ctx context.Context) {
	b.mu.RLock()
	needsRefresh := !b.initialized || time.Since(b.lastCheck) > b.cacheTTL
	inErrorBackoff := !b.lastError.IsZero() && time.Since(b.lastError) < b.errorBackoff
	b.mu.RUnlock()

	if !needsRefresh || inErrorBackoff {
		return
	}

	go b.refresh(context.WithoutCancel(ctx))
}

// refresh fetches the blocklist from S3. Entries are domains, IPs, or CIDR
// ranges, one string each in a JSON array.
func (b *URLBlocklist) refresh(ctx context.Context) {
	b.mu.Lock()
	if b.initialized && time.Since(b.lastCheck) < b.cacheTTL {
		b.mu.Unlock()
		return
	}
	currentEtag := b.etag
	b.mu.Unlock()

	input := &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    &b.key,
	}
	if currentEtag != "" {
		input.IfNoneMatch = &currentEtag
	}

	resp, err := b.s3Client.GetObject(ctx, input)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			b.mu.Lock()
			b.initialized = true
			b.lastCheck = time.Now()
			b.lastError = time.Now()
			b.mu.Unlock()
			b.logger.Debug("url blocklist not found in s3, will retry later",
				"bucket", b.bucket,
				"key", b.key,
			)
			return
		}

		var notModified interface{ ErrorCode() string }
		if errors.As(err, &notModified) && notModified.ErrorCode() == "NotModified" {
			b.mu.Lock()
			b.lastCheck = time.Now()
			b.mu.Unlock()
			return
		}

		b.mu.Lock()
		b.lastError = time.Now()
		b.initialized = true
		b.mu.Unlock()
		b.logger.Error("failed to fetch url blocklist from s3",
			"error", err,
			"bucket", b.bucket,
			"key", b.key,
		)
		return
	}
	defer resp.Body.Close()

	var entries []string
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		b.mu.Lock()
		b.lastError = time.Now()
		b.initialized = true
		b.mu.Unlock()
		b.logger.Error("failed to parse url blocklist", "error", err)
		return
	}

	domains := make(map[string]bool)
	blockedIPs := make(map[string]bool)
	var cidrs []*net.IPNet

	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				b.logger.Warn("invalid CIDR in url blocklist", "entry", entry, "error", err)
				continue
			}
			cidrs = append(cidrs, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			blockedIPs[ip.String()] = true
			continue
		}
		domains[strings.TrimPrefix(entry, ".")] = true
	}

	b.mu.Lock()
	b.domains = domains
	b.blockedIPs = blockedIPs
	b.blockedCIDRs = cidrs
	b.initialized = true
	b.lastCheck = time.Now()
	b.lastError = time.Time{}
	if resp.ETag != nil {
		b.etag = *resp.ETag
	}
	b.mu.Unlock()

	b.logger.Info("url blocklist refreshed",
		"domains", len(domains),
		"ips", len(blockedIPs),
		"cidrRanges", len(cidrs),
	)
}

// SetEntries replaces the blocklist contents directly. Used by tests and by
// deployments that configure a static list instead of S3.
func (b *URLBlocklist) SetEntries(entries []string) {
	domains := make(map[string]bool)
	blockedIPs := make(map[string]bool)
	var cidrs []*net.IPNet

	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, ipNet, err := net.ParseCIDR(entry); err == nil {
				cidrs = append(cidrs, ipNet)
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			blockedIPs[ip.String()] = true
			continue
		}
		domains[strings.TrimPrefix(entry, ".")] = true
	}

	b.mu.Lock()
	b.domains = domains
	b.blockedIPs = blockedIPs
	b.blockedCIDRs = cidrs
	b.initialized = true
	b.lastCheck = time.Now()
	b.mu.Unlock()
}
