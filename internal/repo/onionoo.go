package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relaywatch/correlator/internal/cache"
	"github.com/relaywatch/correlator/internal/models"
	"github.com/relaywatch/correlator/internal/topology"
)

// detailsFields is the explicit field list requested from the directory so
// response payloads stay small.
const detailsFields = "nickname,fingerprint,or_addresses,flags,country,as_number,consensus_weight,first_seen,last_seen"

// DirectoryClient fetches public relay metadata from an Onionoo-compatible
// directory endpoint and builds topology snapshots from it.
type DirectoryClient struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewDirectoryClient constructs a client targeting the configured directory.
// The cache provider may be a NoopProvider to disable document caching.
func NewDirectoryClient(baseURL string, timeout time.Duration, provider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *DirectoryClient {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      provider,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

type detailsDocument struct {
	Relays []relayDetails `json:"relays"`
}

type relayDetails struct {
	Nickname        string   `json:"nickname"`
	Fingerprint     string   `json:"fingerprint"`
	ORAddresses     []string `json:"or_addresses"`
	Flags           []string `json:"flags"`
	Country         string   `json:"country"`
	ASNumber        string   `json:"as_number"`
	ConsensusWeight float64  `json:"consensus_weight"`
	FirstSeen       string   `json:"first_seen"`
	LastSeen        string   `json:"last_seen"`
}

// FetchRelays retrieves running relays from the directory's details endpoint.
// A positive limit bounds the number of records, which keeps test and
// development fetches small.
func (c *DirectoryClient) FetchRelays(ctx context.Context, limit int) ([]models.Relay, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("directory base URL not configured")
	}

	doc, err := c.fetchDocument(ctx, limit)
	if err != nil {
		return nil, err
	}

	relays := make([]models.Relay, 0, len(doc.Relays))
	for _, raw := range doc.Relays {
		relay, ok := c.parseRelay(raw)
		if !ok {
			continue
		}
		relays = append(relays, relay)
	}
	c.logger.Info("directory fetch complete",
		slog.Int("records", len(doc.Relays)),
		slog.Int("parsed", len(relays)))
	return relays, nil
}

// Snapshot fetches relays and assembles an immutable topology snapshot.
func (c *DirectoryClient) Snapshot(ctx context.Context, limit int) (*topology.Snapshot, error) {
	relays, err := c.FetchRelays(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	now := time.Now().UTC()
	id := "snapshot-" + now.Format("20060102-150405")
	return topology.NewSnapshot(id, now, relays), nil
}

func (c *DirectoryClient) fetchDocument(ctx context.Context, limit int) (*detailsDocument, error) {
	cacheKey := "onionoo:details:" + strconv.Itoa(limit)
	if data, err := c.cache.Get(ctx, cacheKey); err == nil {
		var doc detailsDocument
		if err := json.Unmarshal(data, &doc); err == nil {
			c.logger.Debug("directory document served from cache", slog.String("key", cacheKey))
			return &doc, nil
		}
	}

	endpoint, err := url.Parse(c.baseURL + "/details")
	if err != nil {
		return nil, fmt.Errorf("directory URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("running", "true")
	query.Set("fields", detailsFields)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("directory response: %w", err)
	}

	var doc detailsDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse directory response: %w", err)
	}

	if c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, cacheKey, body, c.cacheTTL); err != nil {
			c.logger.Warn("directory document cache write failed", slog.Any("error", err))
		}
	}
	return &doc, nil
}

// parseRelay converts a raw directory record into a Relay. Records without a
// fingerprint or a usable address are skipped.
func (c *DirectoryClient) parseRelay(raw relayDetails) (models.Relay, bool) {
	if raw.Fingerprint == "" || len(raw.ORAddresses) == 0 {
		return models.Relay{}, false
	}

	address := hostOf(raw.ORAddresses[0])
	if address == "" {
		c.logger.Debug("relay has malformed address, skipping", slog.String("fingerprint", raw.Fingerprint))
		return models.Relay{}, false
	}

	flags := make([]models.RelayFlag, 0, len(raw.Flags))
	for _, f := range raw.Flags {
		flags = append(flags, models.RelayFlag(f))
	}

	relay := models.Relay{
		Fingerprint:     raw.Fingerprint,
		Nickname:        raw.Nickname,
		Address:         address,
		Subnet16:        models.DeriveSubnet16(address),
		Flags:           flags,
		ConsensusWeight: raw.ConsensusWeight,
		ASNumber:        raw.ASNumber,
		CountryCode:     raw.Country,
		FirstSeen:       parseDirectoryTime(raw.FirstSeen),
		LastSeen:        parseDirectoryTime(raw.LastSeen),
	}
	return relay, true
}

// hostOf strips the port from "1.2.3.4:9001" or "[2001:db8::1]:9001".
func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// parseDirectoryTime handles the directory's "2006-01-02 15:04:05" stamps.
func parseDirectoryTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
