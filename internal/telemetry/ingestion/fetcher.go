// Package ingestion retrieves raw detection records for each log source from
// the search backend.
package ingestion

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// ErrSearchFailed is returned when the backend answers a search with an
// error status.
var ErrSearchFailed = errors.New("search request failed")

// Config holds the search backend connection and query settings.
type Config struct {
	URL       string
	Username  string
	Password  string
	Insecure  bool
	Index     string // suricata and sophos
	PANWIndex string
	// BucketSize caps the number of suricata rules returned.
	BucketSize int
	// HitSize caps the number of sophos and panw documents returned.
	HitSize int
}

// DefaultConfig returns the standard index patterns and sizes.
func DefaultConfig() Config {
	return Config{
		URL:        "https://localhost:9200",
		Index:      "logs-*",
		PANWIndex:  ".ds-logs-panw.panos-default-*",
		BucketSize: 500,
		HitSize:    500,
	}
}

// OpenSearchFetcher implements telemetry.Fetcher against an OpenSearch or
// Elasticsearch cluster.
type OpenSearchFetcher struct {
	client *opensearch.Client
	config Config
	logger *zap.Logger
}

// NewOpenSearchFetcher creates a fetcher. It does not contact the cluster;
// use HealthCheck for that.
func NewOpenSearchFetcher(cfg Config, logger *zap.Logger) (*OpenSearchFetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Index == "" {
		cfg.Index = def.Index
	}
	if cfg.PANWIndex == "" {
		cfg.PANWIndex = def.PANWIndex
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = def.BucketSize
	}
	if cfg.HitSize <= 0 {
		cfg.HitSize = def.HitSize
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Insecure,
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchFetcher{client: client, config: cfg, logger: logger}, nil
}

// Host returns the configured cluster address.
func (f *OpenSearchFetcher) Host() string { return f.config.URL }

// Query returns the index and search body used for a source and window.
func (f *OpenSearchFetcher) Query(w telemetry.Window, source telemetry.EventType) (string, map[string]interface{}, error) {
	switch source {
	case telemetry.EventTypeSuricata:
		return f.config.Index, SuricataQuery(w, f.config.BucketSize), nil
	case telemetry.EventTypeSophos:
		return f.config.Index, SophosQuery(w, f.config.HitSize), nil
	case telemetry.EventTypePANW:
		return f.config.PANWIndex, PANWQuery(w, f.config.HitSize), nil
	default:
		return "", nil, fmt.Errorf("%w: %q", telemetry.ErrUnknownSource, source)
	}
}

// Fetch runs the source's search and returns the raw response body.
func (f *OpenSearchFetcher) Fetch(ctx context.Context, w telemetry.Window, source telemetry.EventType) ([]byte, error) {
	index, query, err := f.Query(w, source)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	start := time.Now()
	res, err := f.client.Search(
		f.client.Search.WithContext(ctx),
		f.client.Search.WithIndex(index),
		f.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s events: %w", source, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s search response: %w", source, err)
	}

	if res.IsError() {
		return nil, fmt.Errorf("%w: %s: %s - %s", ErrSearchFailed, source, res.Status(), truncate(raw, 512))
	}

	f.logger.Debug("Fetched source batch",
		zap.String("source", string(source)),
		zap.String("index", index),
		zap.String("window", w.Label),
		zap.Int("bytes", len(raw)),
		zap.Duration("duration", time.Since(start)),
	)
	return raw, nil
}

// HealthCheck verifies the cluster is reachable and authenticates us.
func (f *OpenSearchFetcher) HealthCheck(ctx context.Context) error {
	info, err := f.client.Info(f.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
