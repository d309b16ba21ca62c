package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

var testWindow = telemetry.Window{
	Label: "today",
	Start: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
}

// fakeCluster answers the info endpoint and records every search.
type fakeCluster struct {
	mu       sync.Mutex
	searches []recordedSearch
	status   int
	body     string
}

type recordedSearch struct {
	path string
	body map[string]interface{}
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/" {
		_, _ = io.WriteString(w, `{"cluster_name":"test","version":{"number":"2.11.0","distribution":"opensearch"}}`)
		return
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	c.mu.Lock()
	c.searches = append(c.searches, recordedSearch{path: r.URL.Path, body: body})
	status, resp := c.status, c.body
	c.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func newTestFetcher(t *testing.T, cluster *fakeCluster) *OpenSearchFetcher {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	f, err := NewOpenSearchFetcher(Config{URL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return f
}

// ============================================================================
// Query construction
// ============================================================================

func TestSuricataQuery(t *testing.T) {
	q := SuricataQuery(testWindow, 500)

	assert.Equal(t, 0, q["size"])

	filters := q["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, filters, 2)
	rng := filters[0].(map[string]interface{})["range"].(map[string]interface{})["@timestamp"].(map[string]interface{})
	assert.Equal(t, "2025-03-10T00:00:00Z", rng["gte"])
	assert.Equal(t, "2025-03-10T15:00:00Z", rng["lte"])
	assert.Equal(t, map[string]interface{}{"term": map[string]interface{}{"event.module": "suricata"}}, filters[1])

	byRule := q["aggs"].(map[string]interface{})["by_rule"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"field": "rule.name.keyword", "size": 500}, byRule["terms"])

	sub := byRule["aggs"].(map[string]interface{})
	sample := sub["sample_event"].(map[string]interface{})["top_hits"].(map[string]interface{})
	assert.Equal(t, 1, sample["size"])
	assert.Contains(t, sample["_source"], "mitre.stages")
	assert.Contains(t, sub, "first_event")
	assert.Contains(t, sub, "last_event")
}

func TestSophosAndPANWQueries(t *testing.T) {
	sophos := SophosQuery(testWindow, 250)
	assert.Equal(t, 250, sophos["size"])
	sf := sophos["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, sf, 3)
	assert.Equal(t, map[string]interface{}{"terms": map[string]interface{}{"sophos.xg.log_type": []string{"IDP", "Content Filtering"}}}, sf[2])

	panw := PANWQuery(testWindow, 100)
	pf := panw["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, pf, 4)
	assert.Equal(t, map[string]interface{}{"term": map[string]interface{}{"panw.panos.type": "THREAT"}}, pf[2])
	assert.Equal(t, map[string]interface{}{"terms": map[string]interface{}{"panw.panos.sub_type": []string{"file", "vulnerability"}}}, pf[3])
	assert.NotNil(t, panw["sort"])
}

func TestQuery_IndexPerSource(t *testing.T) {
	f, err := NewOpenSearchFetcher(Config{URL: "http://localhost:9200", Index: "filebeat-*"}, nil)
	require.NoError(t, err)

	idx, _, err := f.Query(testWindow, telemetry.EventTypeSophos)
	require.NoError(t, err)
	assert.Equal(t, "filebeat-*", idx)

	idx, _, err = f.Query(testWindow, telemetry.EventTypePANW)
	require.NoError(t, err)
	assert.Equal(t, ".ds-logs-panw.panos-default-*", idx)

	_, _, err = f.Query(testWindow, telemetry.EventType("zeek"))
	assert.True(t, errors.Is(err, telemetry.ErrUnknownSource))
}

// ============================================================================
// Fetch
// ============================================================================

func TestFetch_ReturnsRawBody(t *testing.T) {
	cluster := &fakeCluster{body: `{"hits":{"hits":[{"_source":{"@timestamp":"2025-03-10T01:00:00Z"}}]}}`}
	f := newTestFetcher(t, cluster)

	raw, err := f.Fetch(context.Background(), testWindow, telemetry.EventTypePANW)
	require.NoError(t, err)
	assert.Equal(t, cluster.body, string(raw))

	require.Len(t, cluster.searches, 1)
	assert.Equal(t, "/.ds-logs-panw.panos-default-*/_search", cluster.searches[0].path)
	assert.EqualValues(t, 500, cluster.searches[0].body["size"])
}

func TestFetch_ErrorStatus(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusBadRequest, body: `{"error":{"type":"parsing_exception"}}`}
	f := newTestFetcher(t, cluster)

	_, err := f.Fetch(context.Background(), testWindow, telemetry.EventTypeSuricata)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSearchFailed))
	assert.True(t, strings.Contains(err.Error(), "parsing_exception"))
}

func TestFetch_CancelledContext(t *testing.T) {
	f := newTestFetcher(t, &fakeCluster{body: `{}`})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, testWindow, telemetry.EventTypeSophos)
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	f := newTestFetcher(t, &fakeCluster{})
	assert.NoError(t, f.HealthCheck(context.Background()))

	down, err := NewOpenSearchFetcher(Config{URL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	assert.Error(t, down.HealthCheck(context.Background()))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate([]byte("abc"), 5))
	assert.Equal(t, "ab...", truncate([]byte("abcdef"), 2))
}
