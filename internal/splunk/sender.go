// Package splunk forwards risk results to Splunk over the HTTP Event
// Collector.
package splunk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/risk"
	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

var (
	ErrMissingToken = errors.New("HEC token not configured")
	ErrMissingURL   = errors.New("HEC URL is required")
)

// HECEvent represents a Splunk HEC event.
type HECEvent struct {
	Time       float64        `json:"time,omitempty"`
	Host       string         `json:"host,omitempty"`
	Source     string         `json:"source,omitempty"`
	SourceType string         `json:"sourcetype,omitempty"`
	Index      string         `json:"index,omitempty"`
	Event      any            `json:"event"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// SenderConfig holds HEC sender configuration.
type SenderConfig struct {
	HECURL     string        `yaml:"hec_url"`
	TokenEnv   string        `yaml:"token_env"`
	Index      string        `yaml:"index"`
	SourceType string        `yaml:"sourcetype"`
	Source     string        `yaml:"source"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	// RetryBackoff is the base delay; attempt n waits n² times it.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	VerifySSL    bool          `yaml:"verify_ssl"`
}

// DefaultSenderConfig returns sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		TokenEnv:     "SPLUNK_HEC_TOKEN",
		Index:        "threatpulse",
		SourceType:   "threatpulse:risk",
		Source:       "threatpulse",
		BatchSize:    100,
		Timeout:      30 * time.Second,
		RetryCount:   3,
		RetryBackoff: time.Second,
		VerifySSL:    true,
	}
}

// SenderStats is a snapshot of the sender's counters.
type SenderStats struct {
	EventsSent   int64
	EventsFailed int64
	BytesSent    int64
	LastSendAt   time.Time
}

// HECSender posts events to a Splunk HTTP Event Collector.
type HECSender struct {
	config     SenderConfig
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *observability.Metrics

	sent     atomic.Int64
	failed   atomic.Int64
	bytesOut atomic.Int64
	lastSend atomic.Int64 // unix nanos
}

// NewHECSender creates a sender. The token is read from the environment
// variable named by config.TokenEnv.
func NewHECSender(config SenderConfig, logger *zap.Logger, metrics *observability.Metrics) (*HECSender, error) {
	token := os.Getenv(config.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%w: env var %q is empty", ErrMissingToken, config.TokenEnv)
	}
	if config.HECURL == "" {
		return nil, ErrMissingURL
	}

	def := DefaultSenderConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	config.RetryCount = max(config.RetryCount, 0)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HECSender{
		config: config,
		token:  token,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !config.VerifySSL},
			},
		},
		logger:  logger,
		metrics: metrics,
	}, nil
}

// riskEvent is the HEC payload of one scored host.
type riskEvent struct {
	Timeframe string `json:"timeframe"`
	risk.HostRisk
}

// ForwardRisk sends one HEC event per scored host.
func (s *HECSender) ForwardRisk(ctx context.Context, timeframe string, hosts []risk.HostRisk) error {
	now := float64(time.Now().Unix())
	events := make([]HECEvent, 0, len(hosts))
	for _, h := range hosts {
		events = append(events, HECEvent{
			Time:       now,
			Host:       h.IP,
			Source:     s.config.Source,
			SourceType: s.config.SourceType,
			Index:      s.config.Index,
			Event:      riskEvent{Timeframe: timeframe, HostRisk: h},
			Fields: map[string]any{
				"risk_score": h.Score,
				"severity":   h.Severity,
				"timeframe":  timeframe,
			},
		})
	}

	err := s.SendBatch(ctx, events)
	s.metrics.ForwardResult("splunk", err)
	return err
}

// ForwardNotable sends the notable-event feed, one HEC event per event.
func (s *HECSender) ForwardNotable(ctx context.Context, timeframe string, events []telemetry.Event) error {
	out := make([]HECEvent, 0, len(events))
	for i := range events {
		ev := &events[i]
		var ts float64
		if ev.Timestamp != nil {
			ts = float64(ev.Timestamp.Unix())
		}
		out = append(out, HECEvent{
			Time:       ts,
			Host:       ev.SourceIP,
			Source:     s.config.Source,
			SourceType: s.config.SourceType + ":notable",
			Index:      s.config.Index,
			Event:      ev,
			Fields: map[string]any{
				"event_type": string(ev.Type),
				"timeframe":  timeframe,
			},
		})
	}

	err := s.SendBatch(ctx, out)
	s.metrics.ForwardResult("splunk_notable", err)
	return err
}

// SendBatch posts events as newline-delimited JSON, BatchSize events per
// request. The first chunk that cannot be delivered stops the batch.
func (s *HECSender) SendBatch(ctx context.Context, events []HECEvent) error {
	for chunk := range slices.Chunk(events, s.config.BatchSize) {
		body := s.encode(chunk)
		if err := s.deliver(ctx, body); err != nil {
			s.failed.Add(int64(len(chunk)))
			return err
		}
		s.sent.Add(int64(len(chunk)))
		s.bytesOut.Add(int64(len(body)))
		s.lastSend.Store(time.Now().UnixNano())
	}
	return nil
}

func (s *HECSender) encode(events []HECEvent) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			s.logger.Warn("Skipping unencodable HEC event", zap.Error(err))
		}
	}
	return buf.Bytes()
}

// deliver posts body, retrying a failed attempt n after n*n RetryBackoff.
func (s *HECSender) deliver(ctx context.Context, body []byte) error {
	var err error
	for attempt := range s.config.RetryCount + 1 {
		if attempt > 0 {
			wait := time.NewTimer(time.Duration(attempt*attempt) * s.config.RetryBackoff)
			select {
			case <-ctx.Done():
				wait.Stop()
				return ctx.Err()
			case <-wait.C:
			}
		}

		if err = s.post(ctx, body); err == nil {
			return nil
		}
		s.logger.Debug("HEC post failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("HEC delivery failed after %d attempts: %w", s.config.RetryCount+1, err)
}

func (s *HECSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("event"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *HECSender) endpoint(name string) string {
	return strings.TrimSuffix(s.config.HECURL, "/") + "/services/collector/" + name
}

func (s *HECSender) do(req *http.Request) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HEC %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HEC %s returned %d: %s", req.URL.Path, resp.StatusCode, msg)
	}
	return nil
}

// Stats returns the sender's counters.
func (s *HECSender) Stats() SenderStats {
	st := SenderStats{
		EventsSent:   s.sent.Load(),
		EventsFailed: s.failed.Load(),
		BytesSent:    s.bytesOut.Load(),
	}
	if ns := s.lastSend.Load(); ns > 0 {
		st.LastSendAt = time.Unix(0, ns)
	}
	return st
}

// HealthCheck probes the collector's health endpoint.
func (s *HECSender) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("health"), nil)
	if err != nil {
		return err
	}
	return s.do(req)
}
