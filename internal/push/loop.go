package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/analytics"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/repository"
	"github.com/lvonguyen/threatpulse/internal/risk"
	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// DefaultSubjectPrefix is prepended to the timeframe label.
const DefaultSubjectPrefix = "threatpulse.summary"

// Runner performs one uncached analytics pass.
type Runner interface {
	Run(ctx context.Context, timeframe string) analytics.Report
	Status(ctx context.Context) analytics.ConnectionStatus
}

// Forwarder ships scored hosts and notable events to an external sink.
type Forwarder interface {
	ForwardRisk(ctx context.Context, timeframe string, hosts []risk.HostRisk) error
	ForwardNotable(ctx context.Context, timeframe string, events []telemetry.Event) error
}

// LoopConfig controls the push schedule.
type LoopConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Timeframes    []string      `yaml:"timeframes"`
	SubjectPrefix string        `yaml:"subject_prefix"`
}

// DefaultLoopConfig pushes the "today" window every minute.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval:      time.Minute,
		Timeframes:    []string{"today"},
		SubjectPrefix: DefaultSubjectPrefix,
	}
}

// Loop summarizes each configured timeframe on a ticker and publishes the
// result. Mirror and Forwarder are optional.
type Loop struct {
	runner    Runner
	publisher Publisher
	config    LoopConfig
	mirror    repository.EventSink
	forwarder Forwarder
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// LoopOption configures optional loop sinks.
type LoopOption func(*Loop)

// WithMirror writes every pass's events to sink.
func WithMirror(sink repository.EventSink) LoopOption {
	return func(l *Loop) { l.mirror = sink }
}

// WithForwarder sends every pass's risk results to f.
func WithForwarder(f Forwarder) LoopOption {
	return func(l *Loop) { l.forwarder = f }
}

// WithMetrics records publish and mirror results.
func WithMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop creates a push loop. A nil publisher only feeds the sinks.
func NewLoop(runner Runner, publisher Publisher, cfg LoopConfig, logger *zap.Logger, opts ...LoopOption) *Loop {
	def := DefaultLoopConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = def.Timeframes
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{runner: runner, publisher: publisher, config: cfg, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subject returns the subject a timeframe is published on.
func (l *Loop) Subject(timeframe string) string {
	return l.config.SubjectPrefix + "." + timeframe
}

// Run pushes immediately and then on every tick until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("Starting push loop",
		zap.Duration("interval", l.config.Interval),
		zap.Strings("timeframes", l.config.Timeframes),
	)

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		if err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn("Push pass completed with errors", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			l.logger.Info("Push loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Start runs the loop in its own goroutine. The returned stop cancels it and
// blocks until any in-flight pass has returned, so sinks can be closed after.
func (l *Loop) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// RunOnce performs one pass over every timeframe. A failure on one timeframe
// or sink does not stop the others; all errors are joined.
func (l *Loop) RunOnce(ctx context.Context) error {
	var errs []error
	for _, tf := range l.config.Timeframes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.push(ctx, tf); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tf, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Loop) push(ctx context.Context, timeframe string) error {
	report := l.runner.Run(ctx, timeframe)
	var errs []error

	if l.publisher != nil {
		resp := analytics.NewSummaryResponse(l.runner.Status(ctx), report.Summary)
		data, err := json.Marshal(resp)
		if err == nil {
			err = l.publisher.Publish(ctx, l.Subject(timeframe), data)
		}
		l.metrics.PushResult(timeframe, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		} else {
			l.logger.Debug("Published summary",
				zap.String("subject", l.Subject(timeframe)),
				zap.Int("count", report.Summary.Count),
			)
		}
	}

	if l.mirror != nil {
		n, err := l.mirror.SaveEvents(ctx, timeframe, report.Events)
		l.metrics.MirrorResult(n, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("mirror: %w", err))
		}
	}

	if l.forwarder != nil {
		if err := l.forwarder.ForwardRisk(ctx, timeframe, report.Summary.Hosts); err != nil {
			errs = append(errs, fmt.Errorf("forward risk: %w", err))
		}
		if err := l.forwarder.ForwardNotable(ctx, timeframe, report.Summary.Notable); err != nil {
			errs = append(errs, fmt.Errorf("forward notable: %w", err))
		}
	}

	return errors.Join(errs...)
}
