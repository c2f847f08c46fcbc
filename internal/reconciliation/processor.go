package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PAFGYM/k-quant-system-sub002/internal/events"
)

// DefaultInterval is the time between scheduled reconciliation passes.
const DefaultInterval = 5 * time.Minute

// Source supplies one side of the comparison
type Source interface {
	Holdings(ctx context.Context) ([]Holding, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) ([]Holding, error)

func (f SourceFunc) Holdings(ctx context.Context) ([]Holding, error) {
	return f(ctx)
}

// Store persists reports for audit
type Store interface {
	SaveReport(ctx context.Context, report *Report) error
}

// Processor runs reconciliation passes on a schedule and on demand.
type Processor struct {
	reconciler *Reconciler
	internal   Source
	broker     Source
	store      Store
	bus        *events.Bus
	interval   time.Duration
	runMu      sync.Mutex
	logger     zerolog.Logger
}

type ProcessorOption func(*Processor)

func WithStore(s Store) ProcessorOption {
	return func(p *Processor) { p.store = s }
}

func WithEventBus(b *events.Bus) ProcessorOption {
	return func(p *Processor) { p.bus = b }
}

func WithInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewProcessor(rec *Reconciler, internal, broker Source, opts ...ProcessorOption) *Processor {
	p := &Processor{
		reconciler: rec,
		internal:   internal,
		broker:     broker,
		interval:   DefaultInterval,
		logger:     log.With().Str("component", "reconciliation_processor").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs a pass immediately and then every interval until ctx is done.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("starting reconciliation processor")

	p.RunOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("shutting down reconciliation processor")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce fetches both snapshots and reconciles them. A failed fetch produces an error
// report and leaves the safety level alone.
func (p *Processor) RunOnce(ctx context.Context) *Report {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	report := p.run(ctx)

	if p.store != nil {
		if err := p.store.SaveReport(ctx, report); err != nil {
			p.logger.Error().Err(err).Str("report_id", report.ReportID).Msg("failed to persist report")
		}
	}

	switch report.Status {
	case StatusOK:
		p.bus.Publish(events.EventReconciliationOK, report)
	case StatusMismatch:
		p.logger.Warn().
			Str("report_id", report.ReportID).
			Int("mismatches", report.MismatchCount()).
			Bool("critical", report.HasCritical()).
			Str("level", report.LevelAfter.String()).
			Msg("position mismatch detected")
		p.bus.Publish(events.EventReconciliationMismatch, report)
	case StatusError:
		p.bus.Publish(events.EventReconciliationError, report)
	}
	return report
}

func (p *Processor) run(ctx context.Context) *Report {
	internal, err := p.internal.Holdings(ctx)
	if err != nil {
		return p.reconciler.RecordError(fmt.Errorf("fetch internal holdings: %w", err))
	}
	broker, err := p.broker.Holdings(ctx)
	if err != nil {
		return p.reconciler.RecordError(fmt.Errorf("fetch broker holdings: %w", err))
	}
	return p.reconciler.Reconcile(internal, broker)
}
