package core

import (
	"context"

	"gorm.io/gorm"

	"github.com/PAFGYM/k-quant-system-sub002/internal/config"
	"github.com/PAFGYM/k-quant-system-sub002/internal/events"
	"github.com/PAFGYM/k-quant-system-sub002/internal/exchange"
	"github.com/PAFGYM/k-quant-system-sub002/internal/execution"
	"github.com/PAFGYM/k-quant-system-sub002/internal/idempotency"
	"github.com/PAFGYM/k-quant-system-sub002/internal/limits"
	"github.com/PAFGYM/k-quant-system-sub002/internal/orders"
	"github.com/PAFGYM/k-quant-system-sub002/internal/reconciliation"
	"github.com/PAFGYM/k-quant-system-sub002/internal/safety"
)

// Core is the assembled trading safety aggregate shared by the server and the
// simulation.
type Core struct {
	Bus        *events.Bus
	Guard      *idempotency.Guard
	Safety     *safety.Manager
	Limits     *limits.Limits
	Validator  *orders.Validator
	Ledger     *orders.Ledger
	Broker     *exchange.PaperBroker
	Executor   *execution.Executor
	Reconciler *reconciliation.Reconciler
	Processor  *reconciliation.Processor
	// Reports is nil when the core runs without a database.
	Reports *reconciliation.Database
}

// New wires every component from cfg. db may be nil for a memory-only core.
func New(cfg *config.Config, db *gorm.DB) *Core {
	bus := events.NewBus()
	guard := idempotency.NewGuard(cfg.IdempotencyWindow)
	mgr := safety.NewManager(safety.NewKillSwitch(bus), bus)
	lim := limits.New(cfg.Limits)

	validator := orders.NewValidator(guard,
		orders.WithKillSwitch(mgr.KillSwitch()),
		orders.WithSafetyGate(mgr),
		orders.WithSafetyLimits(lim),
		orders.WithFreshnessTimeout(cfg.FreshnessTimeout),
	)

	ledgerOpts := []orders.LedgerOption{orders.WithEventBus(bus)}
	var reports *reconciliation.Database
	if db != nil {
		ledgerOpts = append(ledgerOpts, orders.WithStore(orders.NewDatabase(db)))
		reports = reconciliation.NewDatabase(db)
	}
	ledger := orders.NewLedger(validator, ledgerOpts...)

	broker := exchange.NewPaperBroker(exchange.Config{
		Seed:            cfg.Broker.Seed,
		PriceJitter:     cfg.Broker.PriceJitter,
		MaxAttempts:     cfg.Broker.MaxAttempts,
		SimulateLatency: cfg.Broker.SimulateLatency,
	})

	rec := reconciliation.NewReconciler(mgr, cfg.Thresholds)
	procOpts := []reconciliation.ProcessorOption{
		reconciliation.WithEventBus(bus),
		reconciliation.WithInterval(cfg.ReconcileInterval),
	}
	if reports != nil {
		procOpts = append(procOpts, reconciliation.WithStore(reports))
	}

	return &Core{
		Bus:        bus,
		Guard:      guard,
		Safety:     mgr,
		Limits:     lim,
		Validator:  validator,
		Ledger:     ledger,
		Broker:     broker,
		Executor:   execution.NewExecutor(ledger, broker),
		Reconciler: rec,
		Processor:  reconciliation.NewProcessor(rec, LedgerHoldings(ledger), broker, procOpts...),
		Reports:    reports,
	}
}

// LedgerHoldings exposes the ledger's filled positions as the internal side of
// reconciliation.
func LedgerHoldings(ledger *orders.Ledger) reconciliation.Source {
	return reconciliation.SourceFunc(func(ctx context.Context) ([]reconciliation.Holding, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		positions := ledger.Positions()
		out := make([]reconciliation.Holding, 0, len(positions))
		for _, p := range positions {
			out = append(out, reconciliation.Holding{
				Ticker:   p.Ticker,
				Name:     p.Name,
				Quantity: p.Quantity,
				AvgPrice: p.AvgPrice,
			})
		}
		return out, nil
	})
}
