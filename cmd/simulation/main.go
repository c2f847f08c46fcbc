package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PAFGYM/k-quant-system-sub002/internal/config"
	"github.com/PAFGYM/k-quant-system-sub002/internal/core"
	"github.com/PAFGYM/k-quant-system-sub002/internal/database"
	"github.com/PAFGYM/k-quant-system-sub002/internal/orders"
	"github.com/PAFGYM/k-quant-system-sub002/internal/reconciliation"
)

type instrument struct {
	ticker string
	name   string
	price  float64
}

var universe = []instrument{
	{"005930", "Samsung Electronics", 75000},
	{"000660", "SK Hynix", 180000},
	{"035420", "NAVER", 210000},
	{"035720", "Kakao", 45000},
	{"051910", "LG Chem", 380000},
}

type options struct {
	configPath     string
	dbPath         string
	orders         int
	workers        int
	seed           int64
	portfolio      float64
	maxDailyOrders int
	phantom        bool
	latency        bool
}

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "simulation",
		Short: "Drive concurrent trade intents through the safety core and a paper broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to a config file")
	f.StringVar(&opts.dbPath, "db", "", "sqlite path; empty keeps everything in memory")
	f.IntVar(&opts.orders, "orders", 100, "number of trade intents to submit")
	f.IntVar(&opts.workers, "workers", 5, "concurrent submitting workers")
	f.Int64Var(&opts.seed, "seed", 0, "random seed; 0 uses the clock")
	f.Float64Var(&opts.portfolio, "portfolio", 500_000_000, "total portfolio value used for per-order limits")
	f.IntVar(&opts.maxDailyOrders, "max-daily-orders", 1000, "daily placed-order allowance")
	f.BoolVar(&opts.phantom, "phantom", false, "inject an unknown broker holding before the final reconciliation")
	f.BoolVar(&opts.latency, "latency", false, "simulate venue latency")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Simulation failed")
	}
}

func run(ctx context.Context, opts options) error {
	if opts.workers <= 0 || opts.orders <= 0 {
		return fmt.Errorf("orders and workers must be positive")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}
	cfg.Broker.Seed = opts.seed
	cfg.Broker.SimulateLatency = opts.latency
	cfg.Limits.MaxDailyOrders = opts.maxDailyOrders

	var c *core.Core
	if opts.dbPath != "" {
		db, err := database.NewDatabase(opts.dbPath)
		if err != nil {
			return err
		}
		c = core.New(cfg, db)
	} else {
		c = core.New(cfg, nil)
	}

	log.Info().
		Int("orders", opts.orders).
		Int("workers", opts.workers).
		Int64("seed", opts.seed).
		Msg("Starting simulation")

	createStats := &stageStats{name: "Create Order"}
	executeStats := &stageStats{name: "Execute Order"}
	reconStats := &stageStats{name: "Reconcile"}

	started := time.Now()
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.seed + int64(workerID)))
			for range jobs {
				submit(ctx, c, rng, opts.portfolio, createStats, executeStats)
			}
		}(w)
	}

	// reconcile alongside the workers
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t := time.Now()
				r := c.Processor.RunOnce(ctx)
				reconStats.record(time.Since(t), r.Status == reconciliation.StatusError)
			}
		}
	}()

	for i := 0; i < opts.orders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(done)

	if opts.phantom {
		c.Broker.Inject(reconciliation.Holding{Ticker: "999999", Name: "Unknown", Quantity: 10, AvgPrice: 1000})
	}
	final := c.Processor.RunOnce(ctx)

	stats := c.Ledger.Stats()
	fmt.Println("\nSimulation Summary")
	fmt.Printf("Duration:            %s\n", time.Since(started).Round(time.Millisecond))
	fmt.Printf("Orders:              %d\n", stats.TotalOrders)
	for _, s := range orders.AllStates {
		if n := stats.ByState[s]; n > 0 {
			fmt.Printf("  %-18s %d\n", s, n)
		}
	}
	fmt.Printf("Safety level:        %s\n", c.Safety.Level())
	fmt.Printf("Kill switch:         %v\n", c.Safety.KillSwitch().IsActive())
	fmt.Printf("Final reconciliation: %s (%d mismatches)\n", final.Status, final.MismatchCount())
	for _, m := range final.Mismatches {
		fmt.Printf("  [%s] %s %s\n", m.Severity, m.Kind, m.Description)
	}
	fmt.Println()
	printStats(os.Stdout, createStats, executeStats, reconStats)
	return nil
}

// submit sends one random intent and executes it if admitted. Roughly one in ten
// intents is resubmitted immediately to exercise the duplicate guard.
func submit(ctx context.Context, c *core.Core, rng *rand.Rand, portfolio float64, createStats, executeStats *stageStats) {
	inst := universe[rng.Intn(len(universe))]
	side := orders.SideBuy
	if rng.Intn(3) == 0 {
		side = orders.SideSell
	}
	req := orders.OrderRequest{
		Ticker:              inst.ticker,
		Name:                inst.name,
		Side:                side,
		Quantity:            int64(rng.Intn(20) + 1),
		Price:               inst.price,
		TotalPortfolioValue: portfolio,
	}

	attempts := 1
	if rng.Intn(10) == 0 {
		attempts = 2
	}
	for i := 0; i < attempts; i++ {
		start := time.Now()
		order, msg := c.Ledger.CreateOrder(ctx, req)
		createStats.record(time.Since(start), false)
		if order.State != orders.StateValidated {
			log.Debug().Str("order_id", order.OrderID).Str("reason", msg).Msg("intent blocked")
			continue
		}

		start = time.Now()
		executed, err := c.Executor.Execute(ctx, order.OrderID)
		executeStats.record(time.Since(start), err != nil)
		if err != nil {
			log.Error().Err(err).Str("order_id", order.OrderID).Msg("Failed to execute order")
			continue
		}
		log.Debug().
			Str("order_id", executed.OrderID).
			Str("state", string(executed.State)).
			Int64("filled_quantity", executed.FilledQuantity).
			Msg("order executed")
	}
}
