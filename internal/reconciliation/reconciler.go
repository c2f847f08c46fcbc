package reconciliation

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PAFGYM/k-quant-system-sub002/internal/safety"
)

// Kind classifies a discrepancy
type Kind string

const (
	KindQuantityDiff    Kind = "quantity_diff"
	KindPositionMissing Kind = "position_missing"
	KindPhantomPosition Kind = "phantom_position"
	KindPriceDiff       Kind = "price_diff"
	KindValueDiff       Kind = "value_diff"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Status is the overall outcome of a pass
type Status string

const (
	StatusOK       Status = "ok"
	StatusMismatch Status = "mismatch"
	StatusError    Status = "error"
)

// Holding is one position as reported by either side
type Holding struct {
	Ticker     string  `json:"ticker"`
	Name       string  `json:"name"`
	Quantity   int64   `json:"quantity"`
	AvgPrice   float64 `json:"avg_price"`
	EvalAmount float64 `json:"eval_amount"`
}

// Mismatch is one discrepancy between internal and broker holdings.
// Diff is always internal minus broker.
type Mismatch struct {
	Kind          Kind           `json:"kind"`
	Severity      Severity       `json:"severity"`
	Ticker        string         `json:"ticker"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	InternalValue float64        `json:"internal_value"`
	BrokerValue   float64        `json:"broker_value"`
	Diff          float64        `json:"diff"`
	Details       map[string]any `json:"details,omitempty"`
}

// Report is the output of one reconciliation pass
type Report struct {
	ReportID          string         `json:"report_id"`
	Timestamp         time.Time      `json:"timestamp"`
	Status            Status         `json:"status"`
	Mismatches        []Mismatch     `json:"mismatches"`
	InternalPositions int            `json:"internal_positions"`
	BrokerPositions   int            `json:"broker_positions"`
	MatchedPositions  int            `json:"matched_positions"`
	LevelBefore       safety.Level   `json:"safety_level_before"`
	LevelAfter        safety.Level   `json:"safety_level_after"`
	Error             string         `json:"error,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
}

func (r *Report) MismatchCount() int {
	return len(r.Mismatches)
}

// HasCritical reports whether any mismatch is critical.
func (r *Report) HasCritical() bool {
	for _, m := range r.Mismatches {
		if m.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Mismatches = make([]Mismatch, len(r.Mismatches))
	copy(c.Mismatches, r.Mismatches)
	if r.Details != nil {
		c.Details = make(map[string]any, len(r.Details))
		for k, v := range r.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// Thresholds tune classification and escalation
type Thresholds struct {
	Caution  int `mapstructure:"caution" json:"caution"`
	Safe     int `mapstructure:"safe" json:"safe"`
	Lockdown int `mapstructure:"lockdown" json:"lockdown"`
	// CriticalQtyRatio: a quantity diff above ratio*max(internal, broker, 1) is critical.
	CriticalQtyRatio float64 `mapstructure:"critical_qty_ratio" json:"critical_qty_ratio"`
	PriceDiffPct     float64 `mapstructure:"price_diff_pct" json:"price_diff_pct"`
	ValueDiffPct     float64 `mapstructure:"value_diff_pct" json:"value_diff_pct"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Caution:          1,
		Safe:             3,
		Lockdown:         5,
		CriticalQtyRatio: 0.5,
		PriceDiffPct:     0.05,
		ValueDiffPct:     0.10,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.Caution <= 0 {
		t.Caution = def.Caution
	}
	if t.Safe <= 0 {
		t.Safe = def.Safe
	}
	if t.Lockdown <= 0 {
		t.Lockdown = def.Lockdown
	}
	if t.CriticalQtyRatio <= 0 {
		t.CriticalQtyRatio = def.CriticalQtyRatio
	}
	if t.PriceDiffPct <= 0 {
		t.PriceDiffPct = def.PriceDiffPct
	}
	if t.ValueDiffPct <= 0 {
		t.ValueDiffPct = def.ValueDiffPct
	}
	return t
}

// Reconciler compares holdings and drives the safety level from the result.
type Reconciler struct {
	mu         sync.Mutex
	safety     *safety.Manager
	thresholds Thresholds
	last       *Report
	now        func() time.Time
}

// NewReconciler creates a reconciler. A standalone safety manager is created when mgr is nil.
func NewReconciler(mgr *safety.Manager, thresholds Thresholds) *Reconciler {
	if mgr == nil {
		mgr = safety.NewManager(nil, nil)
	}
	return &Reconciler{
		safety:     mgr,
		thresholds: thresholds.withDefaults(),
		now:        time.Now,
	}
}

func (r *Reconciler) Safety() *safety.Manager {
	return r.safety
}

func (r *Reconciler) Thresholds() Thresholds {
	return r.thresholds
}

// Reconcile compares the two snapshots, records the report and adjusts the safety level.
// Holdings without a ticker are ignored; a repeated ticker keeps its last entry.
func (r *Reconciler) Reconcile(internal, broker []Holding) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	internalMap := index(internal)
	brokerMap := index(broker)

	report := &Report{
		ReportID:          "REC_" + uuid.New().String(),
		Timestamp:         r.now(),
		Mismatches:        []Mismatch{},
		InternalPositions: len(internalMap),
		BrokerPositions:   len(brokerMap),
		LevelBefore:       r.safety.Level(),
	}

	for _, ticker := range unionTickers(internalMap, brokerMap) {
		i, inInternal := internalMap[ticker]
		b, inBroker := brokerMap[ticker]

		switch {
		case inInternal && !inBroker:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:          KindPositionMissing,
				Severity:      SeverityHigh,
				Ticker:        ticker,
				Name:          displayName(i, b),
				Description:   fmt.Sprintf("%s: %d shares recorded internally, none at broker", displayName(i, b), i.Quantity),
				InternalValue: float64(i.Quantity),
				BrokerValue:   0,
				Diff:          float64(i.Quantity),
			})
		case inBroker && !inInternal:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:          KindPhantomPosition,
				Severity:      SeverityCritical,
				Ticker:        ticker,
				Name:          displayName(i, b),
				Description:   fmt.Sprintf("%s: %d shares held at broker, unknown internally", displayName(i, b), b.Quantity),
				InternalValue: 0,
				BrokerValue:   float64(b.Quantity),
				Diff:          -float64(b.Quantity),
			})
		default:
			mismatches, matched := r.compare(ticker, i, b)
			report.Mismatches = append(report.Mismatches, mismatches...)
			if matched {
				report.MatchedPositions++
			}
		}
	}

	report.Status = StatusOK
	if len(report.Mismatches) > 0 {
		report.Status = StatusMismatch
	}

	r.adjustSafety(report)
	report.LevelAfter = r.safety.Level()
	r.last = report

	log.Info().
		Str("component", "reconciler").
		Str("report_id", report.ReportID).
		Int("internal", report.InternalPositions).
		Int("broker", report.BrokerPositions).
		Int("matched", report.MatchedPositions).
		Int("mismatches", report.MismatchCount()).
		Str("level", report.LevelAfter.String()).
		Msg("reconciliation complete")

	return report.Clone()
}

func (r *Reconciler) compare(ticker string, i, b Holding) ([]Mismatch, bool) {
	var out []Mismatch
	name := displayName(i, b)
	matched := i.Quantity == b.Quantity

	if !matched {
		diff := i.Quantity - b.Quantity
		larger := math.Max(math.Max(float64(i.Quantity), float64(b.Quantity)), 1)
		severity := SeverityHigh
		if math.Abs(float64(diff)) > larger*r.thresholds.CriticalQtyRatio {
			severity = SeverityCritical
		}
		out = append(out, Mismatch{
			Kind:          KindQuantityDiff,
			Severity:      severity,
			Ticker:        ticker,
			Name:          name,
			Description:   fmt.Sprintf("%s quantity: internal %d vs broker %d", name, i.Quantity, b.Quantity),
			InternalValue: float64(i.Quantity),
			BrokerValue:   float64(b.Quantity),
			Diff:          float64(diff),
		})
	}

	if i.AvgPrice > 0 && b.AvgPrice > 0 {
		pct := math.Abs(i.AvgPrice-b.AvgPrice) / b.AvgPrice
		if pct > r.thresholds.PriceDiffPct {
			out = append(out, Mismatch{
				Kind:          KindPriceDiff,
				Severity:      SeverityMedium,
				Ticker:        ticker,
				Name:          name,
				Description:   fmt.Sprintf("%s average price: internal %.0f vs broker %.0f (%.1f%% apart)", name, i.AvgPrice, b.AvgPrice, pct*100),
				InternalValue: i.AvgPrice,
				BrokerValue:   b.AvgPrice,
				Diff:          i.AvgPrice - b.AvgPrice,
				Details:       map[string]any{"diff_pct": pct},
			})
		}
	}

	// Valuation only means something once quantities agree.
	if matched && i.EvalAmount > 0 && b.EvalAmount > 0 {
		pct := math.Abs(i.EvalAmount-b.EvalAmount) / b.EvalAmount
		if pct > r.thresholds.ValueDiffPct {
			out = append(out, Mismatch{
				Kind:          KindValueDiff,
				Severity:      SeverityLow,
				Ticker:        ticker,
				Name:          name,
				Description:   fmt.Sprintf("%s evaluation: internal %.0f vs broker %.0f (%.1f%% apart)", name, i.EvalAmount, b.EvalAmount, pct*100),
				InternalValue: i.EvalAmount,
				BrokerValue:   b.EvalAmount,
				Diff:          i.EvalAmount - b.EvalAmount,
				Details:       map[string]any{"diff_pct": pct},
			})
		}
	}

	return out, matched
}

// adjustSafety maps the report onto a level. Called with r.mu held.
func (r *Reconciler) adjustSafety(report *Report) {
	n := report.MismatchCount()
	th := r.thresholds

	switch {
	case report.HasCritical():
		r.setLevel(safety.LevelLockdown, fmt.Sprintf("reconciliation found critical mismatch (%d total)", n))
	case n >= th.Lockdown:
		r.setLevel(safety.LevelLockdown, fmt.Sprintf("reconciliation found %d mismatches (threshold %d)", n, th.Lockdown))
	case n >= th.Safe:
		r.setLevel(safety.LevelSafe, fmt.Sprintf("reconciliation found %d mismatches", n))
	case n >= th.Caution:
		r.setLevel(safety.LevelCaution, fmt.Sprintf("reconciliation found %d mismatches", n))
	case n == 0 && r.safety.Level() > safety.LevelNormal:
		r.setLevel(safety.LevelNormal, "reconciliation clean, no mismatches")
	}
}

func (r *Reconciler) setLevel(level safety.Level, reason string) {
	if err := r.safety.SetLevel(level, reason); err != nil {
		log.Error().Str("component", "reconciler").Err(err).Msg("failed to adjust safety level")
	}
}

// RecordError stores an error report for a pass whose snapshots could not be fetched.
// The safety level is left unchanged.
func (r *Reconciler) RecordError(err error) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	level := r.safety.Level()
	report := &Report{
		ReportID:    "REC_" + uuid.New().String(),
		Timestamp:   r.now(),
		Status:      StatusError,
		Mismatches:  []Mismatch{},
		LevelBefore: level,
		LevelAfter:  level,
		Error:       err.Error(),
	}
	r.last = report

	log.Error().
		Str("component", "reconciler").
		Str("report_id", report.ReportID).
		Err(err).
		Msg("reconciliation failed")

	return report.Clone()
}

// LastReport returns a copy of the most recent report, or nil before the first pass.
func (r *Reconciler) LastReport() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Clone()
}

func index(holdings []Holding) map[string]Holding {
	m := make(map[string]Holding, len(holdings))
	for _, h := range holdings {
		if h.Ticker == "" {
			continue
		}
		m[h.Ticker] = h
	}
	return m
}

func unionTickers(a, b map[string]Holding) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for t := range a {
		seen[t] = struct{}{}
	}
	for t := range b {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func displayName(i, b Holding) string {
	if i.Name != "" {
		return i.Name
	}
	if b.Name != "" {
		return b.Name
	}
	if i.Ticker != "" {
		return i.Ticker
	}
	return b.Ticker
}
