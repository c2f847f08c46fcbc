package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/PAFGYM/k-quant-system-sub002/internal/limits"
	"github.com/PAFGYM/k-quant-system-sub002/internal/reconciliation"
)

const EnvPrefix = "KQUANT"

// BrokerConfig tunes the paper broker
type BrokerConfig struct {
	Seed            int64   `mapstructure:"seed"`
	PriceJitter     float64 `mapstructure:"price_jitter"`
	MaxAttempts     int     `mapstructure:"max_attempts"`
	SimulateLatency bool    `mapstructure:"simulate_latency"`
}

// Config holds process settings for the trading core.
type Config struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
	Port  string `mapstructure:"port"`

	DBPath string `mapstructure:"db_path"`

	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	OperatorKey    string        `mapstructure:"operator_key"`
	OperatorSecret string        `mapstructure:"operator_secret"`

	IdempotencyWindow time.Duration `mapstructure:"idempotency_window"`
	FreshnessTimeout  time.Duration `mapstructure:"freshness_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	Limits     limits.Config             `mapstructure:"limits"`
	Thresholds reconciliation.Thresholds `mapstructure:"thresholds"`
	Broker     BrokerConfig              `mapstructure:"broker"`
}

// Production reports whether the process runs in production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must be set"))
	}
	if c.IdempotencyWindow <= 0 {
		errs = append(errs, fmt.Errorf("idempotency_window must be positive (got %s)", c.IdempotencyWindow))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconcile_interval must be positive (got %s)", c.ReconcileInterval))
	}
	if c.Production() && c.JWTSecret == defaultJWTSecret {
		errs = append(errs, errors.New("jwt_secret must be changed in production"))
	}
	return errors.Join(errs...)
}

const defaultJWTSecret = "kquant-dev-secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("debug", false)
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "kquant.db")
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("token_ttl", 12*time.Hour)
	v.SetDefault("operator_key", "operator")
	v.SetDefault("operator_secret", "operator-secret")
	v.SetDefault("idempotency_window", 300*time.Second)
	v.SetDefault("freshness_timeout", 2*time.Second)
	v.SetDefault("reconcile_interval", 5*time.Minute)

	def := limits.DefaultConfig()
	v.SetDefault("limits.max_order_pct", def.MaxOrderPct)
	v.SetDefault("limits.max_daily_orders", def.MaxDailyOrders)
	v.SetDefault("limits.daily_loss_limit_pct", def.DailyLossLimitPct)

	th := reconciliation.DefaultThresholds()
	v.SetDefault("thresholds.caution", th.Caution)
	v.SetDefault("thresholds.safe", th.Safe)
	v.SetDefault("thresholds.lockdown", th.Lockdown)
	v.SetDefault("thresholds.critical_qty_ratio", th.CriticalQtyRatio)
	v.SetDefault("thresholds.price_diff_pct", th.PriceDiffPct)
	v.SetDefault("thresholds.value_diff_pct", th.ValueDiffPct)

	v.SetDefault("broker.seed", 0)
	v.SetDefault("broker.price_jitter", 0.002)
	v.SetDefault("broker.max_attempts", 3)
	v.SetDefault("broker.simulate_latency", true)
}

// Load reads .env (if present), an optional config file and KQUANT_* environment.
// Nested keys map to env with underscores, e.g. KQUANT_LIMITS_MAX_DAILY_ORDERS.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the bare ENV/DEBUG/PORT names are honoured too
	_ = v.BindEnv("env", EnvPrefix+"_ENV", "ENV")
	_ = v.BindEnv("debug", EnvPrefix+"_DEBUG", "DEBUG")
	_ = v.BindEnv("port", EnvPrefix+"_PORT", "PORT")

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
