package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"market-agent-go/infrastructure/logger"
)

// SessionConfig holds the full runtime configuration. It is read once at
// session start and treated as immutable by the core components.
type SessionConfig struct {
	Env         string                      `yaml:"env"`
	Exchange    ExchangeConfig              `yaml:"exchange"`
	Session     SessionParams               `yaml:"session"`
	Aggregate   AggregateRisk               `yaml:"aggregate"`
	Logger      logger.Config               `yaml:"logger"`
	MetricsAddr string                      `yaml:"metricsAddr"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
}

// ExchangeConfig describes the simulator endpoints and credentials.
type ExchangeConfig struct {
	BaseURL    string  `yaml:"baseURL"`
	WSEndpoint string  `yaml:"wsEndpoint"`
	APIKey     string  `yaml:"apiKey"`
	RestRate   float64 `yaml:"restRate"`  // REST tokens per second
	RestBurst  int     `yaml:"restBurst"` // REST token bucket size
}

// SessionParams govern the tick cadence shared by all instruments.
type SessionParams struct {
	TickIntervalMs   int `yaml:"tickIntervalMs"`   // quote refresh cadence
	FeedTimeoutMs    int `yaml:"feedTimeoutMs"`    // market data older than this is not-ready
	OrdersPerSecond  int `yaml:"ordersPerSecond"`  // order-entry budget, 0 = unlimited
	EventQueueLength int `yaml:"eventQueueLength"` // boundary event buffer
}

// AggregateRisk caps notional exposure summed across all instruments.
// Zero values disable the corresponding cap.
type AggregateRisk struct {
	GrossLimit float64 `yaml:"grossLimit"`
	NetLimit   float64 `yaml:"netLimit"`
}

// InstrumentConfig holds the per-instrument limits and strategy parameters.
type InstrumentConfig struct {
	TickSize      float64 `yaml:"tickSize"`
	MinOrderSize  float64 `yaml:"minOrderSize"`
	MaxOrderSize  float64 `yaml:"maxOrderSize"`
	PositionLimit float64 `yaml:"positionLimit"`
	ElevatedFrac  float64 `yaml:"elevatedFrac"` // exposure fraction where skewing starts

	Signal  SignalParams  `yaml:"signal"`
	Quoting QuotingParams `yaml:"quoting"`
	Refresh RefreshParams `yaml:"refresh"`
}

// SignalParams configure the rolling statistics window.
type SignalParams struct {
	WindowSize int     `yaml:"windowSize"`
	MinPoints  int     `yaml:"minPoints"`
	ZThreshold float64 `yaml:"zThreshold"`
}

// QuotingParams configure spread construction.
type QuotingParams struct {
	BaseHalfSpread float64 `yaml:"baseHalfSpread"` // absolute price units
	VolFactor      float64 `yaml:"volFactor"`      // stddev -> extra half spread
	SkewFactor     float64 `yaml:"skewFactor"`     // inventory skew strength, 0..1
	ZBiasCap       float64 `yaml:"zBiasCap"`       // |z| beyond this adds no bias
	BiasFraction   float64 `yaml:"biasFraction"`   // max bias as fraction of half spread
	BaseSize       float64 `yaml:"baseSize"`
}

// RefreshParams configure order reconciliation.
type RefreshParams struct {
	ToleranceTicks float64 `yaml:"toleranceTicks"` // reprice when deviation exceeds this
	StalenessMs    int     `yaml:"stalenessMs"`    // force refresh after this age
}

// TickInterval returns the tick cadence as a duration, defaulting to 250ms.
func (p SessionParams) TickInterval() time.Duration {
	if p.TickIntervalMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(p.TickIntervalMs) * time.Millisecond
}

// FeedTimeout returns the feed staleness cutoff, defaulting to 5s.
func (p SessionParams) FeedTimeout() time.Duration {
	if p.FeedTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.FeedTimeoutMs) * time.Millisecond
}

// Staleness returns the resting-order staleness threshold.
func (p RefreshParams) Staleness() time.Duration {
	return time.Duration(p.StalenessMs) * time.Millisecond
}

// Load reads YAML config from path and applies validation.
func Load(path string) (SessionConfig, error) {
	var cfg SessionConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides credentials from env vars if present.
func LoadWithEnvOverrides(path string) (SessionConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("AGENT_EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("AGENT_EXCHANGE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *SessionConfig) {
	if cfg.Logger.Level == "" {
		cfg.Logger = logger.DefaultConfig()
	}
	if cfg.Session.EventQueueLength <= 0 {
		cfg.Session.EventQueueLength = 4096
	}
	if cfg.Exchange.RestRate <= 0 {
		cfg.Exchange.RestRate = 10
	}
	if cfg.Exchange.RestBurst <= 0 {
		cfg.Exchange.RestBurst = 20
	}
	for id, ic := range cfg.Instruments {
		if ic.ElevatedFrac <= 0 {
			ic.ElevatedFrac = 0.75
		}
		if ic.Signal.MinPoints <= 0 {
			ic.Signal.MinPoints = 2
		}
		if ic.Quoting.ZBiasCap <= 0 {
			ic.Quoting.ZBiasCap = 3
		}
		if ic.Refresh.ToleranceTicks <= 0 {
			ic.Refresh.ToleranceTicks = 1
		}
		cfg.Instruments[id] = ic
	}
}

// Validate ensures required fields are present and coherent.
func Validate(cfg SessionConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Exchange.BaseURL == "" {
		return errors.New("exchange.baseURL is required")
	}
	if cfg.Exchange.APIKey == "" {
		return errors.New("exchange.apiKey is required (or AGENT_EXCHANGE_API_KEY)")
	}
	if len(cfg.Instruments) == 0 {
		return errors.New("instruments config is required")
	}
	if cfg.Aggregate.GrossLimit < 0 || cfg.Aggregate.NetLimit < 0 {
		return errors.New("aggregate limits must be >= 0")
	}
	for id, ic := range cfg.Instruments {
		if ic.TickSize <= 0 {
			return fmt.Errorf("instrument %s tickSize must be > 0", id)
		}
		if ic.MinOrderSize < 0 || ic.MaxOrderSize < 0 {
			return fmt.Errorf("instrument %s order size bounds must be >= 0", id)
		}
		if ic.MaxOrderSize > 0 && ic.MinOrderSize > ic.MaxOrderSize {
			return fmt.Errorf("instrument %s minOrderSize exceeds maxOrderSize", id)
		}
		if ic.PositionLimit <= 0 {
			return fmt.Errorf("instrument %s positionLimit must be > 0", id)
		}
		if ic.ElevatedFrac <= 0 || ic.ElevatedFrac >= 1 {
			return fmt.Errorf("instrument %s elevatedFrac must be in (0,1)", id)
		}
		if ic.Signal.WindowSize < 2 {
			return fmt.Errorf("instrument %s signal.windowSize must be >= 2", id)
		}
		if ic.Signal.MinPoints < 2 || ic.Signal.MinPoints > ic.Signal.WindowSize {
			return fmt.Errorf("instrument %s signal.minPoints must be in [2, windowSize]", id)
		}
		if ic.Signal.ZThreshold <= 0 {
			return fmt.Errorf("instrument %s signal.zThreshold must be > 0", id)
		}
		if ic.Quoting.BaseHalfSpread < ic.TickSize {
			return fmt.Errorf("instrument %s quoting.baseHalfSpread must be >= tickSize", id)
		}
		if ic.Quoting.VolFactor < 0 {
			return fmt.Errorf("instrument %s quoting.volFactor must be >= 0", id)
		}
		if ic.Quoting.SkewFactor < 0 || ic.Quoting.SkewFactor > 1 {
			return fmt.Errorf("instrument %s quoting.skewFactor must be in [0,1]", id)
		}
		if ic.Quoting.BiasFraction < 0 || ic.Quoting.BiasFraction > 1 {
			return fmt.Errorf("instrument %s quoting.biasFraction must be in [0,1]", id)
		}
		if ic.Quoting.BaseSize <= 0 {
			return fmt.Errorf("instrument %s quoting.baseSize must be > 0", id)
		}
		if ic.Refresh.StalenessMs < 0 {
			return fmt.Errorf("instrument %s refresh.stalenessMs must be >= 0", id)
		}
	}
	return nil
}
