// Package config holds the tunable parameters of the risk engine.
// Scoring weights, point caps and thresholds are deliberately configuration,
// not literals: they are calibrated against known scenarios, and deployments
// tune them without code changes. Defaults come from Default(); an optional
// YAML file overrides them.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"shielded-risk/internal/domain"
)

// Weights are the correlation factor weights. They must sum to 1 so the
// composite score stays in [0, 100].
type Weights struct {
	AmountSimilarity float64 `yaml:"amount_similarity"`
	TimeProximity    float64 `yaml:"time_proximity"`
	AmountRarity     float64 `yaml:"amount_rarity"`
}

// CorrelatorConfig tunes the round-trip correlator.
type CorrelatorConfig struct {
	// ToleranceZec is the absolute amount tolerance for candidate pruning.
	ToleranceZec float64 `yaml:"tolerance_zec"`

	// RelativeTolerancePct is the relative tolerance; the wider of the two
	// bounds is applied, so large anchors are not starved of candidates.
	RelativeTolerancePct float64 `yaml:"relative_tolerance_pct"`

	// MaxTimeWindowDays bounds the causal search window.
	MaxTimeWindowDays int `yaml:"max_time_window_days"`

	// DecayCurve selects the time-proximity decay: "linear" or "exponential".
	// Both are monotone, 100 at dt=0 and 0 at dt=window.
	DecayCurve string `yaml:"decay_curve"`

	Weights    Weights           `yaml:"weights"`
	Thresholds domain.Thresholds `yaml:"thresholds"`

	// HistogramTTLMinutes bounds how stale the cached amount-frequency
	// histogram may get before a refresh.
	HistogramTTLMinutes int `yaml:"histogram_ttl_minutes"`
}

// HistogramTTL returns the histogram cache TTL.
func (c CorrelatorConfig) HistogramTTL() time.Duration {
	return time.Duration(c.HistogramTTLMinutes) * time.Minute
}

// ScoreCaps are the per-factor maxima of the batch pattern score. Ladder
// outputs are scaled to these caps, so raising a cap raises that factor's
// influence without touching the ladder shape.
type ScoreCaps struct {
	BatchCount      int `yaml:"batch_count"`
	RoundNumber     int `yaml:"round_number"`
	MatchingShield  int `yaml:"matching_shield"`
	TimeClustering  int `yaml:"time_clustering"`
	AddressAnalysis int `yaml:"address_analysis"`
}

// DetectorConfig tunes the batch pattern detector and its scheduled job.
type DetectorConfig struct {
	PeriodDays    int     `yaml:"period_days"`
	MinBatchCount int     `yaml:"min_batch_count"`
	MinAmountZec  float64 `yaml:"min_amount_zec"`

	// MinScore drops low-quality clusters before persistence.
	MinScore int `yaml:"min_score"`

	// ClusterGapMinutes is the single-linkage gap: consecutive deshields of
	// the same amount merge into one cluster while the gap stays under this.
	ClusterGapMinutes int `yaml:"cluster_gap_minutes"`

	ShieldLookbackDays int     `yaml:"shield_lookback_days"`
	ShieldToleranceZec float64 `yaml:"shield_tolerance_zec"`

	// ChunkSize bounds one ledger page during the window scan.
	ChunkSize int `yaml:"chunk_size"`

	// MaxEvents is the hard ceiling on events considered per run.
	MaxEvents int `yaml:"max_events"`

	// Schedule is the cron spec of the detection job.
	Schedule string `yaml:"schedule"`

	Caps       ScoreCaps         `yaml:"caps"`
	Thresholds domain.Thresholds `yaml:"thresholds"`
}

// ClusterGap returns the single-linkage gap threshold.
func (c DetectorConfig) ClusterGap() time.Duration {
	return time.Duration(c.ClusterGapMinutes) * time.Minute
}

// StoreConfig tunes pattern retention.
type StoreConfig struct {
	TTLDays int `yaml:"ttl_days"`
}

// TTL returns the pattern retention duration.
func (c StoreConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// APIConfig holds the server-side clamps applied to caller parameters
// before any query executes.
type APIConfig struct {
	DefaultPeriodDays int `yaml:"default_period_days"`
	MaxPeriodDays     int `yaml:"max_period_days"`
	DefaultLimit      int `yaml:"default_limit"`
	MaxLimit          int `yaml:"max_limit"`
	MaxOffset         int `yaml:"max_offset"`
}

// Config is the full engine configuration.
type Config struct {
	Correlator CorrelatorConfig `yaml:"correlator"`
	Detector   DetectorConfig   `yaml:"detector"`
	Store      StoreConfig      `yaml:"store"`
	API        APIConfig        `yaml:"api"`
}

// Default returns the calibrated defaults.
func Default() Config {
	return Config{
		Correlator: CorrelatorConfig{
			ToleranceZec:         0.01,
			RelativeTolerancePct: 1.0,
			MaxTimeWindowDays:    30,
			DecayCurve:           "linear",
			Weights: Weights{
				AmountSimilarity: 0.45,
				TimeProximity:    0.35,
				AmountRarity:     0.20,
			},
			Thresholds:          domain.Thresholds{High: 70, Medium: 50},
			HistogramTTLMinutes: 10,
		},
		Detector: DetectorConfig{
			PeriodDays:         30,
			MinBatchCount:      3,
			MinAmountZec:       1.0,
			MinScore:           35,
			ClusterGapMinutes:  360,
			ShieldLookbackDays: 90,
			ShieldToleranceZec: 0.01,
			ChunkSize:          5000,
			MaxEvents:          200_000,
			Schedule:           "*/10 * * * *",
			Caps: ScoreCaps{
				BatchCount:      30,
				RoundNumber:     20,
				MatchingShield:  25,
				TimeClustering:  12,
				AddressAnalysis: 15,
			},
			Thresholds: domain.Thresholds{High: 70, Medium: 50},
		},
		Store: StoreConfig{TTLDays: 90},
		API: APIConfig{
			DefaultPeriodDays: 30,
			MaxPeriodDays:     365,
			DefaultLimit:      50,
			MaxLimit:          200,
			MaxOffset:         10_000,
		},
	}
}

// Load reads an optional YAML file over the defaults. An empty path returns
// Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would break the score invariants.
func (c Config) Validate() error {
	w := c.Correlator.Weights
	sum := w.AmountSimilarity + w.TimeProximity + w.AmountRarity
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("correlator weights must sum to 1, got %.4f", sum)
	}
	if w.AmountSimilarity < 0 || w.TimeProximity < 0 || w.AmountRarity < 0 {
		return fmt.Errorf("correlator weights must be non-negative")
	}
	switch c.Correlator.DecayCurve {
	case "linear", "exponential":
	default:
		return fmt.Errorf("unknown decay curve %q", c.Correlator.DecayCurve)
	}
	if c.Correlator.MaxTimeWindowDays <= 0 {
		return fmt.Errorf("max_time_window_days must be positive")
	}
	for _, t := range []domain.Thresholds{c.Correlator.Thresholds, c.Detector.Thresholds} {
		if t.High < t.Medium {
			return fmt.Errorf("high threshold %d below medium %d", t.High, t.Medium)
		}
		if t.High > 100 || t.Medium < 0 {
			return fmt.Errorf("thresholds must be within [0, 100]")
		}
	}
	if c.Detector.MinBatchCount < 2 {
		return fmt.Errorf("min_batch_count must be at least 2")
	}
	if c.Detector.ChunkSize <= 0 || c.Detector.MaxEvents <= 0 {
		return fmt.Errorf("chunk_size and max_events must be positive")
	}
	if c.Store.TTLDays <= 0 {
		return fmt.Errorf("ttl_days must be positive")
	}
	if c.API.MaxLimit <= 0 || c.API.MaxPeriodDays <= 0 {
		return fmt.Errorf("api clamps must be positive")
	}
	return nil
}
