package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"regime-precursor-lab/internal/idhash"
)

// Validation errors.
var (
	ErrNoSymbol         = errors.New("symbol is required")
	ErrEmbargoTooShort  = errors.New("embargo_min must be >= horizon_min")
	ErrLagNotNegative   = errors.New("study lags must be negative (minutes before flip)")
	ErrNoLags           = errors.New("study needs at least one lag")
	ErrBlocks           = errors.New("cpcv blocks must be >= 2")
	ErrGroupSize        = errors.New("cpcv group_size must be in [1, blocks-1]")
	ErrHorizon          = errors.New("cpcv horizon_min must be >= 1")
	ErrPermutations     = errors.New("study permutations must be >= 1")
	ErrFDRThreshold     = errors.New("study fdr_threshold must be in (0, 1)")
	ErrEvalThreshold    = errors.New("cpcv eval_threshold must be in (0, 1)")
	ErrVolBuckets       = errors.New("regime vol bucket cuts must satisfy 0 < low < high < 1")
	ErrThresholdGrid    = errors.New("gate grid thresholds must satisfy 0 < from <= to and step > 0")
	ErrEmptyGridAxis    = errors.New("gate grid axes must be non-empty")
	ErrFABudget         = errors.New("gate fa_budget_per_day must be > 0")
	ErrSlopeWindow      = errors.New("regime slope_window must be >= 3")
	ErrHysteresis       = errors.New("regime hysteresis must be >= 1")
)

// Config is the study configuration, loaded from YAML.
// Zero values are filled by Default(); Load applies file overrides on top.
type Config struct {
	Symbol string       `yaml:"symbol"`
	Regime RegimeConfig `yaml:"regime"`
	Study  StudyConfig  `yaml:"study"`
	CPCV   CPCVConfig   `yaml:"cpcv"`
	Gate   GateConfig   `yaml:"gate"`
	Prereg PreregConfig `yaml:"prereg"`
}

// RegimeConfig parameterizes the macro regime detector.
type RegimeConfig struct {
	MacroBarSec int     `yaml:"macro_bar_sec"` // macro bar interval, seconds
	SlopeWindow int     `yaml:"slope_window"`  // OLS window, macro bars
	R2Min       float64 `yaml:"r2_min"`        // minimum R^2 for a directional state
	Hysteresis  int     `yaml:"hysteresis"`    // consecutive bars required to switch state
	VolWindow   int     `yaml:"vol_window"`    // rolling RV window, macro bars
	VolLowPct   float64 `yaml:"vol_low_pct"`   // rank cut between low and mid
	VolHighPct  float64 `yaml:"vol_high_pct"`  // rank cut between mid and high
}

// StudyConfig parameterizes the permutation/FDR engine.
type StudyConfig struct {
	PreWindowMin    int     `yaml:"pre_window_min"`    // study window W before each flip
	Lags            []int   `yaml:"lags"`              // negative minutes before flip
	Permutations    int     `yaml:"permutations"`      // permutation count N
	Seed            int64   `yaml:"seed"`              // base seed
	MinFlips        int     `yaml:"min_flips"`         // below this, all hypotheses inconclusive
	MinEventSamples int     `yaml:"min_event_samples"` // below this, that hypothesis inconclusive
	FDRThreshold    float64 `yaml:"fdr_threshold"`     // subset q-value gate
}

// CPCVConfig parameterizes the purged cross-validation engine.
type CPCVConfig struct {
	Blocks          int     `yaml:"blocks"`           // contiguous time blocks k
	GroupSize       int     `yaml:"group_size"`       // test blocks per combination g
	MaxCombinations int     `yaml:"max_combinations"` // cap on C(k,g), 0 = all
	HorizonMin      int     `yaml:"horizon_min"`      // flip label horizon H, minutes
	EmbargoMin      int     `yaml:"embargo_min"`      // embargo after test blocks, >= H
	EvalThreshold   float64 `yaml:"eval_threshold"`   // probability threshold for coverage/FA
	Estimator       string  `yaml:"estimator"`        // estimator factory name
	Calibrate       bool    `yaml:"calibrate"`        // isotonic calibration on training predictions
}

// GateConfig parameterizes alert gating evaluation and the sweep grid.
type GateConfig struct {
	PreWindowMin   int        `yaml:"pre_window_min"`    // alert coverage window before a flip
	FABudgetPerDay float64    `yaml:"fa_budget_per_day"` // sweep constraint
	Grid           GridConfig `yaml:"grid"`
}

// GridConfig is the AlertParams sweep grid.
type GridConfig struct {
	ThresholdFrom float64 `yaml:"threshold_from"`
	ThresholdTo   float64 `yaml:"threshold_to"`
	ThresholdStep float64 `yaml:"threshold_step"`
	ConsecutiveK  []int   `yaml:"consecutive_k"`
	EMAWindows    []int   `yaml:"ema_windows"`
	Separations   []int   `yaml:"separations_min"`
}

// PreregConfig points at the preregistration manifest.
type PreregConfig struct {
	Path string `yaml:"path"` // JSON manifest, optional
}

// Default returns the study defaults. The defaults reproduce the reference
// study: 4h macro bars, 240m horizon, 500 permutations at seed 123, and the
// published sweep grid.
func Default() Config {
	return Config{
		Regime: RegimeConfig{
			MacroBarSec: 14400,
			SlopeWindow: 30,
			R2Min:       0.20,
			Hysteresis:  2,
			VolWindow:   30,
			VolLowPct:   0.33,
			VolHighPct:  0.66,
		},
		Study: StudyConfig{
			PreWindowMin:    240,
			Lags:            []int{-240, -180, -120, -90, -60, -45, -30, -15, -10, -5},
			Permutations:    500,
			Seed:            123,
			MinFlips:        5,
			MinEventSamples: 20,
			FDRThreshold:    0.10,
		},
		CPCV: CPCVConfig{
			Blocks:          6,
			GroupSize:       2,
			MaxCombinations: 10,
			HorizonMin:      240,
			EmbargoMin:      240,
			EvalThreshold:   0.6,
			Estimator:       "hazard_logit",
			Calibrate:       true,
		},
		Gate: GateConfig{
			PreWindowMin:   180,
			FABudgetPerDay: 2.0,
			Grid: GridConfig{
				ThresholdFrom: 0.540,
				ThresholdTo:   0.590,
				ThresholdStep: 0.002,
				ConsecutiveK:  []int{1, 2},
				EMAWindows:    []int{1, 3},
				Separations:   []int{30, 60},
			},
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects inconsistent configurations before any computation.
// The embargo >= horizon check is the leakage-prevention invariant: it must
// fail here, not merely be documented.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return ErrNoSymbol
	}

	if c.Regime.SlopeWindow < 3 {
		return ErrSlopeWindow
	}
	if c.Regime.Hysteresis < 1 {
		return ErrHysteresis
	}
	if !(c.Regime.VolLowPct > 0 && c.Regime.VolLowPct < c.Regime.VolHighPct && c.Regime.VolHighPct < 1) {
		return ErrVolBuckets
	}

	if len(c.Study.Lags) == 0 {
		return ErrNoLags
	}
	for _, lag := range c.Study.Lags {
		if lag >= 0 {
			return fmt.Errorf("%w: got %d", ErrLagNotNegative, lag)
		}
	}
	if c.Study.Permutations < 1 {
		return ErrPermutations
	}
	if c.Study.FDRThreshold <= 0 || c.Study.FDRThreshold >= 1 {
		return ErrFDRThreshold
	}

	if c.CPCV.Blocks < 2 {
		return ErrBlocks
	}
	if c.CPCV.GroupSize < 1 || c.CPCV.GroupSize > c.CPCV.Blocks-1 {
		return ErrGroupSize
	}
	if c.CPCV.HorizonMin < 1 {
		return ErrHorizon
	}
	if c.CPCV.EmbargoMin < c.CPCV.HorizonMin {
		return fmt.Errorf("%w: embargo %dm < horizon %dm",
			ErrEmbargoTooShort, c.CPCV.EmbargoMin, c.CPCV.HorizonMin)
	}
	if c.CPCV.EvalThreshold <= 0 || c.CPCV.EvalThreshold >= 1 {
		return ErrEvalThreshold
	}

	if c.Gate.FABudgetPerDay <= 0 {
		return ErrFABudget
	}
	g := c.Gate.Grid
	if !(g.ThresholdFrom > 0 && g.ThresholdFrom <= g.ThresholdTo && g.ThresholdStep > 0) {
		return ErrThresholdGrid
	}
	if len(g.ConsecutiveK) == 0 || len(g.EMAWindows) == 0 || len(g.Separations) == 0 {
		return ErrEmptyGridAxis
	}

	return nil
}

// Hash returns a deterministic fingerprint of the canonical YAML encoding,
// recorded on runs so results can be traced to their configuration.
func (c *Config) Hash() (string, error) {
	encoded, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return idhash.ComputeConfigHash(encoded), nil
}
