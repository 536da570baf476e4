package funnel

import (
	"fmt"
	"os"
	"time"

	"tradefunnel/src/model"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	CatalystCap  int           `envconfig:"FUNNEL_CATALYST_CAP" default:"35" yaml:"catalyst_cap"`
	PatternCap   int           `envconfig:"FUNNEL_PATTERN_CAP" default:"20" yaml:"pattern_cap"`
	TechnicalCap int           `envconfig:"FUNNEL_TECHNICAL_CAP" default:"5" yaml:"technical_cap"`
	RiskCap      int           `envconfig:"FUNNEL_RISK_CAP" default:"5" yaml:"risk_cap"`
	Workers      int           `envconfig:"FUNNEL_WORKERS" default:"8" yaml:"workers"`
	StageTimeout time.Duration `envconfig:"FUNNEL_STAGE_TIMEOUT" default:"0s" yaml:"stage_timeout"`

	WeightCatalyst  float64 `envconfig:"FUNNEL_WEIGHT_CATALYST" default:"0.4" yaml:"weight_catalyst"`
	WeightPattern   float64 `envconfig:"FUNNEL_WEIGHT_PATTERN" default:"0.3" yaml:"weight_pattern"`
	WeightTechnical float64 `envconfig:"FUNNEL_WEIGHT_TECHNICAL" default:"0.3" yaml:"weight_technical"`

	MinComposite float64 `envconfig:"FUNNEL_MIN_COMPOSITE" default:"0" yaml:"min_composite"`
	MinPrice     float64 `envconfig:"FUNNEL_MIN_PRICE" default:"1" yaml:"min_price"`
	MaxPrice     float64 `envconfig:"FUNNEL_MAX_PRICE" default:"0" yaml:"max_price"`
	MinVolume    int64   `envconfig:"FUNNEL_MIN_VOLUME" default:"0" yaml:"min_volume"`

	Profile string `envconfig:"FUNNEL_PROFILE" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		CatalystCap:     35,
		PatternCap:      20,
		TechnicalCap:    5,
		RiskCap:         5,
		Workers:         8,
		WeightCatalyst:  0.4,
		WeightPattern:   0.3,
		WeightTechnical: 0.3,
		MinPrice:        1,
	}
}

// GetConfig reads the environment and, when FUNNEL_PROFILE is set, overlays the YAML profile.
func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	if config.Profile != "" {
		overlaid, err := LoadProfile(config, config.Profile)
		if err != nil {
			panic(fmt.Errorf("error loading funnel profile %s: %w", config.Profile, err))
		}
		config = overlaid
	}
	return config
}

// LoadProfile overlays the keys present in the YAML file at path onto base.
func LoadProfile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, err
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for name, v := range map[string]int{
		"catalyst_cap":  c.CatalystCap,
		"pattern_cap":   c.PatternCap,
		"technical_cap": c.TechnicalCap,
		"risk_cap":      c.RiskCap,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.MaxPrice > 0 && c.MaxPrice < c.MinPrice {
		return fmt.Errorf("max_price %.2f below min_price %.2f", c.MaxPrice, c.MinPrice)
	}
	return nil
}

func (c Config) Weights() model.ScoreWeights {
	return model.ScoreWeights{
		Catalyst:  c.WeightCatalyst,
		Pattern:   c.WeightPattern,
		Technical: c.WeightTechnical,
	}
}
