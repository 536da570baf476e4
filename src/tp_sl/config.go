package tp_sl

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	TrailTrigger float64 `envconfig:"TRAIL_TRIGGER" default:"0.02"`
	TrailPct     float64 `envconfig:"TRAIL_PCT" default:"0.02"`
}

func DefaultConfig() Config {
	return Config{TrailTrigger: 0.02, TrailPct: 0.02}
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) trigger() decimal.Decimal { return decimal.NewFromFloat(c.TrailTrigger) }
func (c Config) pct() decimal.Decimal     { return decimal.NewFromFloat(c.TrailPct) }
