package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// starting equity of the paper gateway
	PaperEquity float64 `envconfig:"PAPER_EQUITY" default:"100000"`
	EventBuffer int     `envconfig:"EVENT_BUFFER" default:"1024"`
	// re-score candidates through the signal provider at every funnel stage
	ExternalScoring bool `envconfig:"SIGNAL_EXTERNAL_SCORING" default:"false"`
	// fetch ATR from the kline endpoint for candidates missing one
	KlineVolatility bool `envconfig:"KLINE_VOLATILITY_ENABLED" default:"false"`
	TickFeedEnabled bool `envconfig:"TICK_FEED_ENABLED" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
