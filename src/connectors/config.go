package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BrokerBaseURL   string  `envconfig:"BROKER_BASE_URL" default:"http://localhost:8081"`
	BrokerAPIKey    string  `envconfig:"BROKER_API_KEY"`
	BrokerAPISecret string  `envconfig:"BROKER_API_SECRET"`
	BrokerRatePerS  float64 `envconfig:"BROKER_RATE_PER_SECOND" default:"5"`
	BrokerBurst     int     `envconfig:"BROKER_RATE_BURST" default:"5"`

	SignalBaseURL string        `envconfig:"SIGNAL_BASE_URL" default:"http://localhost:8082"`
	SignalAPIKey  string        `envconfig:"SIGNAL_API_KEY"`
	SignalTimeout time.Duration `envconfig:"SIGNAL_TIMEOUT" default:"10s"`

	TickFeedURL        string        `envconfig:"TICK_FEED_URL" default:"ws://localhost:8083/v1/ticks"`
	TickReconnectMax   time.Duration `envconfig:"TICK_RECONNECT_MAX" default:"30s"`
	TickReadTimeout    time.Duration `envconfig:"TICK_READ_TIMEOUT" default:"60s"`
	KlineEndpoint      string        `envconfig:"KLINE_ENDPOINT" default:"https://api.binance.com"`
	KlineQuote         string        `envconfig:"KLINE_QUOTE" default:"USDT"`
	KlinePeriodLength  int           `envconfig:"KLINE_ATR_PERIOD" default:"14"`
	PaperPartialRatio  float64       `envconfig:"PAPER_PARTIAL_RATIO" default:"1"`
	PaperSlippageBasis float64       `envconfig:"PAPER_SLIPPAGE_BPS" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
