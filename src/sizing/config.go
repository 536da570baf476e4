package sizing

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RiskPerTrade    float64 `envconfig:"SIZING_RISK_PER_TRADE" default:"0.01"`
	ATRMultiplier   float64 `envconfig:"SIZING_ATR_MULTIPLIER" default:"1.5"`
	MaxNotionalPct  float64 `envconfig:"SIZING_MAX_NOTIONAL_PCT" default:"0.25"`
	RewardRiskRatio float64 `envconfig:"SIZING_REWARD_RISK" default:"2"`
}

func DefaultConfig() Config {
	return Config{
		RiskPerTrade:    0.01,
		ATRMultiplier:   1.5,
		MaxNotionalPct:  0.25,
		RewardRiskRatio: 2,
	}
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
