package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TotalBudget   float64 `envconfig:"RISK_TOTAL_BUDGET" default:"1000"`
	MaxConcurrent int     `envconfig:"RISK_MAX_CONCURRENT" default:"5"`
	MaxDailyLoss  float64 `envconfig:"RISK_MAX_DAILY_LOSS" default:"500"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
