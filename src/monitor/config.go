package monitor

import (
	"fmt"
	"time"

	"tradefunnel/src/tp_sl"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Trail tp_sl.Config
	// delay between close attempts that did not fill
	CloseRetryDelay time.Duration `envconfig:"MONITOR_CLOSE_RETRY_DELAY" default:"1s"`
}

func DefaultConfig() Config {
	return Config{Trail: tp_sl.DefaultConfig(), CloseRetryDelay: time.Second}
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	config.Trail = tp_sl.GetConfig()
	return config
}
