package session

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// minutes after midnight, New York time
	OpenMinute       int           `envconfig:"SESSION_OPEN_MINUTE" default:"570"`
	CloseMinute      int           `envconfig:"SESSION_CLOSE_MINUTE" default:"960"`
	CloseLead        time.Duration `envconfig:"SESSION_CLOSE_LEAD" default:"10m"`
	PollInterval     time.Duration `envconfig:"SESSION_POLL_INTERVAL" default:"15s"`
	IgnoreHolidays   bool          `envconfig:"SESSION_IGNORE_HOLIDAYS" default:"false"`
	AlwaysOpenForDev bool          `envconfig:"SESSION_ALWAYS_OPEN" default:"false"`
}

func DefaultConfig() Config {
	return Config{
		OpenMinute:   9*60 + 30,
		CloseMinute:  16 * 60,
		CloseLead:    10 * time.Minute,
		PollInterval: 15 * time.Second,
	}
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
