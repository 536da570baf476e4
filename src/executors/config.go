package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	GatewayPaper = "paper"
	GatewayREST  = "rest"
)

type Config struct {
	LoopPeriod   time.Duration `envconfig:"LOOP_PERIOD" default:"30s"`
	FunnelBudget time.Duration `envconfig:"FUNNEL_BUDGET" default:"5s"`

	EntryMaxRetries     uint64        `envconfig:"ENTRY_MAX_RETRIES" default:"3"`
	EntryBackoffInitial time.Duration `envconfig:"ENTRY_BACKOFF_INITIAL" default:"200ms"`
	EntryBackoffMax     time.Duration `envconfig:"ENTRY_BACKOFF_MAX" default:"2s"`
	// time an entry submission may keep running after its cycle was canceled
	SubmitGrace time.Duration `envconfig:"SUBMIT_GRACE" default:"3s"`

	ExitBackoffInitial time.Duration `envconfig:"EXIT_BACKOFF_INITIAL" default:"250ms"`
	ExitBackoffMax     time.Duration `envconfig:"EXIT_BACKOFF_MAX" default:"10s"`
	ExitAlertAfter     int           `envconfig:"EXIT_ALERT_AFTER" default:"5"`

	CarryOverRejected bool   `envconfig:"CARRY_OVER_REJECTED" default:"false"`
	Gateway           string `envconfig:"GATEWAY" default:"paper"` // paper | rest
	ServiceName       string `envconfig:"SERVICE_NAME" default:"tradefunnel"`
}

func DefaultConfig() Config {
	return Config{
		LoopPeriod:          30 * time.Second,
		FunnelBudget:        5 * time.Second,
		EntryMaxRetries:     3,
		EntryBackoffInitial: 200 * time.Millisecond,
		EntryBackoffMax:     2 * time.Second,
		SubmitGrace:         3 * time.Second,
		ExitBackoffInitial:  250 * time.Millisecond,
		ExitBackoffMax:      10 * time.Second,
		ExitAlertAfter:      5,
		Gateway:             GatewayPaper,
		ServiceName:         "tradefunnel",
	}
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
