package atrprobe

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// comma separated, e.g. BTC,ETH
	Symbols []string `envconfig:"ATR_SYMBOLS" default:"BTC,ETH"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
