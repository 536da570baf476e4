package atrprobe

import (
	"context"
	"fmt"
	"io"
	"os"

	"tradefunnel/src/connectors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type VolatilitySource interface {
	ATR(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ATRProbe prints the average true range the executor would use for each symbol.
type ATRProbe struct {
	Log    *logger.Entry
	Config *Config
	Source VolatilitySource
	Out    io.Writer
}

func (p *ATRProbe) Start(ctx context.Context) error {
	if p.Config == nil {
		p.Config = GetConfig()
	}
	if p.Log == nil {
		p.Log = logger.WithField("cmd", "atr")
	}
	if p.Source == nil {
		p.Source = connectors.NewKlineVolatility(connectors.GetConfig(), p.Log)
	}
	if p.Out == nil {
		p.Out = os.Stdout
	}

	failed := 0
	for _, symbol := range p.Config.Symbols {
		atr, err := p.Source.ATR(ctx, symbol)
		if err != nil {
			failed++
			p.Log.WithError(err).WithField("symbol", symbol).Error("ATR lookup failed")
			continue
		}
		if _, err := fmt.Fprintf(p.Out, "%s\t%s\n", symbol, atr.StringFixed(4)); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d symbols failed", failed, len(p.Config.Symbols))
	}
	return nil
}
