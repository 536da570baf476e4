package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var ErrNotEnoughKlines = errors.New("not enough klines for ATR")

// KlineVolatility computes a one-minute average true range from exchange klines.
type KlineVolatility struct {
	exchange goex.API
	quote    string
	period   int
	log      *logger.Entry
}

func NewKlineVolatility(cfg Config, log *logger.Entry) *KlineVolatility {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   cfg.KlineEndpoint,
	}
	return NewKlineVolatilityWithAPI(binance.NewWithConfig(apiConfig), cfg.KlineQuote, cfg.KlinePeriodLength, log)
}

func NewKlineVolatilityWithAPI(api goex.API, quote string, period int, log *logger.Entry) *KlineVolatility {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if period <= 0 {
		period = 14
	}
	return &KlineVolatility{
		exchange: api,
		quote:    quote,
		period:   period,
		log:      log.WithField("component", "kline_volatility"),
	}
}

// ATR returns the average true range over the configured number of one-minute bars.
func (v *KlineVolatility) ATR(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	base := strings.TrimSuffix(strings.ToUpper(symbol), "_"+v.quote)
	pair := goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: v.quote})

	klines, err := v.exchange.GetKlineRecords(pair, goex.KLINE_PERIOD_1MIN, v.period+1, goex.OptionalParameter{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("klines %s: %w", symbol, err)
	}

	atr, err := AverageTrueRange(klines)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, err)
	}
	v.log.WithFields(logger.Fields{"symbol": symbol, "bars": len(klines), "atr": atr.String()}).Debug("atr computed")
	return atr, nil
}

// AverageTrueRange averages max(high-low, |high-prevClose|, |low-prevClose|)
// over every bar that has a predecessor. klines must be in time order.
func AverageTrueRange(klines []goex.Kline) (decimal.Decimal, error) {
	if len(klines) < 2 {
		return decimal.Zero, ErrNotEnoughKlines
	}
	sum := decimal.Zero
	for i := 1; i < len(klines); i++ {
		high := decimal.NewFromFloat(klines[i].High)
		low := decimal.NewFromFloat(klines[i].Low)
		prevClose := decimal.NewFromFloat(klines[i-1].Close)

		tr := high.Sub(low)
		tr = decimal.Max(tr, high.Sub(prevClose).Abs())
		tr = decimal.Max(tr, low.Sub(prevClose).Abs())
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(len(klines) - 1))), nil
}
