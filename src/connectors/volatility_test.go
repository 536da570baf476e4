package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func setupMockBinanceServer() *httptest.Server {
	handler := http.NewServeMux()
	handler.HandleFunc("/api/v3/klines", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(`[
			[1499040000000, "10.0", "11.0", "9.0", "10.0", "100", 1499040059999, "1000", 10, "50", "500", "0"],
			[1499040060000, "10.0", "12.0", "10.0", "11.0", "100", 1499040119999, "1000", 10, "50", "500", "0"],
			[1499040120000, "11.0", "11.5", "8.0", "9.0", "100", 1499040179999, "1000", 10, "50", "500", "0"]
		]`))
		if err != nil {
			return
		}
	})
	return httptest.NewServer(handler)
}

func TestKlineVolatility_ATR(t *testing.T) {
	server := setupMockBinanceServer()
	defer server.Close()

	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   server.URL,
	}
	v := NewKlineVolatilityWithAPI(binance.NewWithConfig(apiConfig), "USDT", 2, nil)

	atr, err := v.ATR(context.Background(), "BTC")
	require.NoError(t, err)
	// bar2: max(2, 2, 0) = 2; bar3: max(3.5, 0.5, 3) = 3.5 -> 2.75
	require.True(t, atr.Equal(decimal.RequireFromString("2.75")), "atr=%s", atr)
}

func TestAverageTrueRange_NotEnoughBars(t *testing.T) {
	_, err := AverageTrueRange([]goex.Kline{{High: 1, Low: 1, Close: 1}})
	require.ErrorIs(t, err, ErrNotEnoughKlines)
}

func TestKlineVolatility_CanceledContext(t *testing.T) {
	v := NewKlineVolatilityWithAPI(nil, "USDT", 14, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.ATR(ctx, "BTC")
	require.ErrorIs(t, err, context.Canceled)
}
