package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tradefunnel/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type brokerResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type brokerOrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Quantity      int64           `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
}

type brokerOrder struct {
	OrderID        string          `json:"order_id"`
	Status         string          `json:"status"`
	FilledQuantity int64           `json:"filled_quantity"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	Reason         string          `json:"reason"`
}

type brokerAccount struct {
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
}

// RESTGateway talks to the broker over signed REST calls.
type RESTGateway struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	limiter   *rate.Limiter
	log       *logger.Entry
}

func NewRESTGateway(cfg Config, log *logger.Entry) *RESTGateway {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	perSecond := cfg.BrokerRatePerS
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.BrokerBurst
	if burst <= 0 {
		burst = 1
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BrokerBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RESTGateway{
		apiKey:    cfg.BrokerAPIKey,
		apiSecret: cfg.BrokerAPISecret,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		log:       log.WithField("component", "rest_gateway"),
	}
}

func signRequest(method, path, body string, expiry int64, secret string) string {
	base := method + path + strconv.FormatInt(expiry, 10) + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *RESTGateway) doRequest(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*brokerResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	expiry := time.Now().Add(time.Minute).Unix()
	sig := signRequest(method, path, string(body), expiry, g.apiSecret)

	req := g.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", g.apiKey).
		SetHeader("X-REQUEST-EXPIRY", strconv.FormatInt(expiry, 10)).
		SetHeader("X-SIGNATURE", sig)
	if idempotencyKey != "" {
		req = req.SetHeader("Idempotency-Key", idempotencyKey)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	raw := resp.Body()
	if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrGatewayUnavailable, resp.StatusCode(), string(raw))
	}

	var out brokerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("HTTP %d: decode broker response: %w", resp.StatusCode(), err)
	}
	return &out, nil
}

// Submit places the order using its id as idempotency key, so a retried
// submission can never double-fill.
func (g *RESTGateway) Submit(ctx context.Context, order model.Order) (model.Fill, error) {
	body, err := json.Marshal(brokerOrderRequest{
		ClientOrderID: order.ID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Quantity:      order.Quantity,
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
	})
	if err != nil {
		return model.Fill{}, err
	}

	resp, err := g.doRequest(ctx, http.MethodPost, "/v1/orders", body, order.ID)
	if err != nil {
		g.log.WithError(err).WithField("order_id", order.ID).Warn("submit failed")
		return model.Fill{}, err
	}
	if resp.Code != 0 {
		reason := GetErrorMsg(resp.Code)
		g.log.WithFields(logger.Fields{
			"order_id": order.ID,
			"symbol":   order.Symbol,
			"code":     resp.Code,
			"reason":   reason,
		}).Warn("order rejected by broker")
		return model.Fill{OrderID: order.ID, Status: model.OrderStatusRejected, Reason: reason}, nil
	}

	var placed brokerOrder
	if err := json.Unmarshal(resp.Data, &placed); err != nil {
		return model.Fill{}, fmt.Errorf("decode order: %w", err)
	}
	return model.Fill{
		OrderID:        order.ID,
		Status:         normalizeStatus(placed.Status),
		FillPrice:      placed.FillPrice,
		FilledQuantity: placed.FilledQuantity,
		Reason:         placed.Reason,
	}, nil
}

func (g *RESTGateway) Cancel(ctx context.Context, orderID string) (model.OrderStatus, error) {
	resp, err := g.doRequest(ctx, http.MethodDelete, "/v1/orders/"+orderID, nil, "")
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		// already final on the broker side
		if resp.Code == 1081 || resp.Code == 1080 {
			return model.OrderStatusCanceled, nil
		}
		return "", fmt.Errorf("cancel %s: %s", orderID, GetErrorMsg(resp.Code))
	}
	var canceled brokerOrder
	if err := json.Unmarshal(resp.Data, &canceled); err != nil {
		return "", fmt.Errorf("decode cancel: %w", err)
	}
	return normalizeStatus(canceled.Status), nil
}

func (g *RESTGateway) Account(ctx context.Context) (model.Equity, error) {
	resp, err := g.doRequest(ctx, http.MethodGet, "/v1/account", nil, "")
	if err != nil {
		return model.Equity{}, err
	}
	if resp.Code != 0 {
		return model.Equity{}, fmt.Errorf("API error: %s", GetErrorMsg(resp.Code))
	}
	var acct brokerAccount
	if err := json.Unmarshal(resp.Data, &acct); err != nil {
		return model.Equity{}, err
	}
	return model.Equity{Equity: acct.Equity, BuyingPower: acct.BuyingPower}, nil
}

func normalizeStatus(s string) model.OrderStatus {
	switch model.OrderStatus(s) {
	case model.OrderStatusFilled, model.OrderStatusRejected, model.OrderStatusCanceled, model.OrderStatusSubmitted:
		return model.OrderStatus(s)
	case "partially_filled":
		return model.OrderStatusFilled
	default:
		return model.OrderStatusSubmitted
	}
}
