package connectors

import (
	"context"
	"errors"

	"tradefunnel/src/model"
)

// ErrGatewayUnavailable wraps transport failures talking to the broker.
var ErrGatewayUnavailable = errors.New("execution gateway unavailable")

// ExecutionGateway submits and cancels orders with a broker.
// A rejected order is a Fill with status rejected, not an error.
type ExecutionGateway interface {
	Submit(ctx context.Context, order model.Order) (model.Fill, error)
	Cancel(ctx context.Context, orderID string) (model.OrderStatus, error)
}

// AccountSource supplies equity for sizing.
type AccountSource interface {
	Account(ctx context.Context) (model.Equity, error)
}
