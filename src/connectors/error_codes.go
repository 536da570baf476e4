package connectors

import "fmt"

// BrokerRejectCodes maps broker reject codes to the reason recorded on the order.
var BrokerRejectCodes = map[int]string{
	1001: "UNKNOWN_ERROR",             // Unknown error
	1002: "INVALID_ARGUMENT",          // Invalid argument (e.g. missing or wrong param)
	1003: "MAINTENANCE_MODE",          // System maintenance mode
	1010: "QTY_TOO_SMALL",             // Quantity below minimum
	1011: "QTY_TOO_LARGE",             // Quantity above maximum
	1012: "PRICE_INVALID",             // Limit or stop price outside allowed band
	1020: "INSUFFICIENT_BUYING_POWER", // Not enough buying power
	1021: "SHORT_NOT_AVAILABLE",       // No borrow for short sale
	1030: "SYMBOL_HALTED",             // Trading halted on the symbol
	1031: "SYMBOL_NOT_FOUND",          // Unknown symbol
	1040: "MARKET_CLOSED",             // Market closed
	1050: "DUPLICATE_CLIENT_ORDER",    // Idempotency key already used
	1060: "TOO_MANY_ORDERS",           // Too many outstanding orders
	1070: "ACCOUNT_RESTRICTED",        // PDT or compliance restriction
	1080: "ORDER_NOT_FOUND",           // Order id unknown to the broker
	1081: "ORDER_ALREADY_FINAL",       // Cancel on a filled or canceled order
}

// GetErrorMsg returns the reason for a broker code.
// If the code is unknown, returns a generic message including the code.
func GetErrorMsg(code int) string {
	if msg, ok := BrokerRejectCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BROKER_ERROR_%d", code)
}
