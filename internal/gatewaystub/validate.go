// Package gatewaystub stands in for the out-of-scope HTTP/WebSocket
// gateway (spec §1 Non-goals): the minimal pre-WAL validation, risk
// checks, and external id assignment a real gateway would perform
// before a command ever reaches a service's inbound queue.
//
// Same risk-check shape as a conventional pre-trade checker, widened
// from string symbols/int64 cents to uint32 symbol ids and scaled
// uint64 amounts, with snowflake-based external id minting.
package gatewaystub

import (
	"errors"
	"fmt"

	"github.com/spotex/matchcore/internal/amount"
	"github.com/spotex/matchcore/internal/orders"
)

// ErrorCode is a stable, machine-readable validation failure code
// (spec §7: "each carries its own code so clients can respond
// differently to a precision issue vs. an insufficient balance").
type ErrorCode string

const (
	CodeZeroQuantity    ErrorCode = "ZERO_QUANTITY"
	CodeZeroPrice       ErrorCode = "ZERO_PRICE"
	CodeBadPrecision    ErrorCode = "BAD_PRECISION"
	CodeAmountOverflow  ErrorCode = "AMOUNT_OVERFLOW"
	CodeUnknownSymbol   ErrorCode = "UNKNOWN_SYMBOL"
	CodeUnknownAsset    ErrorCode = "UNKNOWN_ASSET"
	CodeAccountInactive ErrorCode = "ACCOUNT_INACTIVE"
	CodeRiskRejected    ErrorCode = "RISK_REJECTED"
)

// ValidationError is returned for any command rejected before it
// reaches a WAL (spec §7: "Reject command at gateway boundary; no WAL
// entry").
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code ErrorCode, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// SymbolInfo describes one tradable symbol, as loaded from the
// (out-of-scope) configuration store.
type SymbolInfo struct {
	SymbolID   uint32
	BaseAsset  uint32
	QuoteAsset uint32
	PriceScale int
	QtyScale   int
}

// Registry resolves symbol/asset/account existence and status —
// standing in for the out-of-scope configuration store and user/auth
// service.
type Registry interface {
	Symbol(symbolID uint32) (SymbolInfo, bool)
	AssetKnown(assetID uint32) bool
	AccountActive(userID uint64) bool
}

// ValidateOrder runs every pre-WAL check from spec §7's validation
// row: zero quantity/price, unknown symbol, inactive account. Amount
// precision/overflow is checked earlier, at decimal-string parse time,
// by internal/amount.Parse — ValidateOrder only re-asserts the parsed
// values are non-zero where the spec requires it.
func ValidateOrder(o *orders.Order, reg Registry) error {
	info, ok := reg.Symbol(o.SymbolID)
	if !ok {
		return reject(CodeUnknownSymbol, "unknown symbol id %d", o.SymbolID)
	}
	if !reg.AccountActive(o.UserID) {
		return reject(CodeAccountInactive, "account %d is not active", o.UserID)
	}
	if o.Qty == 0 {
		return reject(CodeZeroQuantity, "order quantity must be positive")
	}
	if o.Type == orders.TypeLimit && o.Price == 0 {
		return reject(CodeZeroPrice, "limit order price must be positive")
	}
	_ = info // symbol-specific scale checks happen at amount-parse time
	return nil
}

// ValidateAmount re-validates a caller-supplied decimal string against
// an asset's scale, surfacing precision/overflow as their own codes
// rather than a generic bad request (spec §7).
func ValidateAmount(raw string, scale int) (uint64, error) {
	v, err := amount.Parse(raw, scale)
	if err == nil {
		return v, nil
	}
	var amtErr *amount.Error
	if !errors.As(err, &amtErr) {
		return 0, reject(CodeBadPrecision, "%v", err)
	}
	switch amtErr.Kind {
	case amount.KindOverflow:
		return 0, reject(CodeAmountOverflow, "%s", amtErr.Msg)
	default:
		return 0, reject(CodeBadPrecision, "%s", amtErr.Msg)
	}
}
