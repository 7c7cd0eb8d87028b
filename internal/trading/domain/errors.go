package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrMalformedPair   = errors.New("malformed currency pair")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrInvalidTime     = errors.New("invalid timestamp")
	ErrMissingCurrency = errors.New("amount without currency")

	ErrRequired         = errors.New("required field missing")
	ErrNonPositive      = errors.New("must be positive")
	ErrHighBelowLow     = errors.New("high below low")
	ErrOpenOutOfRange   = errors.New("open outside low/high range")
	ErrCloseOutOfRange  = errors.New("close outside low/high range")
	ErrNegativePrice    = errors.New("negative price")
	ErrNegativeVolume   = errors.New("negative volume")
	ErrInvalidOrderType = errors.New("invalid order type")
	ErrInvalidStatus    = errors.New("unknown order status")

	ErrTerminalOrder       = errors.New("order is in a terminal status")
	ErrOverfill            = errors.New("fill exceeds requested amount")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrStatusRegression    = errors.New("status transition not allowed")
	ErrFillDerivedStatus   = errors.New("status is derived from fills")
	ErrNotAcknowledged     = errors.New("order not acknowledged by exchange")
	ErrAlreadyAcknowledged = errors.New("order already acknowledged with another id")
	ErrForeignTrade        = errors.New("trade belongs to another order")
	ErrInvalidTrade        = errors.New("invalid trade")
	ErrInconsistentFill    = errors.New("stored fill totals disagree with trades")

	ErrIDAlreadyAssigned = errors.New("surrogate key already assigned")
	ErrNotFound          = errors.New("not found")
	ErrCandleConflict    = errors.New("candle differs from stored record")
)

// ParseError 表示货币对或数值字段无法解析。
type ParseError struct {
	// 导入行号，从 1 开始；0 表示不来自批量导入
	Row   int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: cannot parse %s %q: %v", e.Row, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("cannot parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError 表示值可以解析，但违反了实体不变量（K 线 OHLC 顺序、成交量等）。
type ValidationError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: invalid %s %s: %v", e.Row, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %s: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LifecycleError 表示订单状态机拒绝了一次变更。
type LifecycleError struct {
	OrderID string
	TradeID string
	Status  OrderStatus
	Err     error
}

func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("order %q (%s)", e.OrderID, e.Status)
	if e.TradeID != "" {
		msg += fmt.Sprintf(" trade %q", e.TradeID)
	}
	return msg + ": " + e.Err.Error()
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// Reason 返回用于指标标签的短原因
func (e *LifecycleError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrTerminalOrder):
		return "terminal"
	case errors.Is(e.Err, ErrOverfill):
		return "overfill"
	case errors.Is(e.Err, ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(e.Err, ErrStatusRegression), errors.Is(e.Err, ErrFillDerivedStatus):
		return "status"
	case errors.Is(e.Err, ErrNotAcknowledged), errors.Is(e.Err, ErrAlreadyAcknowledged):
		return "acknowledgment"
	default:
		return "other"
	}
}

// IsDomainError 报告 err 是否为本地可恢复的领域错误（解析、校验、生命周期）
func IsDomainError(err error) bool {
	var pe *ParseError
	var ve *ValidationError
	var le *LifecycleError
	return errors.As(err, &pe) || errors.As(err, &ve) || errors.As(err, &le)
}
