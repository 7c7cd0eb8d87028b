package domain

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPendingNew      OrderStatus = "PENDING_NEW"
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// 生命周期中的先后次序，终态同级
var statusRank = map[OrderStatus]int{
	OrderStatusPendingNew:      0,
	OrderStatusNew:             1,
	OrderStatusPartiallyFilled: 2,
	OrderStatusFilled:          3,
	OrderStatusCanceled:        3,
	OrderStatusRejected:        3,
}

// Valid 是否为已知状态
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal 是否为终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// IsOpen 是否仍在交易所挂单
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// CanTransitionTo 状态只能沿生命周期向前推进，终态之后不再变化
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// OrderType 订单方向
type OrderType string

const (
	OrderTypeBid OrderType = "BID"
	OrderTypeAsk OrderType = "ASK"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeBid || t == OrderTypeAsk
}
