package entities

// Direction of an order on the external book.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// OrderStatus as reported by the order source.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusOtherPending   OrderStatus = "other_pending"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Order is one actionable unit of work from the external order book.
// Orders are re-fetched on every poll cycle and never persisted by the daemon;
// the durable trail lives in ProcessingRecord.
type Order struct {
	ID                string      `json:"id"`
	Direction         Direction   `json:"direction"`
	AmountFiat        float64     `json:"amount_fiat"`
	CounterpartyLabel string      `json:"counterparty"`
	Status            OrderStatus `json:"status"`
	DetailRef         string      `json:"detail_ref"`
}

// PaymentDestination is extracted from an order's detail page. At least one of
// AccountNumber/Alias must be present and pass validation before a transfer is
// attempted.
type PaymentDestination struct {
	AccountNumber string `json:"account_number,omitempty"`
	Alias         string `json:"alias,omitempty"`
}

func (d PaymentDestination) Empty() bool {
	return d.AccountNumber == "" && d.Alias == ""
}
