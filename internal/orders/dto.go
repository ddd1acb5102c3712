package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grocerlane/grocerlane-backend/internal/wallet"
	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
	"github.com/grocerlane/grocerlane-backend/pkg/enums"
	"github.com/grocerlane/grocerlane-backend/pkg/types"
)

// PaymentOutcome describes what the wallet did (or could not do) for an
// order operation. Order persistence succeeds regardless; the outcome tells
// the caller whether money actually moved.
type PaymentOutcome string

const (
	// PaymentOutcomeFullyPaid means the wallet settled the full order total.
	PaymentOutcomeFullyPaid PaymentOutcome = "fully_paid"
	// PaymentOutcomeUnpaid means the wallet declined (insufficient funds) and
	// the order stands with no wallet settlement.
	PaymentOutcomeUnpaid PaymentOutcome = "unpaid"
	// PaymentOutcomeNoAdjustmentNeeded means an edit changed nothing the
	// wallet cares about.
	PaymentOutcomeNoAdjustmentNeeded PaymentOutcome = "no_adjustment_needed"
	// PaymentOutcomeNoWalletActivity means a cancel found nothing to reverse.
	PaymentOutcomeNoWalletActivity PaymentOutcome = "no_wallet_activity"
	// PaymentOutcomeReversed means a cancel returned the settled amount.
	PaymentOutcomeReversed PaymentOutcome = "reversed"
	// PaymentOutcomeReversalIncomplete means a reversal stopped partway; the
	// ledger holds the partial state for manual reconciliation.
	PaymentOutcomeReversalIncomplete PaymentOutcome = "reversal_incomplete"
)

// CreateInput carries the fields needed to place an order.
type CreateInput struct {
	CustomerID uuid.UUID
	Items      []types.OrderItem
	Notes      *string
}

// EditInput carries the replacement line items for an order edit.
type EditInput struct {
	Items []types.OrderItem
	Notes *string
}

// ListFilter narrows the order listing.
type ListFilter struct {
	CustomerID *uuid.UUID
	Status     *enums.OrderStatus
}

// OrderDTO is the API shape of an order.
type OrderDTO struct {
	ID            uuid.UUID           `json:"id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	Items         []types.OrderItem   `json:"items"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Notes         *string             `json:"notes,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// OrderPage is a newest-first page of orders.
type OrderPage struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// OrderResult pairs a persisted order with the wallet outcome of the
// operation that produced it. PaymentError carries the wallet failure when
// the order itself still committed.
type OrderResult struct {
	Order          OrderDTO              `json:"order"`
	PaymentOutcome PaymentOutcome        `json:"payment_outcome"`
	Wallet         *wallet.LedgerResult  `json:"-"`
	Reversal       *wallet.ReversalResult `json:"-"`
	PaymentError   error                 `json:"-"`
}

func toDTO(order *models.Order) OrderDTO {
	return OrderDTO{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		Items:         order.Items,
		TotalAmount:   order.TotalAmount,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Notes:         order.Notes,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func toDTOs(records []models.Order) []OrderDTO {
	out := make([]OrderDTO, 0, len(records))
	for i := range records {
		out = append(out, toDTO(&records[i]))
	}
	return out
}
