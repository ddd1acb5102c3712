package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grocerlane/grocerlane-backend/pkg/enums"
)

// WalletTransaction records an immutable wallet balance change. Rows are
// never updated or deleted; an undo is a fresh row of the opposite type.
// Amount is strictly positive, BalanceAfter snapshots the customer balance
// immediately after commit.
type WalletTransaction struct {
	ID           uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID   uuid.UUID             `gorm:"column:customer_id;type:uuid;not null;index"`
	OrderID      *uuid.UUID            `gorm:"column:order_id;type:uuid;index"`
	Type         enums.TransactionType `gorm:"column:type;type:wallet_transaction_type;not null"`
	Amount       decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Note         string                `gorm:"column:note;not null"`
	BalanceAfter decimal.Decimal       `gorm:"column:balance_after;type:numeric(12,2);not null"`
	Metadata     json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}

// SignedAmount returns the amount with direction applied (+credit, -debit).
func (t WalletTransaction) SignedAmount() decimal.Decimal {
	if t.Type == enums.TransactionTypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
