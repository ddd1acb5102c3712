package customers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
)

// CreateInput carries the fields needed to register a customer.
type CreateInput struct {
	Name    string
	Phone   string
	Address *string
}

// UpdateInput carries the mutable customer profile fields. Nil means leave
// the field untouched. The wallet balance is never updated here; only the
// wallet ledger writes it.
type UpdateInput struct {
	Name    *string
	Phone   *string
	Address *string
}

// ListFilter narrows the customer listing.
type ListFilter struct {
	Phone string
	Query string
}

// CustomerDTO is the API shape of a customer record.
type CustomerDTO struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	Address       *string         `json:"address,omitempty"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CustomerPage is a newest-first page of customers.
type CustomerPage struct {
	Customers  []CustomerDTO `json:"customers"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func toDTO(customer *models.Customer) CustomerDTO {
	return CustomerDTO{
		ID:            customer.ID,
		Name:          customer.Name,
		Phone:         customer.Phone,
		Address:       customer.Address,
		WalletBalance: customer.WalletBalance,
		CreatedAt:     customer.CreatedAt,
		UpdatedAt:     customer.UpdatedAt,
	}
}

func toDTOs(records []models.Customer) []CustomerDTO {
	out := make([]CustomerDTO, 0, len(records))
	for i := range records {
		out = append(out, toDTO(&records[i]))
	}
	return out
}
