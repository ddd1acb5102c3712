package products

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
)

// CreateInput carries the fields needed to add a catalog entry.
type CreateInput struct {
	Name     string
	Unit     string
	Price    decimal.Decimal
	Category *string
}

// UpdateInput carries the mutable product fields. Nil means leave the field
// untouched.
type UpdateInput struct {
	Name     *string
	Unit     *string
	Price    *decimal.Decimal
	Category *string
	IsActive *bool
}

// ListFilter narrows the catalog listing.
type ListFilter struct {
	Category   string
	ActiveOnly bool
	Query      string
}

// ProductDTO is the API shape of a catalog entry.
type ProductDTO struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	Category  *string         `json:"category,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProductPage is a newest-first page of catalog entries.
type ProductPage struct {
	Products   []ProductDTO `json:"products"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func toDTO(product *models.Product) ProductDTO {
	return ProductDTO{
		ID:        product.ID,
		Name:      product.Name,
		Unit:      product.Unit,
		Price:     product.Price,
		Category:  product.Category,
		IsActive:  product.IsActive,
		CreatedAt: product.CreatedAt,
		UpdatedAt: product.UpdatedAt,
	}
}

func toDTOs(records []models.Product) []ProductDTO {
	out := make([]ProductDTO, 0, len(records))
	for i := range records {
		out = append(out, toDTO(&records[i]))
	}
	return out
}
