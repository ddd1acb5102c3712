package wallet

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
	"github.com/grocerlane/grocerlane-backend/pkg/pagination"
)

// ErrBalanceConflict signals that the conditional balance update lost a race
// against a concurrent wallet operation for the same customer.
var ErrBalanceConflict = errors.New("wallet: balance changed concurrently")

// Repository manages persistence for wallet transactions and the cached
// customer balance. Transactions are append-only: nothing here updates or
// deletes a committed entry.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entry *models.WalletTransaction) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) ([]models.WalletTransaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletTransaction, error)
	SumSignedAmounts(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error)
	FindCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error)
	UpdateBalance(ctx context.Context, customerID uuid.UUID, expected, next decimal.Decimal) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var entries []models.WalletTransaction
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletTransaction, error) {
	var entries []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) SumSignedAmounts(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	var raw sql.NullString
	err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("CAST(COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0) AS TEXT)").
		Where("customer_id = ?", customerID).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !raw.Valid || raw.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw.String)
}

func (r *repository) FindCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("id = ?", customerID).
		First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpdateBalance applies a compare-and-swap on the cached balance. A miss means
// another operation committed between our read and write; the caller retries
// the whole read-compute-write cycle.
func (r *repository) UpdateBalance(ctx context.Context, customerID uuid.UUID, expected, next decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("id = ? AND wallet_balance = ?", customerID, expected).
		Update("wallet_balance", next)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceConflict
	}
	return nil
}
