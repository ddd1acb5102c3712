package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
	"github.com/grocerlane/grocerlane-backend/pkg/enums"
	"github.com/grocerlane/grocerlane-backend/pkg/pagination"
)

func setupWalletTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	customers := `
CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  phone TEXT NOT NULL UNIQUE,
  address TEXT,
  wallet_balance TEXT NOT NULL DEFAULT '0',
  created_at DATETIME,
  updated_at DATETIME
);`
	walletTransactions := `
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  order_id TEXT,
  type TEXT NOT NULL,
  amount TEXT NOT NULL,
  note TEXT NOT NULL,
  balance_after TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(customers).Error)
	require.NoError(t, db.Exec(walletTransactions).Error)
	return db
}

func seedCustomer(t *testing.T, db *gorm.DB, balance string) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		ID:            uuid.New(),
		Name:          "Meera Iyer",
		Phone:         "98" + uuid.New().String()[:8],
		WalletBalance: decimal.RequireFromString(balance),
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func seedEntry(t *testing.T, db *gorm.DB, customerID uuid.UUID, orderID *uuid.UUID, txType enums.TransactionType, amount string, at time.Time) *models.WalletTransaction {
	t.Helper()

	entry := &models.WalletTransaction{
		ID:           uuid.New(),
		CustomerID:   customerID,
		OrderID:      orderID,
		Type:         txType,
		Amount:       decimal.RequireFromString(amount),
		Note:         "seeded",
		BalanceAfter: decimal.RequireFromString("0"),
		CreatedAt:    at,
	}
	require.NoError(t, db.Create(entry).Error)
	return entry
}

func TestAppendAndListByOrder(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customer := seedCustomer(t, db, "1000")
	orderID := uuid.New()

	entry := &models.WalletTransaction{
		ID:           uuid.New(),
		CustomerID:   customer.ID,
		OrderID:      &orderID,
		Type:         enums.TransactionTypeDebit,
		Amount:       decimal.RequireFromString("300"),
		Note:         "payment for order",
		BalanceAfter: decimal.RequireFromString("700"),
	}
	require.NoError(t, repo.Append(ctx, entry))

	entries, err := repo.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("300")))
	assert.Equal(t, enums.TransactionTypeDebit, entries[0].Type)

	other, err := repo.ListByOrder(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestListByCustomerOrdersNewestFirst(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customer := seedCustomer(t, db, "0")

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	first := seedEntry(t, db, customer.ID, nil, enums.TransactionTypeCredit, "10", base)
	second := seedEntry(t, db, customer.ID, nil, enums.TransactionTypeCredit, "20", base.Add(time.Minute))
	third := seedEntry(t, db, customer.ID, nil, enums.TransactionTypeDebit, "5", base.Add(2*time.Minute))

	entries, err := repo.ListByCustomer(ctx, customer.ID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, third.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
	assert.Equal(t, first.ID, entries[2].ID)
}

func TestListByCustomerCursorPagination(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customer := seedCustomer(t, db, "0")

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	var seeded []*models.WalletTransaction
	for i := 0; i < 5; i++ {
		seeded = append(seeded, seedEntry(t, db, customer.ID, nil, enums.TransactionTypeCredit, "10", base.Add(time.Duration(i)*time.Minute)))
	}

	firstPage, err := repo.ListByCustomer(ctx, customer.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	// LimitWithBuffer fetches one extra row for next-page detection.
	require.Len(t, firstPage, 3)

	cursor := pagination.EncodeCursor(pagination.Cursor{
		CreatedAt: firstPage[1].CreatedAt,
		ID:        firstPage[1].ID,
	})
	secondPage, err := repo.ListByCustomer(ctx, customer.ID, pagination.Params{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, secondPage, 3)
	assert.Equal(t, seeded[2].ID, secondPage[0].ID)
	assert.Equal(t, seeded[1].ID, secondPage[1].ID)
	assert.Equal(t, seeded[0].ID, secondPage[2].ID)
}

func TestSumSignedAmounts(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customer := seedCustomer(t, db, "0")

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedEntry(t, db, customer.ID, nil, enums.TransactionTypeCredit, "500", base)
	seedEntry(t, db, customer.ID, nil, enums.TransactionTypeDebit, "120.50", base.Add(time.Minute))
	seedEntry(t, db, customer.ID, nil, enums.TransactionTypeDebit, "30", base.Add(2*time.Minute))

	sum, err := repo.SumSignedAmounts(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("349.5")), "got %s", sum)
}

func TestSumSignedAmountsEmptyHistory(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)

	sum, err := repo.SumSignedAmounts(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestFindCustomer(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customer := seedCustomer(t, db, "42.50")

	found, err := repo.FindCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, found.ID)
	assert.True(t, found.WalletBalance.Equal(decimal.RequireFromString("42.50")))

	_, err = repo.FindCustomer(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateBalanceConditional(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customer := seedCustomer(t, db, "100")

	err := repo.UpdateBalance(ctx, customer.ID,
		decimal.RequireFromString("100"), decimal.RequireFromString("150"))
	require.NoError(t, err)

	found, err := repo.FindCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, found.WalletBalance.Equal(decimal.RequireFromString("150")))

	// Stale expectation loses the race and must not change anything.
	err = repo.UpdateBalance(ctx, customer.ID,
		decimal.RequireFromString("100"), decimal.RequireFromString("175"))
	assert.ErrorIs(t, err, ErrBalanceConflict)

	found, err = repo.FindCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, found.WalletBalance.Equal(decimal.RequireFromString("150")))
}

func TestWithTxSharesTransaction(t *testing.T) {
	db := setupWalletTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	customer := seedCustomer(t, db, "100")
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		scoped := repo.WithTx(tx)
		if err := scoped.UpdateBalance(ctx, customer.ID,
			decimal.RequireFromString("100"), decimal.RequireFromString("50")); err != nil {
			return err
		}
		return scoped.Append(ctx, &models.WalletTransaction{
			ID:           uuid.New(),
			CustomerID:   customer.ID,
			OrderID:      &orderID,
			Type:         enums.TransactionTypeDebit,
			Amount:       decimal.RequireFromString("50"),
			Note:         "tx scoped",
			BalanceAfter: decimal.RequireFromString("50"),
		})
	})
	require.NoError(t, err)

	found, err := repo.FindCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, found.WalletBalance.Equal(decimal.RequireFromString("50")))

	entries, err := repo.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
