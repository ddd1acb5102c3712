package wallet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
	"github.com/grocerlane/grocerlane-backend/pkg/enums"
	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
	"github.com/grocerlane/grocerlane-backend/pkg/pagination"
	"github.com/grocerlane/grocerlane-backend/pkg/types"
)

type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// fakeRepository keeps a customer table and an append-only entry log in
// memory, mirroring the conditional balance update semantics of the real
// repository.
type fakeRepository struct {
	customers map[uuid.UUID]*models.Customer
	entries   []models.WalletTransaction

	appendErr        error
	conflictsToServe int
	clock            time.Time
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		customers: make(map[uuid.UUID]*models.Customer),
		clock:     time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepository) addCustomer(balance string) uuid.UUID {
	id := uuid.New()
	f.customers[id] = &models.Customer{
		ID:            id,
		Name:          "Test Customer",
		Phone:         fmt.Sprintf("98%s", id.String()[:8]),
		WalletBalance: decimal.RequireFromString(balance),
	}
	return id
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Append(ctx context.Context, entry *models.WalletTransaction) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.clock = f.clock.Add(time.Second)
	entry.CreatedAt = f.clock
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].CustomerID == customerID {
			out = append(out, f.entries[i])
		}
	}
	limit := pagination.LimitWithBuffer(params.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].OrderID != nil && *f.entries[i].OrderID == orderID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeRepository) SumSignedAmounts(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, entry := range f.entries {
		if entry.CustomerID == customerID {
			sum = sum.Add(entry.SignedAmount())
		}
	}
	return sum, nil
}

func (f *fakeRepository) FindCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	customer, ok := f.customers[customerID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *customer
	return &clone, nil
}

func (f *fakeRepository) UpdateBalance(ctx context.Context, customerID uuid.UUID, expected, next decimal.Decimal) error {
	if f.conflictsToServe > 0 {
		f.conflictsToServe--
		return ErrBalanceConflict
	}
	customer, ok := f.customers[customerID]
	if !ok {
		return ErrBalanceConflict
	}
	if !customer.WalletBalance.Equal(expected) {
		return ErrBalanceConflict
	}
	customer.WalletBalance = next
	return nil
}

func newTestService(t *testing.T, repo *fakeRepository) Service {
	t.Helper()
	svc, err := NewService(repo, &fakeTxRunner{}, nil, nil, 3, 0)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func requireBalance(t *testing.T, repo *fakeRepository, customerID uuid.UUID, want string) {
	t.Helper()
	customer := repo.customers[customerID]
	if !customer.WalletBalance.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("expected balance %s, got %s", want, customer.WalletBalance)
	}
}

func TestCreditIncreasesBalanceAndRecordsEntry(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("100")
	svc := newTestService(t, repo)

	result, err := svc.Credit(context.Background(), AdjustmentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("250.50"),
		Note:       "festival top-up",
	})
	if err != nil {
		t.Fatalf("Credit error: %v", err)
	}
	if !result.BalanceBefore.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("unexpected balance before: %s", result.BalanceBefore)
	}
	if !result.BalanceAfter.Equal(decimal.RequireFromString("350.50")) {
		t.Fatalf("unexpected balance after: %s", result.BalanceAfter)
	}
	if result.Transaction.Type != enums.TransactionTypeCredit {
		t.Fatalf("unexpected type %s", result.Transaction.Type)
	}
	if !result.Transaction.BalanceAfter.Equal(result.BalanceAfter) {
		t.Fatal("transaction snapshot must match the committed balance")
	}
	requireBalance(t, repo, customerID, "350.50")
}

func TestDebitRejectsInsufficientFundsWithoutCommitting(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("100")
	svc := newTestService(t, repo)

	_, err := svc.Debit(context.Background(), AdjustmentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("250"),
		Note:       "too much",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds) {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}

	details, ok := pkgerrors.As(err).Details().(InsufficientFundsDetails)
	if !ok {
		t.Fatalf("expected insufficiency details, got %T", pkgerrors.As(err).Details())
	}
	if !details.Available.Equal(decimal.RequireFromString("100")) || !details.Required.Equal(decimal.RequireFromString("250")) {
		t.Fatalf("unexpected details: %+v", details)
	}

	if len(repo.entries) != 0 {
		t.Fatalf("no transaction may exist after a declined debit, found %d", len(repo.entries))
	}
	requireBalance(t, repo, customerID, "100")
}

func TestCreditThenDebitReturnsToOriginalBalance(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("500")
	svc := newTestService(t, repo)
	ctx := context.Background()
	amount := decimal.RequireFromString("75.25")

	if _, err := svc.Credit(ctx, AdjustmentInput{CustomerID: customerID, Amount: amount, Note: "in"}); err != nil {
		t.Fatalf("Credit error: %v", err)
	}
	if _, err := svc.Debit(ctx, AdjustmentInput{CustomerID: customerID, Amount: amount, Note: "out"}); err != nil {
		t.Fatalf("Debit error: %v", err)
	}

	requireBalance(t, repo, customerID, "500")
	if len(repo.entries) != 2 {
		t.Fatalf("expected exactly two transactions, got %d", len(repo.entries))
	}
	if repo.entries[0].Type == repo.entries[1].Type {
		t.Fatal("expected opposite transaction types")
	}
	if !repo.entries[0].Amount.Equal(repo.entries[1].Amount) {
		t.Fatal("expected matching amounts")
	}
}

func TestDebitUnknownCustomer(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo)

	_, err := svc.Debit(context.Background(), AdjustmentInput{
		CustomerID: uuid.New(),
		Amount:     decimal.RequireFromString("10"),
		Note:       "ghost",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestAdjustmentValidation(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("100")
	svc := newTestService(t, repo)

	tests := []struct {
		name  string
		input AdjustmentInput
	}{
		{"missing customer", AdjustmentInput{Amount: decimal.RequireFromString("10"), Note: "x"}},
		{"zero amount", AdjustmentInput{CustomerID: customerID, Amount: decimal.Zero, Note: "x"}},
		{"negative amount", AdjustmentInput{CustomerID: customerID, Amount: decimal.RequireFromString("-5"), Note: "x"}},
		{"missing note", AdjustmentInput{CustomerID: customerID, Amount: decimal.RequireFromString("10")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Credit(context.Background(), tc.input); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("credit: expected VALIDATION_ERROR, got %v", err)
			}
			if _, err := svc.Debit(context.Background(), tc.input); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("debit: expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestApplyOrderPaymentSnapshotsItems(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("1000")
	svc := newTestService(t, repo)
	orderID := uuid.New()

	items := []types.OrderItem{
		{Name: "Basmati Rice", Quantity: decimal.RequireFromString("2"), Unit: "kg", Price: decimal.RequireFromString("120")},
		{Name: "Milk", Quantity: decimal.RequireFromString("3"), Unit: "ltr", Price: decimal.RequireFromString("20")},
	}
	result, err := svc.ApplyOrderPayment(context.Background(), OrderPaymentInput{
		CustomerID: customerID,
		OrderID:    orderID,
		Amount:     decimal.RequireFromString("300"),
		Items:      items,
	})
	if err != nil {
		t.Fatalf("ApplyOrderPayment error: %v", err)
	}

	requireBalance(t, repo, customerID, "700")
	if result.Transaction.OrderID == nil || *result.Transaction.OrderID != orderID {
		t.Fatal("expected order linkage on the transaction")
	}
	meta, err := DecodeOrderPaymentMeta(result.Transaction.Metadata)
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if len(meta.ItemDetails) != 2 || meta.ItemDetails[0].Name != "Basmati Rice" {
		t.Fatalf("unexpected item snapshot: %+v", meta.ItemDetails)
	}
}

func TestReverseOrderTransactionsNoOp(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo)

	result, err := svc.ReverseOrderTransactions(context.Background(), uuid.New(), "nothing here")
	if err != nil {
		t.Fatalf("reversal of empty order must succeed, got %v", err)
	}
	if !result.NoOp() {
		t.Fatal("expected a no-op result")
	}
}

func TestReversalRestoresPreDebitBalance(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("1000")
	svc := newTestService(t, repo)
	ctx := context.Background()
	orderID := uuid.New()

	if _, err := svc.ApplyOrderPayment(ctx, OrderPaymentInput{
		CustomerID: customerID,
		OrderID:    orderID,
		Amount:     decimal.RequireFromString("300"),
	}); err != nil {
		t.Fatalf("ApplyOrderPayment error: %v", err)
	}
	requireBalance(t, repo, customerID, "700")

	result, err := svc.ReverseOrderTransactions(ctx, orderID, "cancelled by user")
	if err != nil {
		t.Fatalf("ReverseOrderTransactions error: %v", err)
	}
	if len(result.Reversed) != 1 {
		t.Fatalf("expected one reversal entry, got %d", len(result.Reversed))
	}
	reversal := result.Reversed[0]
	if reversal.Type != enums.TransactionTypeCredit {
		t.Fatalf("reversing a debit must credit, got %s", reversal.Type)
	}
	if !reversal.Amount.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("reversal amount mismatch: %s", reversal.Amount)
	}
	meta, err := DecodeReversalMeta(reversal.Metadata)
	if err != nil {
		t.Fatalf("decode reversal metadata: %v", err)
	}
	if !meta.IsReversal || meta.ReversalReason != "cancelled by user" {
		t.Fatalf("unexpected reversal metadata: %+v", meta)
	}
	requireBalance(t, repo, customerID, "1000")
}

func TestRecalculateForEditReversesThenReapplies(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("1000")
	svc := newTestService(t, repo)
	ctx := context.Background()
	orderID := uuid.New()

	if _, err := svc.ApplyOrderPayment(ctx, OrderPaymentInput{
		CustomerID: customerID,
		OrderID:    orderID,
		Amount:     decimal.RequireFromString("300"),
	}); err != nil {
		t.Fatalf("ApplyOrderPayment error: %v", err)
	}

	result, err := svc.RecalculateForEdit(ctx, RecalculateInput{
		CustomerID: customerID,
		OrderID:    orderID,
		NewAmount:  decimal.RequireFromString("500"),
	})
	if err != nil {
		t.Fatalf("RecalculateForEdit error: %v", err)
	}

	requireBalance(t, repo, customerID, "500")
	if len(result.Reversal.Reversed) != 1 {
		t.Fatalf("expected one reversal, got %d", len(result.Reversal.Reversed))
	}
	if !result.Reversal.PreviousNet.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("expected previous net 300, got %s", result.Reversal.PreviousNet)
	}
	if result.Payment == nil || !result.Payment.Transaction.Amount.Equal(decimal.RequireFromString("500")) {
		t.Fatal("expected a fresh 500 debit")
	}

	meta, err := DecodeOrderPaymentMeta(result.Payment.Transaction.Metadata)
	if err != nil {
		t.Fatalf("decode payment metadata: %v", err)
	}
	if meta.OriginalAmount == nil || !meta.OriginalAmount.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("expected original amount 300 in metadata, got %+v", meta.OriginalAmount)
	}

	entries, err := svc.ListOrderTransactions(ctx, orderID)
	if err != nil {
		t.Fatalf("ListOrderTransactions error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected debit 300, credit 300, debit 500; got %d entries", len(entries))
	}
}

func TestRecalculateForEditToZeroLeavesOrderUnpaid(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("1000")
	svc := newTestService(t, repo)
	ctx := context.Background()
	orderID := uuid.New()

	if _, err := svc.ApplyOrderPayment(ctx, OrderPaymentInput{
		CustomerID: customerID,
		OrderID:    orderID,
		Amount:     decimal.RequireFromString("300"),
	}); err != nil {
		t.Fatalf("ApplyOrderPayment error: %v", err)
	}

	result, err := svc.RecalculateForEdit(ctx, RecalculateInput{
		CustomerID: customerID,
		OrderID:    orderID,
		NewAmount:  decimal.Zero,
	})
	if err != nil {
		t.Fatalf("RecalculateForEdit error: %v", err)
	}
	if result.Payment != nil {
		t.Fatal("zero amount must not produce a payment")
	}
	requireBalance(t, repo, customerID, "1000")
}

func TestEditThenCancelScenario(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("1000")
	svc := newTestService(t, repo)
	ctx := context.Background()
	orderID := uuid.New()

	if _, err := svc.ApplyOrderPayment(ctx, OrderPaymentInput{
		CustomerID: customerID,
		OrderID:    orderID,
		Amount:     decimal.RequireFromString("300"),
	}); err != nil {
		t.Fatalf("ApplyOrderPayment error: %v", err)
	}
	if _, err := svc.RecalculateForEdit(ctx, RecalculateInput{
		CustomerID: customerID,
		OrderID:    orderID,
		NewAmount:  decimal.RequireFromString("500"),
	}); err != nil {
		t.Fatalf("RecalculateForEdit error: %v", err)
	}
	requireBalance(t, repo, customerID, "500")

	result, err := svc.ReverseOrderTransactions(ctx, orderID, "cancelled by user")
	if err != nil {
		t.Fatalf("ReverseOrderTransactions error: %v", err)
	}
	if len(result.Reversed) != 1 {
		t.Fatalf("only the outstanding 500 debit should reverse, got %d entries", len(result.Reversed))
	}
	requireBalance(t, repo, customerID, "1000")

	entries, err := svc.ListOrderTransactions(ctx, orderID)
	if err != nil {
		t.Fatalf("ListOrderTransactions error: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries (debit 300, credit 300, debit 500, credit 500), got %d", len(entries))
	}

	net, err := svc.OutstandingOrderNet(ctx, orderID)
	if err != nil {
		t.Fatalf("OutstandingOrderNet error: %v", err)
	}
	if !net.IsZero() {
		t.Fatalf("fully reversed order must have zero outstanding net, got %s", net)
	}
}

func TestReversalPartialFailureReportsIncomplete(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("1000")
	svc := newTestService(t, repo)
	ctx := context.Background()
	orderID := uuid.New()

	// Two separate outstanding debits for the same order.
	if _, err := svc.ApplyOrderPayment(ctx, OrderPaymentInput{
		CustomerID: customerID, OrderID: orderID, Amount: decimal.RequireFromString("100"),
	}); err != nil {
		t.Fatalf("first payment error: %v", err)
	}
	if _, err := svc.Debit(ctx, AdjustmentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("150"),
		Note:       "delivery surcharge",
		OrderID:    &orderID,
	}); err != nil {
		t.Fatalf("second debit error: %v", err)
	}

	// Fail the append after one reversal entry has committed.
	svcRepo := &failingAppendRepo{fakeRepository: repo, failFrom: len(repo.entries) + 1}
	failingSvc, err := NewService(svcRepo, &fakeTxRunner{}, nil, nil, 3, 0)
	if err != nil {
		t.Fatalf("service error: %v", err)
	}

	result, err := failingSvc.ReverseOrderTransactions(ctx, orderID, "order edited")
	if !pkgerrors.HasCode(err, pkgerrors.CodeReversalIncomplete) {
		t.Fatalf("expected REVERSAL_INCOMPLETE, got %v", err)
	}
	if len(result.Reversed) != 1 {
		t.Fatalf("expected one committed reversal before the failure, got %d", len(result.Reversed))
	}
}

// failingAppendRepo lets the first appends through and fails afterwards,
// simulating storage loss partway through a multi-entry reversal.
type failingAppendRepo struct {
	*fakeRepository
	failFrom int
}

func (f *failingAppendRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *failingAppendRepo) Append(ctx context.Context, entry *models.WalletTransaction) error {
	if len(f.entries) >= f.failFrom {
		return fmt.Errorf("connection reset")
	}
	return f.fakeRepository.Append(ctx, entry)
}

func TestCommitRetriesOnBalanceConflict(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("100")
	repo.conflictsToServe = 2
	svc := newTestService(t, repo)

	result, err := svc.Credit(context.Background(), AdjustmentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("50"),
		Note:       "retry me",
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !result.BalanceAfter.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("unexpected balance after: %s", result.BalanceAfter)
	}
}

func TestCommitGivesUpAfterRetryBudget(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("100")
	repo.conflictsToServe = 100
	svc := newTestService(t, repo)

	_, err := svc.Credit(context.Background(), AdjustmentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("50"),
		Note:       "contended",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT after exhausted retries, got %v", err)
	}
	if len(repo.entries) != 0 {
		t.Fatal("no transaction may commit when the balance update never succeeds")
	}
}

func TestListCustomerTransactionsPaginates(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("0")
	svc := newTestService(t, repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Credit(ctx, AdjustmentInput{
			CustomerID: customerID,
			Amount:     decimal.RequireFromString("10"),
			Note:       fmt.Sprintf("top-up %d", i),
		}); err != nil {
			t.Fatalf("Credit error: %v", err)
		}
	}

	page, err := svc.ListCustomerTransactions(ctx, customerID, pagination.Params{Limit: 3})
	if err != nil {
		t.Fatalf("ListCustomerTransactions error: %v", err)
	}
	if len(page.Transactions) != 3 {
		t.Fatalf("expected page of 3, got %d", len(page.Transactions))
	}
	if page.NextCursor == "" {
		t.Fatal("expected next cursor with more rows available")
	}
	// Newest first: the last credit shows up first.
	if page.Transactions[0].Note != "top-up 4" {
		t.Fatalf("expected newest entry first, got %q", page.Transactions[0].Note)
	}
}

// deadlineObservingRepo records the deadline the commit cycle runs under.
type deadlineObservingRepo struct {
	*fakeRepository
	sawDeadline bool
	deadline    time.Time
}

func (d *deadlineObservingRepo) WithTx(tx *gorm.DB) Repository { return d }

func (d *deadlineObservingRepo) FindCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	d.deadline, d.sawDeadline = ctx.Deadline()
	return d.fakeRepository.FindCustomer(ctx, customerID)
}

func TestCommitRunsUnderOperationTimeout(t *testing.T) {
	repo := newFakeRepository()
	customerID := repo.addCustomer("100")
	obs := &deadlineObservingRepo{fakeRepository: repo}

	svc, err := NewService(obs, &fakeTxRunner{}, nil, nil, 3, 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	if _, err := svc.Credit(context.Background(), AdjustmentInput{
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("50"),
		Note:       "festival top-up",
	}); err != nil {
		t.Fatalf("Credit error: %v", err)
	}

	if !obs.sawDeadline {
		t.Fatal("expected the commit cycle to carry a deadline")
	}
	if remaining := time.Until(obs.deadline); remaining > 2*time.Second {
		t.Fatalf("deadline further out than the configured timeout: %v", remaining)
	}
}
