package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
	"github.com/grocerlane/grocerlane-backend/pkg/enums"
	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
	"github.com/grocerlane/grocerlane-backend/pkg/logger"
	"github.com/grocerlane/grocerlane-backend/pkg/metrics"
	"github.com/grocerlane/grocerlane-backend/pkg/pagination"
	"github.com/grocerlane/grocerlane-backend/pkg/types"
)

const (
	defaultBalanceConflictRetries = 3
	defaultOperationTimeout       = 10 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the only code path allowed to create wallet transactions and
// mutate the cached customer balance. Every operation commits the balance
// write and the transaction insert as one database transaction; the balance
// write is conditional on the previously-read value and the whole cycle is
// retried on conflict, so concurrent operations against one customer
// serialize instead of double-spending.
type Service interface {
	Credit(ctx context.Context, input AdjustmentInput) (*LedgerResult, error)
	Debit(ctx context.Context, input AdjustmentInput) (*LedgerResult, error)
	ApplyOrderPayment(ctx context.Context, input OrderPaymentInput) (*LedgerResult, error)
	ReverseOrderTransactions(ctx context.Context, orderID uuid.UUID, reason string) (*ReversalResult, error)
	RecalculateForEdit(ctx context.Context, input RecalculateInput) (*RecalculationResult, error)
	OutstandingOrderNet(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
	ListCustomerTransactions(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*TransactionPage, error)
	ListOrderTransactions(ctx context.Context, orderID uuid.UUID) ([]models.WalletTransaction, error)
}

// AdjustmentInput drives a manual credit or debit.
type AdjustmentInput struct {
	CustomerID uuid.UUID
	Amount     decimal.Decimal
	Note       string
	OrderID    *uuid.UUID
	Metadata   json.RawMessage
}

// OrderPaymentInput drives the order-linked debit wrapper.
type OrderPaymentInput struct {
	CustomerID uuid.UUID
	OrderID    uuid.UUID
	Amount     decimal.Decimal
	Items      []types.OrderItem
}

// RecalculateInput drives the reverse-then-reapply flow used by order edits.
type RecalculateInput struct {
	CustomerID uuid.UUID
	OrderID    uuid.UUID
	NewAmount  decimal.Decimal
	Items      []types.OrderItem
	Reason     string
}

// LedgerResult reports a single committed transaction with the balance
// observed before and after it.
type LedgerResult struct {
	Transaction   *models.WalletTransaction
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// ReversalResult reports the reversal entries committed for an order.
// PreviousNet is the net amount the order had debited before the reversal
// (credits the order produced count negative).
type ReversalResult struct {
	Reversed    []models.WalletTransaction
	PreviousNet decimal.Decimal
}

// NoOp reports whether the reversal found nothing outstanding to undo.
func (r *ReversalResult) NoOp() bool {
	return r == nil || len(r.Reversed) == 0
}

// RecalculationResult combines the reversal and the fresh payment an order
// edit produces. Payment is nil when the new amount is zero or the fresh
// debit was declined.
type RecalculationResult struct {
	Reversal *ReversalResult
	Payment  *LedgerResult
}

// TransactionPage is a newest-first page of a customer's history.
type TransactionPage struct {
	Transactions []models.WalletTransaction `json:"transactions"`
	NextCursor   string                     `json:"next_cursor,omitempty"`
}

// InsufficientFundsDetails is attached to INSUFFICIENT_FUNDS errors.
type InsufficientFundsDetails struct {
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
}

type service struct {
	repo    Repository
	tx      txRunner
	logg    *logger.Logger
	metrics *metrics.WalletMetrics
	retries int
	timeout time.Duration
}

// NewService wires the ledger service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger, walletMetrics *metrics.WalletMetrics, conflictRetries int, operationTimeout time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if conflictRetries <= 0 {
		conflictRetries = defaultBalanceConflictRetries
	}
	if operationTimeout <= 0 {
		operationTimeout = defaultOperationTimeout
	}
	return &service{
		repo:    repo,
		tx:      tx,
		logg:    logg,
		metrics: walletMetrics,
		retries: conflictRetries,
		timeout: operationTimeout,
	}, nil
}

func (s *service) Credit(ctx context.Context, input AdjustmentInput) (*LedgerResult, error) {
	if err := validateAdjustment(input); err != nil {
		return nil, err
	}
	meta := input.Metadata
	if meta == nil {
		encoded, err := EncodeManualAdjustmentMeta(ManualAdjustmentMeta{})
		if err != nil {
			return nil, err
		}
		meta = encoded
	}
	return s.commitEntry(ctx, "credit", entrySpec{
		customerID: input.CustomerID,
		txType:     enums.TransactionTypeCredit,
		amount:     input.Amount,
		note:       input.Note,
		orderID:    input.OrderID,
		metadata:   meta,
	})
}

func (s *service) Debit(ctx context.Context, input AdjustmentInput) (*LedgerResult, error) {
	if err := validateAdjustment(input); err != nil {
		return nil, err
	}
	meta := input.Metadata
	if meta == nil {
		encoded, err := EncodeManualAdjustmentMeta(ManualAdjustmentMeta{})
		if err != nil {
			return nil, err
		}
		meta = encoded
	}
	return s.commitEntry(ctx, "debit", entrySpec{
		customerID: input.CustomerID,
		txType:     enums.TransactionTypeDebit,
		amount:     input.Amount,
		note:       input.Note,
		orderID:    input.OrderID,
		metadata:   meta,
	})
}

// ApplyOrderPayment debits the order amount with an item-detail snapshot in
// the metadata. Callers decide what an INSUFFICIENT_FUNDS result means for
// the order; no transaction exists in that case.
func (s *service) ApplyOrderPayment(ctx context.Context, input OrderPaymentInput) (*LedgerResult, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	meta, err := EncodeOrderPaymentMeta(OrderPaymentMeta{ItemDetails: input.Items})
	if err != nil {
		return nil, err
	}
	orderID := input.OrderID
	return s.commitEntry(ctx, "order_payment", entrySpec{
		customerID: input.CustomerID,
		txType:     enums.TransactionTypeDebit,
		amount:     input.Amount,
		note:       fmt.Sprintf("payment for order %s", orderID),
		orderID:    &orderID,
		metadata:   meta,
	})
}

// ReverseOrderTransactions undoes every outstanding transaction tied to an
// order by committing opposite-type entries of equal amount. Entries that are
// themselves reversals, or that a prior reversal already references, are
// skipped. An order with nothing outstanding is a successful no-op.
//
// Each reversal commits independently; when one fails the method stops and
// reports REVERSAL_INCOMPLETE without rolling back the entries already
// committed. The partial state stays visible in the ledger for manual
// reconciliation.
func (s *service) ReverseOrderTransactions(ctx context.Context, orderID uuid.UUID, reason string) (*ReversalResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if reason == "" {
		reason = "order reversal"
	}

	entries, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order transactions")
	}

	outstanding := outstandingEntries(entries)
	result := &ReversalResult{PreviousNet: signedNet(outstanding).Neg()}
	if len(outstanding) == 0 {
		return result, nil
	}

	// Oldest first so the reversal entries mirror the original order.
	for i := len(outstanding) - 1; i >= 0; i-- {
		original := outstanding[i]
		meta, err := EncodeReversalMeta(ReversalMeta{
			OriginalTransactionID: original.ID,
			ReversalReason:        reason,
		})
		if err != nil {
			return result, err
		}

		committed, err := s.commitEntry(ctx, "reversal", entrySpec{
			customerID: original.CustomerID,
			txType:     original.Type.Opposite(),
			amount:     original.Amount,
			note:       fmt.Sprintf("reversal: %s", reason),
			orderID:    original.OrderID,
			metadata:   meta,
		})
		if err != nil {
			if s.logg != nil {
				lctx := s.logg.WithOrderID(ctx, orderID.String())
				s.logg.Error(lctx, "wallet.reversal.partial_failure", err)
			}
			return result, pkgerrors.Wrap(
				pkgerrors.CodeReversalIncomplete,
				err,
				fmt.Sprintf("reversed %d of %d order transactions", len(result.Reversed), len(outstanding)),
			).WithDetails(map[string]any{
				"order_id":               orderID,
				"reversed_count":         len(result.Reversed),
				"outstanding_count":      len(outstanding),
				"failed_transaction_id":  original.ID,
				"failed_transaction_amt": original.Amount,
			})
		}
		result.Reversed = append(result.Reversed, *committed.Transaction)
	}
	return result, nil
}

// RecalculateForEdit reverses the order's outstanding transactions and, when
// the new amount is positive, applies a fresh payment. Reverse-then-reapply
// keeps the full before/after audit trail per edit instead of collapsing it
// into a delta entry.
func (s *service) RecalculateForEdit(ctx context.Context, input RecalculateInput) (*RecalculationResult, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.NewAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must not be negative")
	}
	reason := input.Reason
	if reason == "" {
		reason = "order edited"
	}

	reversal, err := s.ReverseOrderTransactions(ctx, input.OrderID, reason)
	result := &RecalculationResult{Reversal: reversal}
	if err != nil {
		return result, err
	}

	if !input.NewAmount.IsPositive() {
		return result, nil
	}

	meta, err := EncodeOrderPaymentMeta(OrderPaymentMeta{
		ItemDetails:      input.Items,
		OriginalAmount:   &reversal.PreviousNet,
		AdjustmentReason: &reason,
	})
	if err != nil {
		return result, err
	}
	orderID := input.OrderID
	payment, err := s.commitEntry(ctx, "order_payment", entrySpec{
		customerID: input.CustomerID,
		txType:     enums.TransactionTypeDebit,
		amount:     input.NewAmount,
		note:       fmt.Sprintf("payment for order %s", orderID),
		orderID:    &orderID,
		metadata:   meta,
	})
	if err != nil {
		return result, err
	}
	result.Payment = payment
	return result, nil
}

// OutstandingOrderNet returns the net amount the order currently holds
// against the wallet (debits minus credits over outstanding entries).
func (s *service) OutstandingOrderNet(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	if orderID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	entries, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order transactions")
	}
	return signedNet(outstandingEntries(entries)).Neg(), nil
}

func (s *service) ListCustomerTransactions(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	entries, err := s.repo.ListByCustomer(ctx, customerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	page := &TransactionPage{Transactions: entries}
	if len(entries) > limit {
		page.Transactions = entries[:limit]
		last := page.Transactions[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) ListOrderTransactions(ctx context.Context, orderID uuid.UUID) ([]models.WalletTransaction, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	entries, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order transactions")
	}
	return entries, nil
}

type entrySpec struct {
	customerID uuid.UUID
	txType     enums.TransactionType
	amount     decimal.Decimal
	note       string
	orderID    *uuid.UUID
	metadata   json.RawMessage
}

func (s *service) commitEntry(ctx context.Context, operation string, spec entrySpec) (*LedgerResult, error) {
	// Bound every commit cycle so a stuck storage call cannot hold the
	// request open indefinitely.
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.commitWithRetry(ctx, spec)
	s.metrics.ObserveDuration(operation, time.Since(start))
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds) {
			s.metrics.IncInsufficientFunds()
		} else {
			s.metrics.IncFailed(operation)
		}
		return nil, err
	}
	s.metrics.IncCommitted(string(spec.txType))
	if s.logg != nil {
		lctx := s.logg.WithFields(ctx, map[string]any{
			"customer_id":   spec.customerID,
			"type":          spec.txType,
			"amount":        spec.amount,
			"balance_after": result.BalanceAfter,
		})
		s.logg.Info(lctx, "wallet.transaction.committed")
	}
	return result, nil
}

func (s *service) commitWithRetry(ctx context.Context, spec entrySpec) (*LedgerResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		result, err := s.commitOnce(ctx, spec)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrBalanceConflict) {
			return nil, err
		}
		s.metrics.IncBalanceConflict()
		lastErr = err
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "wallet balance contention persisted, giving up")
}

// commitOnce runs one read-compute-write cycle. The conditional balance
// update and the transaction insert share a database transaction, so a
// failure at any point leaves no partial entry behind.
func (s *service) commitOnce(ctx context.Context, spec entrySpec) (*LedgerResult, error) {
	var result *LedgerResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		customer, err := repo.FindCustomer(ctx, spec.customerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
		}

		before := customer.WalletBalance
		var after decimal.Decimal
		if spec.txType == enums.TransactionTypeDebit {
			if before.LessThan(spec.amount) {
				return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
					WithDetails(InsufficientFundsDetails{Available: before, Required: spec.amount})
			}
			after = before.Sub(spec.amount)
		} else {
			after = before.Add(spec.amount)
		}

		if err := repo.UpdateBalance(ctx, spec.customerID, before, after); err != nil {
			if errors.Is(err, ErrBalanceConflict) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
		}

		entry := &models.WalletTransaction{
			ID:           uuid.New(),
			CustomerID:   spec.customerID,
			OrderID:      spec.orderID,
			Type:         spec.txType,
			Amount:       spec.amount,
			Note:         spec.note,
			BalanceAfter: after,
			Metadata:     spec.metadata,
		}
		if err := repo.Append(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
		}

		result = &LedgerResult{
			Transaction:   entry,
			BalanceBefore: before,
			BalanceAfter:  after,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateAdjustment(input AdjustmentInput) error {
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Note == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "note is required")
	}
	return nil
}

// outstandingEntries filters an order's history down to entries that still
// have wallet effect: reversal entries and entries a reversal already
// references drop out.
func outstandingEntries(entries []models.WalletTransaction) []models.WalletTransaction {
	reversed := make(map[uuid.UUID]bool)
	for _, entry := range entries {
		if meta, err := DecodeReversalMeta(entry.Metadata); err == nil {
			reversed[meta.OriginalTransactionID] = true
		}
	}

	var outstanding []models.WalletTransaction
	for _, entry := range entries {
		if MetadataKindOf(entry.Metadata) == MetadataKindReversal {
			continue
		}
		if reversed[entry.ID] {
			continue
		}
		outstanding = append(outstanding, entry)
	}
	return outstanding
}

// signedNet sums entries with +credit, -debit semantics.
func signedNet(entries []models.WalletTransaction) decimal.Decimal {
	net := decimal.Zero
	for _, entry := range entries {
		net = net.Add(entry.SignedAmount())
	}
	return net
}
