package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/grocerlane/grocerlane-backend/internal/customers"
	"github.com/grocerlane/grocerlane-backend/internal/wallet"
	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
	"github.com/grocerlane/grocerlane-backend/pkg/enums"
	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
	"github.com/grocerlane/grocerlane-backend/pkg/logger"
	"github.com/grocerlane/grocerlane-backend/pkg/pagination"
	"github.com/grocerlane/grocerlane-backend/pkg/types"
)

// Service coordinates orders with the wallet ledger. The order row is the
// source of truth for what was sold; the wallet ledger is the source of
// truth for what was paid. An order commits even when its payment is
// declined, so a wallet shortfall degrades the outcome instead of failing
// the operation.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*OrderResult, error)
	Edit(ctx context.Context, orderID uuid.UUID, input EditInput) (*OrderResult, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*OrderResult, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*OrderDTO, error)
	Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*OrderPage, error)
}

type service struct {
	repo      Repository
	wallet    wallet.Service
	customers customers.Repository
	logg      *logger.Logger
}

// NewService wires the order coordinator with the required dependencies.
func NewService(repo Repository, walletSvc wallet.Service, customerRepo customers.Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if customerRepo == nil {
		return nil, fmt.Errorf("customer repository required")
	}
	return &service{
		repo:      repo,
		wallet:    walletSvc,
		customers: customerRepo,
		logg:      logg,
	}, nil
}

// Create persists the order first, then attempts wallet settlement. An
// insufficient balance leaves the order unpaid rather than rejecting it;
// the shopkeeper collects cash or tops up the wallet later.
func (s *service) Create(ctx context.Context, input CreateInput) (*OrderResult, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	items, err := validateItems(input.Items)
	if err != nil {
		return nil, err
	}

	if _, err := s.customers.GetByID(ctx, input.CustomerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}

	order := &models.Order{
		ID:            uuid.New(),
		CustomerID:    input.CustomerID,
		Items:         items,
		TotalAmount:   items.Total(),
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusUnpaid,
		Notes:         input.Notes,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	result := &OrderResult{Order: toDTO(order), PaymentOutcome: PaymentOutcomeUnpaid}
	payment, err := s.wallet.ApplyOrderPayment(ctx, wallet.OrderPaymentInput{
		CustomerID: order.CustomerID,
		OrderID:    order.ID,
		Amount:     order.TotalAmount,
		Items:      input.Items,
	})
	switch {
	case err == nil:
		result.Wallet = payment
		result.PaymentOutcome = PaymentOutcomeFullyPaid
		updated, uerr := s.repo.Update(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusWalletSettled,
		})
		if uerr != nil {
			// The debit committed but the order row still says unpaid; surface
			// the mismatch instead of hiding it.
			result.PaymentError = pkgerrors.Wrap(pkgerrors.CodeDependency, uerr, "record wallet settlement on order")
			if s.logg != nil {
				lctx := s.logg.WithOrderID(ctx, order.ID.String())
				s.logg.Error(lctx, "order.settlement_status.failed", uerr)
			}
		} else {
			result.Order = toDTO(updated)
		}
	case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds):
		result.PaymentError = err
	default:
		// The order committed; report the wallet failure without undoing it.
		result.PaymentError = err
		if s.logg != nil {
			lctx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Error(lctx, "order.payment.failed", err)
		}
	}

	if s.logg != nil {
		lctx := s.logg.WithFields(ctx, map[string]any{
			"order_id":        order.ID,
			"customer_id":     order.CustomerID,
			"total_amount":    order.TotalAmount,
			"payment_outcome": result.PaymentOutcome,
		})
		s.logg.Info(lctx, "order.created")
	}
	return result, nil
}

// Edit replaces the line items and reconciles the wallet against the new
// total. Settled funds matching the new total need no wallet work; an
// unpaid order retries settlement; anything else reverses and reapplies.
func (s *service) Edit(ctx context.Context, orderID uuid.UUID, input EditInput) (*OrderResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	items, err := validateItems(input.Items)
	if err != nil {
		return nil, err
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot edit an order in status %q", order.Status))
	}

	newTotal := items.Total()
	outstanding, err := s.wallet.OutstandingOrderNet(ctx, orderID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"items":        items,
		"total_amount": newTotal,
	}
	if input.Notes != nil {
		fields["notes"] = *input.Notes
	}

	result := &OrderResult{}
	switch {
	case outstanding.Equal(newTotal) && outstanding.IsPositive():
		result.PaymentOutcome = PaymentOutcomeNoAdjustmentNeeded

	case outstanding.IsZero():
		// Never settled (or fully reversed); try a fresh settlement.
		payment, perr := s.wallet.ApplyOrderPayment(ctx, wallet.OrderPaymentInput{
			CustomerID: order.CustomerID,
			OrderID:    orderID,
			Amount:     newTotal,
			Items:      input.Items,
		})
		switch {
		case perr == nil:
			result.Wallet = payment
			result.PaymentOutcome = PaymentOutcomeFullyPaid
			fields["payment_status"] = enums.PaymentStatusWalletSettled
		case pkgerrors.HasCode(perr, pkgerrors.CodeInsufficientFunds):
			result.PaymentOutcome = PaymentOutcomeUnpaid
			result.PaymentError = perr
		default:
			result.PaymentOutcome = PaymentOutcomeUnpaid
			result.PaymentError = perr
		}

	default:
		recalc, rerr := s.wallet.RecalculateForEdit(ctx, wallet.RecalculateInput{
			CustomerID: order.CustomerID,
			OrderID:    orderID,
			NewAmount:  newTotal,
			Items:      input.Items,
			Reason:     "order edited",
		})
		if recalc != nil {
			result.Reversal = recalc.Reversal
			result.Wallet = recalc.Payment
		}
		switch {
		case rerr == nil:
			result.PaymentOutcome = PaymentOutcomeFullyPaid
			fields["payment_status"] = enums.PaymentStatusWalletSettled
		case pkgerrors.HasCode(rerr, pkgerrors.CodeReversalIncomplete):
			// The ledger holds a partial reversal; persist the edit and
			// surface the failure for manual reconciliation.
			result.PaymentOutcome = PaymentOutcomeReversalIncomplete
			result.PaymentError = rerr
			updated, uerr := s.repo.Update(ctx, orderID, fields)
			if uerr != nil {
				if s.logg != nil {
					lctx := s.logg.WithOrderID(ctx, orderID.String())
					s.logg.Error(lctx, "order.edit.persist_failed", uerr)
				}
			} else {
				result.Order = toDTO(updated)
			}
			return result, rerr
		case pkgerrors.HasCode(rerr, pkgerrors.CodeInsufficientFunds):
			// Reversal stood; the fresh debit was declined.
			result.PaymentOutcome = PaymentOutcomeUnpaid
			result.PaymentError = rerr
			fields["payment_status"] = enums.PaymentStatusUnpaid
		default:
			return nil, rerr
		}
	}

	updated, err := s.repo.Update(ctx, orderID, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	result.Order = toDTO(updated)

	if s.logg != nil {
		lctx := s.logg.WithFields(ctx, map[string]any{
			"order_id":        orderID,
			"total_amount":    newTotal,
			"payment_outcome": result.PaymentOutcome,
		})
		s.logg.Info(lctx, "order.edited")
	}
	return result, nil
}

// Cancel reverses the order's wallet activity and marks it cancelled. When
// the reversal stops partway the order keeps its previous status so the
// partial ledger state stays visible.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*OrderResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by user"
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already cancelled")
	}

	reversal, err := s.wallet.ReverseOrderTransactions(ctx, orderID, reason)
	result := &OrderResult{Order: toDTO(order), Reversal: reversal}
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeReversalIncomplete) {
			result.PaymentOutcome = PaymentOutcomeReversalIncomplete
			result.PaymentError = err
			return result, err
		}
		return nil, err
	}

	fields := map[string]any{"status": enums.OrderStatusCancelled}
	if reversal.NoOp() {
		result.PaymentOutcome = PaymentOutcomeNoWalletActivity
	} else {
		result.PaymentOutcome = PaymentOutcomeReversed
		fields["payment_status"] = enums.PaymentStatusReversed
	}

	updated, err := s.repo.Update(ctx, orderID, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	result.Order = toDTO(updated)

	if s.logg != nil {
		lctx := s.logg.WithFields(ctx, map[string]any{
			"order_id":        orderID,
			"payment_outcome": result.PaymentOutcome,
			"reason":          reason,
		})
		s.logg.Info(lctx, "order.cancelled")
	}
	return result, nil
}

var allowedStatusTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusConfirmed, enums.OrderStatusDelivered},
	enums.OrderStatusConfirmed: {enums.OrderStatusDelivered},
}

// UpdateStatus advances the delivery lifecycle. Cancellation goes through
// Cancel, which also settles the wallet.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", status))
	}
	if status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "use the cancel operation to cancel an order")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(order.Status, status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %q to %q", order.Status, status))
	}

	updated, err := s.repo.Update(ctx, orderID, map[string]any{"status": status})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	dto := toDTO(updated)
	return &dto, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	dto := toDTO(order)
	return &dto, nil
}

func (s *service) List(ctx context.Context, filter ListFilter, params pagination.Params) (*OrderPage, error) {
	records, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	page := &OrderPage{Orders: toDTOs(records)}
	if len(records) > limit {
		page.Orders = page.Orders[:limit]
		last := records[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func validateItems(items []types.OrderItem) (types.OrderItems, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for i, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: name is required", i))
		}
		if !item.Quantity.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if item.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: price must not be negative", i))
		}
	}
	snapshot := types.OrderItems(items)
	if !snapshot.Total().IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	return snapshot, nil
}

func transitionAllowed(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
