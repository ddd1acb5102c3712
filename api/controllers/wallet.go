package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/grocerlane/grocerlane-backend/api/responses"
	"github.com/grocerlane/grocerlane-backend/api/validators"
	walletsvc "github.com/grocerlane/grocerlane-backend/internal/wallet"
	"github.com/grocerlane/grocerlane-backend/pkg/db/models"
	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
	"github.com/grocerlane/grocerlane-backend/pkg/logger"
)

type walletAdjustmentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Note   string          `json:"note" validate:"required,min=1,max=500"`
}

type walletTransactionResponse struct {
	Transaction   *models.WalletTransaction `json:"transaction"`
	BalanceBefore decimal.Decimal           `json:"balance_before"`
	BalanceAfter  decimal.Decimal           `json:"balance_after"`
}

type walletBalanceResponse struct {
	CustomerID string          `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
}

type walletReconcileResponse struct {
	CustomerID        string          `json:"customer_id"`
	CachedBalance     decimal.Decimal `json:"cached_balance"`
	ComputedBalance   decimal.Decimal `json:"computed_balance"`
	BalancesReconcile bool            `json:"balances_reconcile"`
}

// WalletCredit tops up a customer's wallet.
func WalletCredit(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		customerID, err := validators.ParseURLUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload walletAdjustmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Credit(r.Context(), walletsvc.AdjustmentInput{
			CustomerID: customerID,
			Amount:     payload.Amount,
			Note:       payload.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, walletTransactionResponse{
			Transaction:   result.Transaction,
			BalanceBefore: result.BalanceBefore,
			BalanceAfter:  result.BalanceAfter,
		})
	}
}

// WalletDebit withdraws from a customer's wallet. An insufficient balance is
// rejected outright; only order payments may degrade instead of failing.
func WalletDebit(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		customerID, err := validators.ParseURLUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload walletAdjustmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Debit(r.Context(), walletsvc.AdjustmentInput{
			CustomerID: customerID,
			Amount:     payload.Amount,
			Note:       payload.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, walletTransactionResponse{
			Transaction:   result.Transaction,
			BalanceBefore: result.BalanceBefore,
			BalanceAfter:  result.BalanceAfter,
		})
	}
}

// WalletTransactions pages through a customer's ledger history, newest first.
func WalletTransactions(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := validators.ParseURLUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListCustomerTransactions(r.Context(), customerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// OrderWalletTransactions lists the full ledger trail an order produced,
// reversals included.
func OrderWalletTransactions(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.ListOrderTransactions(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"transactions": entries})
	}
}

// WalletBalance returns the cached balance field without replaying history.
func WalletBalance(proj walletsvc.Projector, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if proj == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet projector unavailable"))
			return
		}

		customerID, err := validators.ParseURLUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := proj.CurrentBalance(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletBalanceResponse{
			CustomerID: customerID.String(),
			Balance:    balance,
		})
	}
}

// WalletReconcile recomputes the balance from the transaction history and
// reports it next to the cached value so drift is visible.
func WalletReconcile(proj walletsvc.Projector, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if proj == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet projector unavailable"))
			return
		}

		customerID, err := validators.ParseURLUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cached, err := proj.CurrentBalance(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		computed, err := proj.Reconcile(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !cached.Equal(computed) && logg != nil {
			lctx := logg.WithFields(r.Context(), map[string]any{
				"customer_id":      customerID,
				"cached_balance":   cached,
				"computed_balance": computed,
			})
			logg.Warn(lctx, "wallet.balance.drift")
		}

		responses.WriteSuccess(w, walletReconcileResponse{
			CustomerID:        customerID.String(),
			CachedBalance:     cached,
			ComputedBalance:   computed,
			BalancesReconcile: cached.Equal(computed),
		})
	}
}
