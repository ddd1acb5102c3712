package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
)

// Projector exposes the cached wallet balance and the audit recomputation
// used to detect drift between the cache and the transaction history.
type Projector interface {
	CurrentBalance(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error)
	Reconcile(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error)
}

type projector struct {
	repo Repository
}

// NewProjector wires a balance projector with the provided repository.
func NewProjector(repo Repository) (Projector, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	return &projector{repo: repo}, nil
}

// CurrentBalance returns the cached balance field on the customer record.
// It never replays history; that is Reconcile's job.
func (p *projector) CurrentBalance(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	if customerID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	customer, err := p.repo.FindCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer balance")
	}
	return customer.WalletBalance, nil
}

// Reconcile recomputes the balance by summing the signed transaction history.
// A mismatch against CurrentBalance indicates ledger drift; Reconcile itself
// mutates nothing.
func (p *projector) Reconcile(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	if customerID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	sum, err := p.repo.SumSignedAmounts(ctx, customerID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum wallet transactions")
	}
	return sum, nil
}
