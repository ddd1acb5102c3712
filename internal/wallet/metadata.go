package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
	"github.com/grocerlane/grocerlane-backend/pkg/types"
)

// MetadataKind discriminates the jsonb metadata payload on a transaction.
type MetadataKind string

const (
	MetadataKindOrderPayment     MetadataKind = "order_payment"
	MetadataKindReversal         MetadataKind = "reversal"
	MetadataKindManualAdjustment MetadataKind = "manual_adjustment"
)

// OrderPaymentMeta snapshots the items a payment covered. OriginalAmount and
// AdjustmentReason are set when the payment replaces a reversed one during an
// order edit.
type OrderPaymentMeta struct {
	Kind             MetadataKind      `json:"kind"`
	ItemDetails      []types.OrderItem `json:"item_details"`
	OriginalAmount   *decimal.Decimal  `json:"original_amount,omitempty"`
	AdjustmentReason *string           `json:"adjustment_reason,omitempty"`
}

// ReversalMeta links a reversal entry to the transaction it undoes.
type ReversalMeta struct {
	Kind                  MetadataKind `json:"kind"`
	OriginalTransactionID uuid.UUID    `json:"original_transaction_id"`
	ReversalReason        string       `json:"reversal_reason"`
	IsReversal            bool         `json:"is_reversal"`
}

// ManualAdjustmentMeta marks an admin credit/debit with no order linkage.
type ManualAdjustmentMeta struct {
	Kind       MetadataKind `json:"kind"`
	AdjustedBy string       `json:"adjusted_by,omitempty"`
}

func marshalMeta(kind MetadataKind, meta any) (json.RawMessage, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("encode %s metadata", kind))
	}
	return raw, nil
}

// EncodeOrderPaymentMeta serializes an order payment metadata payload.
func EncodeOrderPaymentMeta(meta OrderPaymentMeta) (json.RawMessage, error) {
	meta.Kind = MetadataKindOrderPayment
	return marshalMeta(MetadataKindOrderPayment, meta)
}

// EncodeReversalMeta serializes a reversal metadata payload.
func EncodeReversalMeta(meta ReversalMeta) (json.RawMessage, error) {
	meta.Kind = MetadataKindReversal
	meta.IsReversal = true
	return marshalMeta(MetadataKindReversal, meta)
}

// EncodeManualAdjustmentMeta serializes a manual adjustment metadata payload.
func EncodeManualAdjustmentMeta(meta ManualAdjustmentMeta) (json.RawMessage, error) {
	meta.Kind = MetadataKindManualAdjustment
	return marshalMeta(MetadataKindManualAdjustment, meta)
}

type metadataEnvelope struct {
	Kind MetadataKind `json:"kind"`
}

// MetadataKindOf sniffs the discriminator without decoding the full payload.
func MetadataKindOf(raw json.RawMessage) MetadataKind {
	if len(raw) == 0 {
		return ""
	}
	var envelope metadataEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.Kind
}

// DecodeReversalMeta decodes raw metadata as a reversal payload.
func DecodeReversalMeta(raw json.RawMessage) (*ReversalMeta, error) {
	if MetadataKindOf(raw) != MetadataKindReversal {
		return nil, fmt.Errorf("metadata is not a reversal payload")
	}
	var meta ReversalMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode reversal metadata: %w", err)
	}
	return &meta, nil
}

// DecodeOrderPaymentMeta decodes raw metadata as an order payment payload.
func DecodeOrderPaymentMeta(raw json.RawMessage) (*OrderPaymentMeta, error) {
	if MetadataKindOf(raw) != MetadataKindOrderPayment {
		return nil, fmt.Errorf("metadata is not an order payment payload")
	}
	var meta OrderPaymentMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode order payment metadata: %w", err)
	}
	return &meta, nil
}
