package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grocerlane/grocerlane-backend/internal/orders"
	"github.com/grocerlane/grocerlane-backend/pkg/enums"
	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
)

func jsonBody(payload string) io.Reader {
	return strings.NewReader(payload)
}

type stubOrderService struct {
	orders.Service

	createFn func(ctx context.Context, input orders.CreateInput) (*orders.OrderResult, error)
	cancelFn func(ctx context.Context, orderID uuid.UUID, reason string) (*orders.OrderResult, error)
	statusFn func(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*orders.OrderDTO, error)
}

func (s *stubOrderService) Create(ctx context.Context, input orders.CreateInput) (*orders.OrderResult, error) {
	return s.createFn(ctx, input)
}

func (s *stubOrderService) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*orders.OrderResult, error) {
	return s.cancelFn(ctx, orderID, reason)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*orders.OrderDTO, error) {
	return s.statusFn(ctx, orderID, status)
}

func TestOrderCreateReturnsPaymentOutcome(t *testing.T) {
	customerID := uuid.New()
	svc := &stubOrderService{
		createFn: func(_ context.Context, input orders.CreateInput) (*orders.OrderResult, error) {
			if input.CustomerID != customerID {
				t.Fatalf("unexpected customer id %s", input.CustomerID)
			}
			if len(input.Items) != 1 || input.Items[0].Name != "rice" {
				t.Fatalf("unexpected items %+v", input.Items)
			}
			return &orders.OrderResult{
				Order: orders.OrderDTO{
					ID:            uuid.New(),
					CustomerID:    customerID,
					TotalAmount:   decimal.NewFromInt(120),
					Status:        enums.OrderStatusPending,
					PaymentStatus: enums.PaymentStatusWalletSettled,
				},
				PaymentOutcome: orders.PaymentOutcomeFullyPaid,
			}, nil
		},
	}

	body := `{"customer_id":"` + customerID.String() + `","items":[{"name":"rice","quantity":"2","unit":"kg","price":"60"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(body))
	resp := httptest.NewRecorder()
	OrderCreate(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data orderOperationResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.PaymentOutcome != orders.PaymentOutcomeFullyPaid {
		t.Fatalf("expected fully_paid got %s", envelope.Data.PaymentOutcome)
	}
	if envelope.Data.PaymentError != nil {
		t.Fatalf("expected no payment error, got %s", *envelope.Data.PaymentError)
	}
}

func TestOrderCreateSurfacesDeclinedPayment(t *testing.T) {
	customerID := uuid.New()
	svc := &stubOrderService{
		createFn: func(_ context.Context, _ orders.CreateInput) (*orders.OrderResult, error) {
			return &orders.OrderResult{
				Order: orders.OrderDTO{
					ID:            uuid.New(),
					CustomerID:    customerID,
					PaymentStatus: enums.PaymentStatusUnpaid,
				},
				PaymentOutcome: orders.PaymentOutcomeUnpaid,
				PaymentError:   pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance"),
			}, nil
		},
	}

	body := `{"customer_id":"` + customerID.String() + `","items":[{"name":"dal","quantity":"1","unit":"kg","price":"900"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(body))
	resp := httptest.NewRecorder()
	OrderCreate(svc, nil).ServeHTTP(resp, req)

	// The order persists, so the declined wallet payment is still a 201.
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data orderOperationResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.PaymentOutcome != orders.PaymentOutcomeUnpaid {
		t.Fatalf("expected unpaid got %s", envelope.Data.PaymentOutcome)
	}
	if envelope.Data.PaymentError == nil {
		t.Fatalf("expected payment error message in payload")
	}
}

func TestOrderCreateRejectsEmptyItems(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(_ context.Context, _ orders.CreateInput) (*orders.OrderResult, error) {
			t.Fatal("service should not run on invalid payload")
			return nil, nil
		},
	}

	body := `{"customer_id":"` + uuid.NewString() + `","items":[]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(body))
	resp := httptest.NewRecorder()
	OrderCreate(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOrderCancelWithoutBodyUsesDefaultReason(t *testing.T) {
	orderID := uuid.New()
	var gotReason string
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, id uuid.UUID, reason string) (*orders.OrderResult, error) {
			if id != orderID {
				t.Fatalf("unexpected order id %s", id)
			}
			gotReason = reason
			return &orders.OrderResult{
				Order:          orders.OrderDTO{ID: orderID, Status: enums.OrderStatusCancelled},
				PaymentOutcome: orders.PaymentOutcomeReversed,
			}, nil
		},
	}

	req := urlParamRequest(http.MethodPost, "/api/v1/orders/x/cancel", "orderId", orderID.String(), "")
	resp := httptest.NewRecorder()
	OrderCancel(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if gotReason != "" {
		t.Fatalf("expected empty reason passed through, got %q", gotReason)
	}
}

func TestOrderCancelReversalIncompleteKeepsErrorStatus(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, _ uuid.UUID, _ string) (*orders.OrderResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeReversalIncomplete, "reversed 1 of 2 order transactions")
		},
	}

	req := urlParamRequest(http.MethodPost, "/api/v1/orders/x/cancel", "orderId", orderID.String(),
		`{"reason":"customer moved"}`)
	resp := httptest.NewRecorder()
	OrderCancel(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeReversalIncomplete) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
}

func TestOrderUpdateStatusParsesBody(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrderService{
		statusFn: func(_ context.Context, id uuid.UUID, status enums.OrderStatus) (*orders.OrderDTO, error) {
			if status != enums.OrderStatusConfirmed {
				t.Fatalf("unexpected status %s", status)
			}
			return &orders.OrderDTO{ID: id, Status: status}, nil
		},
	}

	req := urlParamRequest(http.MethodPost, "/api/v1/orders/x/status", "orderId", orderID.String(),
		`{"status":"confirmed"}`)
	resp := httptest.NewRecorder()
	OrderUpdateStatus(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOrderUpdateStatusStateConflict(t *testing.T) {
	svc := &stubOrderService{
		statusFn: func(_ context.Context, _ uuid.UUID, _ enums.OrderStatus) (*orders.OrderDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, `cannot move order from "delivered" to "confirmed"`)
		},
	}

	req := urlParamRequest(http.MethodPost, "/api/v1/orders/x/status", "orderId", uuid.NewString(),
		`{"status":"confirmed"}`)
	resp := httptest.NewRecorder()
	OrderUpdateStatus(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", resp.Code, resp.Body.String())
	}
}
