package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grocerlane/grocerlane-backend/api/responses"
	"github.com/grocerlane/grocerlane-backend/api/validators"
	ordersvc "github.com/grocerlane/grocerlane-backend/internal/orders"
	"github.com/grocerlane/grocerlane-backend/pkg/enums"
	pkgerrors "github.com/grocerlane/grocerlane-backend/pkg/errors"
	"github.com/grocerlane/grocerlane-backend/pkg/logger"
	"github.com/grocerlane/grocerlane-backend/pkg/types"
)

type orderItemRequest struct {
	Name     string          `json:"name" validate:"required,min=1,max=200"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
	Unit     string          `json:"unit" validate:"required,min=1,max=20"`
	Price    decimal.Decimal `json:"price" validate:"required"`
}

type createOrderRequest struct {
	CustomerID uuid.UUID          `json:"customer_id" validate:"required"`
	Items      []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	Notes      *string            `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type editOrderRequest struct {
	Items []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	Notes *string            `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// orderOperationResponse is the API shape of an order operation. The payment
// error is flattened to its message so the envelope stays serializable.
type orderOperationResponse struct {
	Order          ordersvc.OrderDTO       `json:"order"`
	PaymentOutcome ordersvc.PaymentOutcome `json:"payment_outcome"`
	PaymentError   *string                 `json:"payment_error,omitempty"`
}

func toOperationResponse(result *ordersvc.OrderResult) orderOperationResponse {
	resp := orderOperationResponse{
		Order:          result.Order,
		PaymentOutcome: result.PaymentOutcome,
	}
	if result.PaymentError != nil {
		msg := result.PaymentError.Error()
		resp.PaymentError = &msg
	}
	return resp
}

func toOrderItems(items []orderItemRequest) []types.OrderItem {
	out := make([]types.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, types.OrderItem{
			Name:     strings.TrimSpace(item.Name),
			Quantity: item.Quantity,
			Unit:     strings.TrimSpace(item.Unit),
			Price:    item.Price,
		})
	}
	return out
}

// OrderCreate places an order and attempts wallet settlement. The order
// commits even when the wallet declines; the payment outcome says which.
func OrderCreate(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), ordersvc.CreateInput{
			CustomerID: payload.CustomerID,
			Items:      toOrderItems(payload.Items),
			Notes:      payload.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toOperationResponse(result))
	}
}

// OrderEdit replaces the line items and reconciles the wallet. A partial
// reversal returns the committed state alongside the error so the client
// sees both.
func OrderEdit(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload editOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Edit(r.Context(), orderID, ordersvc.EditInput{
			Items: toOrderItems(payload.Items),
			Notes: payload.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOperationResponse(result))
	}
}

// OrderCancel reverses the order's wallet activity and marks it cancelled.
func OrderCancel(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Cancel(r.Context(), orderID, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOperationResponse(result))
	}
}

// OrderUpdateStatus advances the delivery lifecycle.
func OrderUpdateStatus(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateOrderStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.UpdateStatus(r.Context(), orderID, enums.OrderStatus(payload.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderDetail returns a single order.
func OrderDetail(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseURLUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderList pages through orders, optionally filtered by customer or status.
func OrderList(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filter ordersvc.ListFilter
		if raw := strings.TrimSpace(r.URL.Query().Get("customer_id")); raw != "" {
			customerID, perr := uuid.Parse(raw)
			if perr != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "customer_id must be a valid uuid"))
				return
			}
			filter.CustomerID = &customerID
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status := enums.OrderStatus(raw)
			if !status.IsValid() {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "status is not a valid order status"))
				return
			}
			filter.Status = &status
		}

		page, err := svc.List(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
