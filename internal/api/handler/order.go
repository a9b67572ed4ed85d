package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/service"
	"github.com/google/uuid"
)

// OrderHandler handles order status changes and order reads.
type OrderHandler struct {
	orders *service.OrderService
}

func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// UpdateStatusBody represents the request body for PATCH /v1/orders/{id}/status.
type UpdateStatusBody struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=500"`
	// SellerID is honoured for admins only. Sellers always act on their own orders.
	SellerID string `json:"seller_id" validate:"omitempty,uuid"`
}

// OrderStatusResponse is returned when the status change committed but
// follow-up work is pending repair.
type OrderStatusResponse struct {
	Order   *models.Order `json:"order"`
	Warning string        `json:"warning"`
}

// UpdateStatus handles PATCH /v1/orders/{id}/status
// A committed change whose ledger or mirror follow-up failed is answered with
// 202 Accepted; the order is flagged and the repair worker finishes the job.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	orderID, err := pathUUID(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var body UpdateStatusBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		respondServiceError(w, r, err)
		return
	}
	status, err := domain.ParseOrderStatus(body.Status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	sellerID := actorID
	if isAdmin {
		sellerID, err = h.adminSellerScope(r, orderID, body.SellerID)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), service.UpdateOrderStatusRequest{
		OrderID:  orderID,
		SellerID: sellerID,
		Status:   status,
		Note:     body.Note,
		ActorID:  &actorID,
	})
	if errors.Is(err, domain.ErrReconciliationNeeded) && order != nil {
		RespondJSON(w, http.StatusAccepted, OrderStatusResponse{Order: order, Warning: err.Error()})
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

// adminSellerScope resolves the seller an admin acts for. Without an explicit
// seller_id the order's own seller is used.
func (h *OrderHandler) adminSellerScope(r *http.Request, orderID uuid.UUID, raw string) (uuid.UUID, error) {
	if raw != "" {
		return uuid.Parse(raw)
	}
	details, err := h.orders.GetOrder(r.Context(), orderID, nil)
	if err != nil {
		return uuid.Nil, err
	}
	return details.SellerID, nil
}

// GetOrder handles GET /v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	orderID, err := pathUUID(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var scope *uuid.UUID
	if !isAdmin {
		scope = &actorID
	}
	details, err := h.orders.GetOrder(r.Context(), orderID, scope)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, details)
}

// ListSellerOrders handles GET /v1/seller-orders?status=&limit=&cursor=
func (h *OrderHandler) ListSellerOrders(w http.ResponseWriter, r *http.Request) {
	sellerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	query := r.URL.Query()
	page, err := h.orders.ListSellerOrders(r.Context(), sellerID, query.Get("status"), limit, query.Get("cursor"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, page)
}
