package handler

import (
	"net/http"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/service"
	"github.com/google/uuid"
)

// WithdrawalHandler handles HTTP requests for seller withdrawals.
type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
}

func NewWithdrawalHandler(withdrawals *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

// CreateWithdrawalBody represents the request body for creating a withdrawal.
type CreateWithdrawalBody struct {
	Amount domain.Money `json:"amount" validate:"gt=0"`
	Note   string       `json:"note" validate:"max=500"`
}

// DecideWithdrawalBody represents an admin decision on a pending request.
type DecideWithdrawalBody struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected cancelled"`
	Note     string `json:"note" validate:"max=500"`
}

// NoteBody carries an optional free-text note.
type NoteBody struct {
	Note string `json:"note" validate:"max=500"`
}

// CreateWithdrawal handles POST /v1/withdrawals
// The amount is held immediately and the request awaits admin review.
func (h *WithdrawalHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	sellerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var body CreateWithdrawalBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		respondServiceError(w, r, err)
		return
	}

	wr, err := h.withdrawals.Request(r.Context(), service.CreateWithdrawalRequest{
		SellerID: sellerID,
		Amount:   body.Amount,
		Note:     body.Note,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, wr)
}

// DecideWithdrawal handles POST /v1/withdrawals/{id}/decision
func (h *WithdrawalHandler) DecideWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var body DecideWithdrawalBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		respondServiceError(w, r, err)
		return
	}

	wr, err := h.withdrawals.Decide(r.Context(), service.DecideWithdrawalRequest{
		RequestID: id,
		Decision:  domain.WithdrawalStatus(body.Decision),
		AdminID:   adminID,
		AdminNote: body.Note,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wr)
}

// StartProcessing handles POST /v1/withdrawals/{id}/processing
func (h *WithdrawalHandler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	adminID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	wr, err := h.withdrawals.MarkProcessing(r.Context(), id, adminID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wr)
}

// CancelWithdrawal handles POST /v1/withdrawals/{id}/cancel
// Sellers may cancel their own requests while they are still pending.
func (h *WithdrawalHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	sellerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var body NoteBody
	if r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &body); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	wr, err := h.withdrawals.CancelOwn(r.Context(), sellerID, id, body.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wr)
}

// GetWithdrawal handles GET /v1/withdrawals/{id}
// Sellers only see their own requests.
func (h *WithdrawalHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	wr, err := h.withdrawals.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !isAdmin && wr.SellerID != actorID {
		respondServiceError(w, r, domain.ErrNotFound)
		return
	}
	RespondJSON(w, http.StatusOK, wr)
}

// ListWithdrawals handles GET /v1/withdrawals?status=&limit=&cursor=
// Admins list across sellers and may narrow with seller_id.
func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
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
	req := service.ListWithdrawalsRequest{
		Status: query.Get("status"),
		Limit:  limit,
		Cursor: query.Get("cursor"),
	}
	switch {
	case !isAdmin:
		req.SellerID = &actorID
	case query.Get("seller_id") != "":
		sellerID, err := uuid.Parse(query.Get("seller_id"))
		if err != nil {
			respondServiceError(w, r, domain.Validationf("seller_id must be a valid uuid"))
			return
		}
		req.SellerID = &sellerID
	}

	page, err := h.withdrawals.List(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, page)
}
