package handler

import (
	"net/http"

	"github.com/ayo6706/seller-ledger/internal/service"
	"github.com/google/uuid"
)

// WalletHandler serves wallet balances and ledger history.
type WalletHandler struct {
	ledger *service.LedgerService
}

func NewWalletHandler(ledger *service.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetOwnWallet handles GET /v1/wallet
func (h *WalletHandler) GetOwnWallet(w http.ResponseWriter, r *http.Request) {
	sellerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	h.writeWallet(w, r, sellerID)
}

// GetSellerWallet handles GET /v1/sellers/{sellerId}/wallet
func (h *WalletHandler) GetSellerWallet(w http.ResponseWriter, r *http.Request) {
	sellerID, err := pathUUID(r, "sellerId")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.writeWallet(w, r, sellerID)
}

// ListOwnLedger handles GET /v1/ledger?limit=&cursor=
func (h *WalletHandler) ListOwnLedger(w http.ResponseWriter, r *http.Request) {
	sellerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	h.writeLedger(w, r, sellerID)
}

// ListSellerLedger handles GET /v1/sellers/{sellerId}/ledger?limit=&cursor=
func (h *WalletHandler) ListSellerLedger(w http.ResponseWriter, r *http.Request) {
	sellerID, err := pathUUID(r, "sellerId")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.writeLedger(w, r, sellerID)
}

func (h *WalletHandler) writeWallet(w http.ResponseWriter, r *http.Request, sellerID uuid.UUID) {
	wallet, err := h.ledger.GetWallet(r.Context(), sellerID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) writeLedger(w http.ResponseWriter, r *http.Request, sellerID uuid.UUID) {
	limit, err := queryLimit(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	page, err := h.ledger.ListEntries(r.Context(), sellerID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, page)
}
