package handler

import (
	"io"
	"net/http"

	"github.com/ayo6706/seller-ledger/internal/service"
)

const signatureHeader = "X-Intake-Signature"

// IntakeHandler receives orders pushed by the storefront.
type IntakeHandler struct {
	intake *service.IntakeService
}

func NewIntakeHandler(intake *service.IntakeService) *IntakeHandler {
	return &IntakeHandler{intake: intake}
}

// AcceptOrder handles POST /v1/intake/orders
// The raw body is signed, so it is read verbatim before decoding.
func (h *IntakeHandler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	res, err := h.intake.AcceptOrder(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	RespondJSON(w, status, res)
}
