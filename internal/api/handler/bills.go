package handler

import (
	"net/http"

	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/service"
)

type BillHandler struct {
	svc *service.BillService
}

func NewBillHandler(svc *service.BillService) *BillHandler {
	return &BillHandler{svc: svc}
}

// Pay settles a utility bill from the authenticated user's wallet.
func (h *BillHandler) Pay(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		Category string `json:"category"`
		Account  string `json:"account"`
		Amount   string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	entry, err := h.svc.PayBill(r.Context(), service.BillPayCmd{
		UserID:         actorID,
		Category:       req.Category,
		Account:        req.Account,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, entry)
}
