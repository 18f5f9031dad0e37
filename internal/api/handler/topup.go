package handler

import (
	"net/http"

	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/service"
)

type TopupHandler struct {
	svc *service.TopupService
}

func NewTopupHandler(svc *service.TopupService) *TopupHandler {
	return &TopupHandler{svc: svc}
}

// Create buys airtime for a subscriber number, debiting the authenticated
// user's wallet.
func (h *TopupHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		Phone  string `json:"phone"`
		Amount string `json:"amount"`
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

	entry, err := h.svc.Topup(r.Context(), service.TopupCmd{
		UserID:         actorID,
		Phone:          req.Phone,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, entry)
}
