package handler

import (
	"net/http"

	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/service"
)

type TransferHandler struct {
	svc *service.TransferService
}

func NewTransferHandler(svc *service.TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// Create executes a peer transfer from the authenticated user's wallet.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		Receiver string `json:"receiver"`
		Amount   string `json:"amount"`
		Note     string `json:"note"`
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

	transfer, err := h.svc.Transfer(r.Context(), service.TransferCmd{
		SenderUserID:   actorID,
		Receiver:       req.Receiver,
		Amount:         amount,
		Note:           req.Note,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, transfer)
}
