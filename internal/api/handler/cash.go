package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/sahelpay/sahelpay/internal/service"
)

type CashHandler struct {
	svc *service.CashService
}

func NewCashHandler(svc *service.CashService) *CashHandler {
	return &CashHandler{svc: svc}
}

// CashIn credits a customer wallet with cash handed to the authenticated
// agent. The caller must hold an active agent profile.
func (h *CashHandler) CashIn(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		Customer string `json:"customer"`
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

	op, err := h.svc.CashIn(r.Context(), service.CashInCmd{
		AgentUserID:    actorID,
		Customer:       req.Customer,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, op)
}

// CashOutRequest debits the authenticated user's wallet and returns the
// redemption token the customer hands to an agent.
func (h *CashHandler) CashOutRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
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

	op, err := h.svc.CashOutRequest(r.Context(), service.CashOutRequestCmd{
		CustomerUserID: actorID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, op)
}

// CashOutComplete redeems a token, binding the authenticated agent to the
// cash-out. Concurrent redemptions of the same token resolve to one winner.
func (h *CashHandler) CashOutComplete(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	op, err := h.svc.CashOutComplete(r.Context(), actorID, req.Token)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, op)
}

// TokenPreview lets an agent inspect a pending cash-out before paying out.
func (h *CashHandler) TokenPreview(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	op, err := h.svc.PendingCashOutToken(r.Context(), actorID, chi.URLParam(r, "token"))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, op)
}
