package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sahelpay/sahelpay/internal/api/middleware"
	"github.com/sahelpay/sahelpay/internal/api/problem"
	"github.com/sahelpay/sahelpay/internal/domain"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an RFC 7807 error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondDomainError maps a service failure onto an HTTP status and problem
// type. Unclassified errors become opaque 500s so internals never leak.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	switch de.Kind {
	case domain.KindValidation:
		RespondError(w, r, http.StatusBadRequest, "request/validation", de.Message)
	case domain.KindNotFound:
		RespondError(w, r, http.StatusNotFound, "resource/not-found", de.Message)
	case domain.KindState:
		RespondError(w, r, http.StatusConflict, "resource/invalid-state", de.Message)
	case domain.KindInsufficientFunds:
		RespondError(w, r, http.StatusUnprocessableEntity, "wallet/insufficient-funds", de.Message)
	case domain.KindDuplicateOperation:
		RespondError(w, r, http.StatusConflict, "idempotency/key-conflict", de.Message)
	case domain.KindPermission:
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", de.Message)
	default:
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}
	return actorID, middleware.UserRoleFromContext(r.Context()) == domain.RoleAdmin, nil
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}
