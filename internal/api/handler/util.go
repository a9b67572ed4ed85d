package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/seller-ledger/internal/api/middleware"
	"github.com/ayo6706/seller-ledger/internal/api/problem"
	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	problem.Write(w, r, status, problemTypeURL(problemType), http.StatusText(status), message)
}

func problemTypeURL(problemType string) string {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		return problem.Type(problemType)
	}
	return problemType
}

// respondServiceError maps the domain error taxonomy onto problem responses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErr *fieldErrors
	switch {
	case errors.As(err, &fieldErr):
		problem.WriteDetails(w, r, problem.Details{
			Type:   problem.Type("validation"),
			Status: http.StatusBadRequest,
			Detail: fieldErr.Error(),
			Errors: fieldErr.fields,
		})
	case errors.Is(err, domain.ErrValidation):
		RespondError(w, r, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "not-found", "resource not found")
	case errors.Is(err, domain.ErrConcurrentModification):
		RespondError(w, r, http.StatusConflict, "concurrent-modification", err.Error())
	case errors.Is(err, domain.ErrAlreadyDecided):
		RespondError(w, r, http.StatusConflict, "withdrawal/already-decided", err.Error())
	case errors.Is(err, domain.ErrConflict):
		RespondError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		RespondError(w, r, http.StatusUnprocessableEntity, "invalid-transition", err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		RespondError(w, r, http.StatusUnprocessableEntity, "insufficient-balance", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "intake/invalid-signature", err.Error())
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err),
		)
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == middleware.RoleAdmin, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.Validationf("%s must be a valid uuid", name)
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, domain.Validationf("limit must be a non-negative integer")
	}
	return limit, nil
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
