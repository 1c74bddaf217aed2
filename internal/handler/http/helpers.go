package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/access"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondWithServiceError maps a ledger error to its status and client message.
func respondWithServiceError(w http.ResponseWriter, err error) {
	code := mapErrorToStatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("Ledger operation failed")
	} else {
		log.Warn().Err(err).Int("status", code).Msg("Ledger operation rejected")
	}
	respondWithError(w, code, clientMessage(err))
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrInvalidLineItems),
		errors.Is(err, order.ErrUnknownStatus):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrProductNotFound),
		errors.Is(err, order.ErrCustomerNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, order.ErrIdempotencyKeyConflict):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(err error) string {
	var productErr *order.ProductError
	var transitionErr *order.TransitionError
	var itemErr *order.LineItemError

	switch {
	case errors.Is(err, access.ErrUnauthorized):
		return "Authentication required"
	case errors.Is(err, access.ErrForbidden):
		return "Operation not permitted for this role"
	case errors.As(err, &itemErr):
		return "Invalid line items: " + itemErr.Reason
	case errors.Is(err, order.ErrInvalidLineItems):
		return "Invalid line items"
	case errors.Is(err, order.ErrUnknownStatus):
		return "Unknown status value"
	case errors.As(err, &productErr) && errors.Is(err, order.ErrProductNotFound):
		return fmt.Sprintf("Product %s not found", productErr.ProductID)
	case errors.Is(err, order.ErrProductNotFound):
		return "Product not found"
	case errors.Is(err, order.ErrCustomerNotFound):
		return "Customer not found"
	case errors.Is(err, order.ErrOrderNotFound):
		return "Order not found"
	case errors.As(err, &productErr) && errors.Is(err, order.ErrInsufficientStock):
		return fmt.Sprintf("Insufficient stock for product %s", productErr.ProductID)
	case errors.Is(err, order.ErrInsufficientStock):
		return "Insufficient stock"
	case errors.As(err, &transitionErr):
		return fmt.Sprintf("Cannot change order status from %s to %s", transitionErr.From, transitionErr.To)
	case errors.Is(err, order.ErrInvalidTransition):
		return "Invalid order status transition"
	case errors.Is(err, order.ErrIdempotencyKeyConflict):
		return "Idempotency key was already used for a different request"
	case errors.Is(err, order.ErrPersistence):
		return "Order storage is temporarily unavailable"
	default:
		return "Internal server error"
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "uuid":
			details[field] = "must be a valid UUID"
		case "oneof":
			details[field] = "must be one of: " + fe.Param()
		default:
			details[field] = fmt.Sprintf("failed on '%s' validation", fe.Tag())
		}
	}
	return details
}
