package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-booking/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodeJSON decodes the request body into v and runs its validate tags.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return err
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, SuccessResponse(message, data))
}

func WriteError(w http.ResponseWriter, status int, message string, err error) {
	WriteJSON(w, status, ErrorResponse(message, err.Error()))
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrBookingNotFound),
		errors.Is(err, models.ErrTicketNotFound),
		errors.Is(err, models.ErrTicketTypeNotFound),
		errors.Is(err, models.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientInventory),
		errors.Is(err, models.ErrTicketTypeOffSale),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrHoldNotFound),
		errors.Is(err, models.ErrAlreadyCheckedIn):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrOrderLimitExceeded),
		errors.Is(err, models.ErrCurrencyMismatch),
		errors.Is(err, models.ErrInvalidDiscount),
		errors.Is(err, models.ErrUnknownPaymentMethod),
		errors.Is(err, models.ErrNoPaymentSession):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPaymentAdapterUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
