package booking_api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/payment"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 64 << 10

type BookingService interface {
	Start(ctx context.Context, req booking.StartRequest) (*models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	RequestPayment(ctx context.Context, bookingID string, method models.PaymentMethod) (*models.PaymentSessionResponse, error)
	PollPayment(ctx context.Context, bookingID string) (*models.Booking, error)
	ReportPayment(ctx context.Context, bookingID string, outcome models.PaymentOutcome) (*models.Booking, error)
	OnSessionResult(ctx context.Context, bookingID, sessionRef string, outcome models.PaymentOutcome) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, reason string) (*models.Booking, error)
}

type InventoryService interface {
	CreateTicketType(ctx context.Context, req models.CreateTicketTypeRequest) (*models.TicketType, error)
	Available(ctx context.Context, ticketTypeID string) (models.Availability, error)
	SetOnSale(ctx context.Context, ticketTypeID string, onSale bool) error
	EventTicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error)
}

// WebhookParser verifies and decodes provider webhooks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.WebhookResult, error)
}

type MethodLister interface {
	Methods() []models.PaymentMethod
}

type Handler struct {
	Bookings  BookingService
	Inventory InventoryService
	Webhooks  WebhookParser
	Methods   MethodLister
	Logger    *logger.Logger
}

func NewHandler(bookings BookingService, inv InventoryService, webhooks WebhookParser, methods MethodLister, log *logger.Logger) *Handler {
	return &Handler{
		Bookings:  bookings,
		Inventory: inv,
		Webhooks:  webhooks,
		Methods:   methods,
		Logger:    log,
	}
}

// Routes mounts the booking and ticket type endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Get("/{bookingID}", h.GetBooking)
		r.Post("/{bookingID}/payment", h.RequestPayment)
		r.Post("/{bookingID}/payment/poll", h.PollPayment)
		r.Post("/{bookingID}/payment-callback", h.PaymentCallback)
		r.Post("/{bookingID}/cancel", h.CancelBooking)
	})
	r.Post("/payments/stripe/webhook", h.StripeWebhook)
	r.Get("/payment-methods", h.ListPaymentMethods)

	r.Route("/ticket-types", func(r chi.Router) {
		r.Post("/", h.CreateTicketType)
		r.Get("/{ticketTypeID}/availability", h.GetAvailability)
		r.Put("/{ticketTypeID}/on-sale", h.SetOnSale)
	})
	r.Get("/events/{eventID}/ticket-types", h.ListEventTicketTypes)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrInvalidQuantity),
		errors.Is(err, booking.ErrInvalidAttendees),
		errors.Is(err, booking.ErrInvalidOutcome):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrPaymentInProgress):
		return http.StatusConflict
	}
	return utils.StatusFor(err)
}

func (h *Handler) fail(w http.ResponseWriter, op, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, status, message, err)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid booking request", err)
		return
	}

	b, err := h.Bookings.Start(r.Context(), booking.StartRequest{
		EventID:      req.EventID,
		Cart:         req.Cart,
		Buyer:        req.Buyer,
		DiscountCode: req.DiscountCode,
		Attendees:    req.Attendees,
	})
	if err != nil {
		h.fail(w, "CreateBooking", "Could not create booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Booking created", b)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.Get(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		h.fail(w, "GetBooking", "Could not fetch booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Booking fetched", b)
}

func (h *Handler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid payment request", err)
		return
	}

	session, err := h.Bookings.RequestPayment(r.Context(), chi.URLParam(r, "bookingID"), req.Method)
	if err != nil {
		h.fail(w, "RequestPayment", "Could not start payment", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payment session ready", session)
}

func (h *Handler) PollPayment(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.PollPayment(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		h.fail(w, "PollPayment", "Could not poll payment", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payment status checked", b)
}

// PaymentCallback applies a reported outcome. A repeat callback for a booking
// that already settled answers 200 with the booking as it stands.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	var req models.PaymentCallbackRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid payment callback", err)
		return
	}

	b, err := h.Bookings.ReportPayment(r.Context(), bookingID, req.Outcome)
	if errors.Is(err, models.ErrInvalidTransition) {
		if current, gerr := h.Bookings.Get(r.Context(), bookingID); gerr == nil && current.Status.Terminal() {
			h.Logger.Info("API", fmt.Sprintf("PaymentCallback: duplicate %s for %s booking %s", req.Outcome, current.Status, bookingID))
			utils.WriteSuccess(w, http.StatusOK, "Booking already settled", current)
			return
		}
	}
	if err != nil {
		h.fail(w, "PaymentCallback", "Could not apply payment result", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payment result applied", b)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CancelBookingRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.WriteError(w, http.StatusBadRequest, "Invalid cancel request", err)
			return
		}
	}

	b, err := h.Bookings.Cancel(r.Context(), chi.URLParam(r, "bookingID"), req.Reason)
	if err != nil {
		h.fail(w, "CancelBooking", "Could not cancel booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Booking cancelled", b)
}

// StripeWebhook verifies a Stripe event and feeds its outcome to the state
// machine. Repeats and unrelated event types are acknowledged with 200 so
// Stripe stops retrying them.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.Webhooks == nil {
		http.Error(w, "Stripe is not configured", http.StatusServiceUnavailable)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Could not read webhook body", http.StatusBadRequest)
		return
	}

	result, err := h.Webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var webhookErr *payment.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Warn("API", fmt.Sprintf("StripeWebhook: category=%s status=%d: %v", webhookErr.Category, webhookErr.StatusCode, err))
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: %v", err))
		http.Error(w, "Webhook processing error", http.StatusBadRequest)
		return
	}
	if result.Ignored {
		h.Logger.Debug("API", fmt.Sprintf("StripeWebhook: ignoring %s", result.EventType))
		w.WriteHeader(http.StatusOK)
		return
	}

	_, err = h.Bookings.OnSessionResult(r.Context(), result.BookingID, result.IntentID, result.Outcome)
	switch {
	case err == nil, errors.Is(err, models.ErrInvalidTransition):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, models.ErrHoldNotFound):
		// the booking was closed as expired; retrying cannot change that
		h.Logger.Warn("API", fmt.Sprintf("StripeWebhook: payment for booking %s arrived after its hold lapsed", result.BookingID))
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, models.ErrBookingNotFound):
		h.Logger.Warn("API", fmt.Sprintf("StripeWebhook: unknown booking %s", result.BookingID))
		w.WriteHeader(http.StatusOK)
	default:
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: booking %s: %v", result.BookingID, err))
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
	}
}

func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, "Payment methods", h.Methods.Methods())
}

func (h *Handler) CreateTicketType(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTicketTypeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid ticket type", err)
		return
	}
	if req.UnitPrice.IsNegative() {
		utils.WriteError(w, http.StatusBadRequest, "Invalid ticket type", errors.New("unit price must not be negative"))
		return
	}

	tt, err := h.Inventory.CreateTicketType(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateTicketType", "Could not create ticket type", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Ticket type created", tt)
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.Inventory.Available(r.Context(), chi.URLParam(r, "ticketTypeID"))
	if err != nil {
		h.fail(w, "GetAvailability", "Could not read availability", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Availability fetched", avail)
}

func (h *Handler) SetOnSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OnSale *bool `json:"on_sale" validate:"required"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid on-sale request", err)
		return
	}

	id := chi.URLParam(r, "ticketTypeID")
	if err := h.Inventory.SetOnSale(r.Context(), id, *req.OnSale); err != nil {
		h.fail(w, "SetOnSale", "Could not update ticket type", err)
		return
	}
	avail, err := h.Inventory.Available(r.Context(), id)
	if err != nil {
		h.fail(w, "SetOnSale", "Could not read availability", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket type updated", avail)
}

func (h *Handler) ListEventTicketTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Inventory.EventTicketTypes(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, "ListEventTicketTypes", "Could not list ticket types", err)
		return
	}
	if types == nil {
		types = []models.TicketType{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket types fetched", types)
}
