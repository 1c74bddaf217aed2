package http

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/access"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
)

const IdempotencyKeyHeader = "Idempotency-Key"

const (
	ResultCreated          = "CREATED"
	ResultIdempotentReplay = "IDEMPOTENT_REPLAY"
)

type ItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity"`
}

// Quantity and emptiness of Items are checked by the ledger so that they come
// back as invalid line items rather than generic validation failures.
type CreateOrderRequest struct {
	CustomerID string        `json:"customer_id" validate:"required,uuid"`
	Items      []ItemRequest `json:"items" validate:"dive"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft pending shipping paid completed cancelled"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=unpaid paid"`
}

type CreateOrderResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	TotalAmount int64     `json:"total_amount"`
	Status      string    `json:"status"`
}

type LineItemResponse struct {
	ID           uuid.UUID `json:"id"`
	ProductID    uuid.UUID `json:"product_id"`
	Quantity     int       `json:"quantity"`
	PriceAtOrder int64     `json:"price_at_order"`
	Subtotal     int64     `json:"subtotal"`
}

type OrderResponse struct {
	ID            uuid.UUID          `json:"id"`
	CustomerID    uuid.UUID          `json:"customer_id"`
	SaleID        uuid.UUID          `json:"sale_id"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"payment_status"`
	TotalAmount   int64              `json:"total_amount"`
	Items         []LineItemResponse `json:"items"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
	Count  int             `json:"count"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &OrderHandler{
		service:  service,
		validate: validate,
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Patch("/orders/{id}/status", h.handleSetOrderStatus)
	router.Patch("/orders/{id}/payment-status", h.handleSetPaymentStatus)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	in := order.CreateOrderInput{
		CustomerID:     uuid.FromStringOrNil(requestPayload.CustomerID),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
		Items:          make([]order.ItemRequest, 0, len(requestPayload.Items)),
	}
	for _, item := range requestPayload.Items {
		in.Items = append(in.Items, order.ItemRequest{
			ProductID: uuid.FromStringOrNil(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	result, err := h.service.CreateOrder(r.Context(), access.PrincipalFrom(r.Context()), in)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	responsePayload := CreateOrderResponse{
		OrderID:     result.OrderID,
		TotalAmount: result.TotalAmount,
		Status:      ResultCreated,
	}
	code := http.StatusCreated
	if result.Replayed {
		responsePayload.Status = ResultIdempotentReplay
		code = http.StatusOK
	}

	respondWithJSON(w, code, responsePayload)
}

func (h *OrderHandler) handleSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateStatusRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	err := h.service.SetOrderStatus(r.Context(), access.PrincipalFrom(r.Context()), orderID, order.Status(requestPayload.Status))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handleSetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var requestPayload UpdatePaymentStatusRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	err := h.service.SetPaymentStatus(r.Context(), access.PrincipalFrom(r.Context()), orderID, order.PaymentStatus(requestPayload.PaymentStatus))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), access.PrincipalFrom(r.Context()), orderID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(found))
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter order.ListFilter

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			log.Warn().Err(err).Str(name, raw).Msg("Failed to parse pagination parameter")
			respondWithError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
			return
		}
		*dst = n
	}

	if raw := query.Get("customer_id"); raw != "" {
		id, err := uuid.FromString(raw)
		if err != nil {
			log.Warn().Err(err).Str("customer_id", raw).Msg("Failed to parse customer_id parameter")
			respondWithError(w, http.StatusBadRequest, "Invalid customer_id parameter")
			return
		}
		filter.CustomerID = uuid.NullUUID{UUID: id, Valid: true}
	}
	filter.Status = order.Status(query.Get("status"))

	orders, err := h.service.ListOrders(r.Context(), access.PrincipalFrom(r.Context()), filter)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	responsePayload := ListOrdersResponse{
		Orders: make([]OrderResponse, 0, len(orders)),
		Count:  len(orders),
	}
	for i := range orders {
		responsePayload.Orders = append(responsePayload.Orders, toOrderResponse(&orders[i]))
	}

	respondWithJSON(w, http.StatusOK, responsePayload)
}

func (h *OrderHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return false
	}

	respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   "Validation failed",
		Details: formatValidationErrors(validationErrors),
	})
	return false
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return orderID, true
}

func toOrderResponse(o *order.Order) OrderResponse {
	resp := OrderResponse{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		SaleID:        o.SaleID,
		Status:        o.Status.String(),
		PaymentStatus: o.PaymentStatus.String(),
		TotalAmount:   o.TotalAmount,
		Items:         make([]LineItemResponse, 0, len(o.Items)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, li := range o.Items {
		resp.Items = append(resp.Items, LineItemResponse{
			ID:           li.ID,
			ProductID:    li.ProductID,
			Quantity:     li.Quantity,
			PriceAtOrder: li.PriceAtOrder,
			Subtotal:     li.Subtotal(),
		})
	}
	return resp
}
