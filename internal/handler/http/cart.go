package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront-cart/internal/cart"
	"github.com/utafrali/storefront-cart/internal/domain"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/httputil"
	"github.com/utafrali/storefront-cart/pkg/logger"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

// StoreProvider returns the cart store for a session. *session.Registry
// satisfies it.
type StoreProvider interface {
	Store(ctx context.Context, sessionID string) (*cart.Store, error)
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	stores StoreProvider
	logger *slog.Logger
}

func NewCartHandler(stores StoreProvider, logger *slog.Logger) *CartHandler {
	return &CartHandler{stores: stores, logger: logger}
}

// --- Request DTOs ---

type AddItemRequest struct {
	ProductID int `json:"product_id" validate:"required,gt=0"`
}

// UpdateAmountRequest carries the new absolute amount. Amounts of zero or
// less are accepted and ignored.
type UpdateAmountRequest struct {
	Amount int `json:"amount"`
}

// CartView is the response body for every cart endpoint.
type CartView struct {
	Items     domain.Cart     `json:"items"`
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

func newCartView(c domain.Cart) CartView {
	if c == nil {
		c = domain.Cart{}
	}
	return CartView{Items: c, ItemCount: c.ItemCount(), Subtotal: c.Subtotal()}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newCartView(store.Cart())})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	c, err := store.Add(r.Context(), req.ProductID)
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newCartView(c)})
}

// UpdateAmount handles PUT /api/v1/cart/items/{productId}
func (h *CartHandler) UpdateAmount(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParsePositiveInt(w, "productId", chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	var req UpdateAmountRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	c, err := store.UpdateAmount(r.Context(), productID, req.Amount)
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newCartView(c)})
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParsePositiveInt(w, "productId", chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	c, err := store.Remove(r.Context(), productID)
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newCartView(c)})
}

// --- Helpers ---

func (h *CartHandler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	store, err := h.stores.Store(r.Context(), logger.SessionIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return nil, false
	}
	return store, true
}

// writeCartError maps a *cart.Error onto the response envelope. The message
// is the text the storefront shows in its toast.
func (h *CartHandler) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	var cartErr *cart.Error
	if !errors.As(err, &cartErr) {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteError(w, r, toAppError(cartErr), h.logger)
}

func toAppError(e *cart.Error) *apperrors.AppError {
	msg := e.Message()
	switch e.Kind {
	case cart.KindOutOfStock:
		return apperrors.OutOfStock(msg)
	case cart.KindProductNotFound:
		return &apperrors.AppError{
			Code:    "PRODUCT_NOT_FOUND",
			Message: msg,
			Status:  http.StatusNotFound,
			Err:     errors.Join(apperrors.ErrNotFound, e),
		}
	}

	switch e.Op {
	case cart.OpAdd:
		return apperrors.Upstream("ADD_FAILED", msg, e)
	case cart.OpUpdateAmount:
		return apperrors.Upstream("UPDATE_FAILED", msg, e)
	default:
		appErr := apperrors.Internal(e, msg)
		appErr.Code = "REMOVE_FAILED"
		return appErr
	}
}
