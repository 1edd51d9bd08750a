package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/furever-cart/internal/common"
	"github.com/noah-isme/furever-cart/internal/pricing"
)

const maxBodyBytes = 1 << 20

// Handler wires cart services to HTTP.
type Handler struct {
	Svc       *Service
	Formatter pricing.Formatter
	Validate  *validator.Validate
}

// Middlewares are applied to specific cart routes.
type Middlewares struct {
	// CouponLimit wraps POST /{id}/coupon.
	CouponLimit func(http.Handler) http.Handler
	// Idempotency wraps POST /{id}/items.
	Idempotency func(http.Handler) http.Handler
}

type itemPayload struct {
	ID    string `json:"id" validate:"omitempty,max=64"`
	Title string `json:"title" validate:"required,max=200"`
	Image string `json:"image" validate:"omitempty,max=2048"`
}

type quantityPayload struct {
	Qty *int `json:"qty" validate:"required,min=0"`
}

type couponPayload struct {
	Code string `json:"code" validate:"max=64"`
}

// Routes mounts the cart endpoints on r.
func (h *Handler) Routes(r chi.Router, mw Middlewares) {
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Clear)
		r.With(optional(mw.Idempotency)).Post("/items", h.AddItem)
		r.Post("/items/undo", h.Undo)
		r.Patch("/items/{itemId}", h.UpdateItem)
		r.Delete("/items/{itemId}", h.RemoveItem)
		r.With(optional(mw.CouponLimit)).Post("/coupon", h.ApplyCoupon)
		r.Delete("/coupon", h.ClearCoupon)
	})
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// Create starts a new cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Create(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, map[string]any{"cartId": view.ID, "cart": h.render(view)})
}

// Get returns cart contents and pricing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, view, err)
}

// Clear removes every line item.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Clear(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, view, err)
}

// AddItem adds or merges a line item. Malformed price or quantity is normalized.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	var payload itemPayload
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.AddItem(r.Context(), chi.URLParam(r, "id"), pricing.ItemFromRaw(raw))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, h.render(view))
}

// UpdateItem sets the quantity of a line; zero removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload quantityPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.SetQuantity(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), *payload.Qty)
	h.respond(w, view, err)
}

// RemoveItem deletes a line item; it can be restored with Undo for a short while.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"))
	h.respond(w, view, err)
}

// Undo restores the last removed line item.
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.UndoRemove(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, view, err)
}

// ApplyCoupon resolves a coupon code for the cart.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var payload couponPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		h.writeError(w, err)
		return
	}
	res, view, err := h.Svc.ApplyCoupon(r.Context(), chi.URLParam(r, "id"), payload.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body := h.render(view)
	body["resolution"] = map[string]any{
		"outcome": res.Outcome.String(),
		"message": res.Message,
	}
	common.Data(w, http.StatusOK, body)
}

// ClearCoupon removes the active coupon.
func (h *Handler) ClearCoupon(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.ClearCoupon(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, view, err)
}

func (h *Handler) respond(w http.ResponseWriter, view View, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, h.render(view))
}

func (h *Handler) render(v View) map[string]any {
	items := make([]map[string]any, 0, len(v.Items))
	for _, it := range v.Items {
		items = append(items, map[string]any{
			"id":        it.ID,
			"title":     it.Title,
			"category":  it.Category,
			"image":     it.Image,
			"price":     it.Price,
			"qty":       it.Quantity,
			"lineTotal": it.LineTotal(),
			"display":   h.Formatter.Format(it.LineTotal()),
		})
	}
	return map[string]any{
		"id":          v.ID,
		"items":       items,
		"pricing":     v.Summary,
		"display":     h.Formatter.FormatSummary(v.Summary),
		"currency":    h.Formatter.Currency,
		"coupon":      v.Coupon,
		"couponInput": v.CouponInput,
		"status":      v.Status,
		"canUndo":     v.CanUndo,
	}
}

func (h *Handler) validate(v any) error {
	validate := h.Validate
	if validate == nil {
		validate = validator.New()
	}
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		return common.BadRequest("validation failed", fields)
	}
	return common.BadRequest("invalid payload", nil)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrNothingToUndo):
		common.JSONError(w, http.StatusConflict, "NOTHING_TO_UNDO", err.Error(), nil)
	case errors.Is(err, ErrClosed):
		common.JSONError(w, http.StatusConflict, "CART_CLOSED", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process cart", nil)
	}
}

