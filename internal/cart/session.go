package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/furever-cart/internal/coupon"
	"github.com/noah-isme/furever-cart/internal/obs"
	"github.com/noah-isme/furever-cart/internal/pricing"
)

// ErrNotFound indicates the requested cart or line item could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// ErrNothingToUndo is returned when no removal is pending or the undo window has passed.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrClosed is returned for operations on a closed session.
var ErrClosed = errors.New("cart session closed")

const (
	defaultUndoWindow = 4 * time.Second
	defaultMaxQty     = 999
)

// Options configures a Session.
type Options struct {
	Resolver   coupon.Resolver
	TaxRate    pricing.Money
	Logger     *zerolog.Logger
	Now        func() time.Time
	UndoWindow time.Duration
	MaxQty     int
}

// Session owns the line items, coupon and status of one cart. All methods are
// safe for concurrent use; the coupon resolver runs without holding the lock.
type Session struct {
	ID string

	mu       sync.Mutex
	items    []pricing.LineItem
	taxRate  pricing.Money
	coupon   *pricing.Coupon
	input    string
	status   string
	gen      uint64
	closed   bool
	removed  *removal
	resolver coupon.Resolver

	logger     *zerolog.Logger
	now        func() time.Time
	undoWindow time.Duration
	maxQty     int
}

type removal struct {
	item pricing.LineItem
	at   time.Time
}

// View is a consistent snapshot of a session.
type View struct {
	ID          string             `json:"id"`
	Items       []pricing.LineItem `json:"items"`
	Summary     pricing.Summary    `json:"pricing"`
	Coupon      *pricing.Coupon    `json:"coupon"`
	CouponInput string             `json:"couponInput,omitempty"`
	Status      string             `json:"status,omitempty"`
	CanUndo     bool               `json:"canUndo"`
}

// NewSession returns an empty session.
func NewSession(id string, opts Options) *Session {
	s := &Session{
		ID:         id,
		taxRate:    opts.TaxRate,
		resolver:   opts.Resolver,
		logger:     opts.Logger,
		now:        opts.Now,
		undoWindow: opts.UndoWindow,
		maxQty:     opts.MaxQty,
	}
	if s.logger == nil {
		nop := zerolog.Nop()
		s.logger = &nop
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.undoWindow <= 0 {
		s.undoWindow = defaultUndoWindow
	}
	if s.maxQty <= 0 {
		s.maxQty = defaultMaxQty
	}
	return s
}

// Items returns a copy of the current line items.
func (s *Session) Items() []pricing.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemsLocked()
}

func (s *Session) itemsLocked() []pricing.LineItem {
	out := make([]pricing.LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Add appends item, merging quantities when an item with the same ID exists.
// A missing ID is generated. The stored item is returned.
func (s *Session) Add(item pricing.LineItem) (pricing.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pricing.LineItem{}, ErrClosed
	}
	item = pricing.Normalize(item)
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if idx := s.indexLocked(item.ID); idx >= 0 {
		s.items[idx].Quantity = s.clampQty(s.items[idx].Quantity + item.Quantity)
		return s.items[idx], nil
	}
	item.Quantity = s.clampQty(item.Quantity)
	s.items = append(s.items, item)
	return item, nil
}

// Remove deletes the item with id and remembers it for Undo.
func (s *Session) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.removeLocked(id)
}

func (s *Session) removeLocked(id string) error {
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	s.removed = &removal{item: s.items[idx], at: s.now()}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return nil
}

// Undo restores the most recently removed item if the undo window is still open.
func (s *Session) Undo() (pricing.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pricing.LineItem{}, ErrClosed
	}
	if !s.canUndoLocked() {
		s.removed = nil
		return pricing.LineItem{}, ErrNothingToUndo
	}
	item := s.removed.item
	s.removed = nil
	if idx := s.indexLocked(item.ID); idx >= 0 {
		s.items[idx].Quantity = s.clampQty(s.items[idx].Quantity + item.Quantity)
		return s.items[idx], nil
	}
	s.items = append(s.items, item)
	return item, nil
}

func (s *Session) canUndoLocked() bool {
	return s.removed != nil && s.now().Sub(s.removed.at) < s.undoWindow
}

// SetQuantity sets the quantity of item id. Values above the maximum are clamped;
// zero or less removes the item.
func (s *Session) SetQuantity(id string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.setQuantityLocked(id, qty)
}

func (s *Session) setQuantityLocked(id string, qty int) error {
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if qty <= 0 {
		return s.removeLocked(id)
	}
	s.items[idx].Quantity = s.clampQty(qty)
	return nil
}

// Increment adds one to the quantity of item id.
func (s *Session) Increment(id string) error {
	return s.step(id, 1)
}

// Decrement subtracts one from the quantity of item id, removing it at zero.
func (s *Session) Decrement(id string) error {
	return s.step(id, -1)
}

func (s *Session) step(id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	return s.setQuantityLocked(id, s.items[idx].Quantity+delta)
}

// Clear removes every item. The coupon stays applied.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.items = nil
	s.removed = nil
	return nil
}

// SetTaxRate replaces the tax rate used for totals.
func (s *Session) SetTaxRate(rate pricing.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxRate = rate
}

// SetCouponInput records the code currently typed by the shopper.
func (s *Session) SetCouponInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Totals computes pricing for the current state.
func (s *Session) Totals() pricing.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pricing.Compute(s.items, s.taxRate, s.coupon)
}

// Coupon returns a copy of the active coupon, or nil.
func (s *Session) Coupon() *pricing.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupon.Clone()
}

// Status returns the last coupon status message.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CouponInput returns the pending coupon input text.
func (s *Session) CouponInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// View returns a consistent snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(s.itemsLocked())
}

// viewOf renders items loaded from the store with the session's coupon state,
// leaving the session's own items untouched.
func (s *Session) viewOf(items []pricing.LineItem) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(normalizeAll(items))
}

func (s *Session) viewLocked(items []pricing.LineItem) View {
	return View{
		ID:          s.ID,
		Items:       items,
		Summary:     pricing.Compute(items, s.taxRate, s.coupon),
		Coupon:      s.coupon.Clone(),
		CouponInput: s.input,
		Status:      s.status,
		CanUndo:     s.canUndoLocked(),
	}
}

// ApplyCoupon resolves code and applies the outcome. The second return value
// reports whether the session state was updated: it is false for empty codes, a
// missing resolver, and results that arrived after the session moved on.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (coupon.Resolution, bool) {
	return s.applyCoupon(ctx, code, nil)
}

// applyCoupon resolves against items when non-nil, otherwise against the session's items.
func (s *Session) applyCoupon(ctx context.Context, code string, items []pricing.LineItem) (coupon.Resolution, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return coupon.Resolution{}, false
	}

	s.mu.Lock()
	if s.closed || s.resolver == nil {
		s.mu.Unlock()
		return coupon.Resolution{}, false
	}
	s.gen++
	gen := s.gen
	s.input = code
	if items == nil {
		items = s.itemsLocked()
	} else {
		items = normalizeAll(items)
	}
	snap := coupon.NewSnapshot(items, s.taxRate)
	resolver := s.resolver
	s.mu.Unlock()

	res := coupon.Apply(ctx, resolver, code, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		if obs.CouponResolutionsDiscarded != nil {
			obs.CouponResolutionsDiscarded.Inc()
		}
		s.logger.Debug().Str("cart_id", s.ID).Str("code", code).Str("outcome", res.Outcome.String()).Msg("coupon_resolution_discarded")
		return res, false
	}
	switch res.Outcome {
	case coupon.Accepted:
		s.coupon = res.Coupon.Clone()
	case coupon.Rejected:
		s.coupon = nil
	case coupon.Faulted:
		s.logger.Error().Err(res.Err).Str("cart_id", s.ID).Str("code", code).Msg("coupon_resolver_failed")
	}
	s.status = res.Message
	return res, true
}

// ClearCoupon removes the active coupon and pending input. Any resolution still
// in flight is discarded when it completes.
func (s *Session) ClearCoupon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupon = nil
	s.input = ""
	s.gen++
}

// Close marks the session defunct; in-flight resolutions are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.gen++
}

// replaceItems swaps in items loaded from the store. Callers hold the cart lock.
func (s *Session) replaceItems(items []pricing.LineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = normalizeAll(items)
}

func normalizeAll(items []pricing.LineItem) []pricing.LineItem {
	out := make([]pricing.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, pricing.Normalize(it))
	}
	return out
}

func (s *Session) indexLocked(id string) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) clampQty(qty int) int {
	if qty > s.maxQty {
		return s.maxQty
	}
	if qty < 1 {
		return 1
	}
	return qty
}
