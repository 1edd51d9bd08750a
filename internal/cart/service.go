package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/furever-cart/internal/coupon"
	"github.com/noah-isme/furever-cart/internal/obs"
	"github.com/noah-isme/furever-cart/internal/pricing"
)

// Locker serialises load-mutate-save cycles for a cart id.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service owns the live sessions and keeps their items in sync with the Store.
type Service struct {
	Store      Store
	Resolver   coupon.Resolver
	Locker     Locker
	TaxRate    pricing.Money
	UndoWindow time.Duration
	MaxQty     int
	LockTTL    time.Duration
	Logger     *zerolog.Logger
	Now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 5 * time.Second
	}
	return s.LockTTL
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// Create starts an empty cart and returns its view.
func (s *Service) Create(ctx context.Context) (View, error) {
	if err := s.ready(); err != nil {
		return View{}, err
	}
	id := uuid.NewString()
	if err := s.Store.Save(ctx, id, State{Items: []pricing.LineItem{}, UpdatedAt: s.now()}); err != nil {
		obs.ObserveCartMutation("create", err)
		return View{}, fmt.Errorf("create cart: %w", err)
	}
	obs.ObserveCartMutation("create", nil)
	return s.session(id).View(), nil
}

// Get loads the cart and returns its view.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	sess, st, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return sess.viewOf(st.Items), nil
}

// AddItem adds item to the cart, merging with an existing line of the same id.
func (s *Service) AddItem(ctx context.Context, id string, item pricing.LineItem) (View, error) {
	if strings.TrimSpace(item.Title) == "" {
		return View{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return s.Mutate(ctx, id, "add", func(sess *Session) error {
		_, err := sess.Add(item)
		return err
	})
}

// SetQuantity sets the quantity of a line; zero removes it.
func (s *Service) SetQuantity(ctx context.Context, id, itemID string, qty int) (View, error) {
	return s.Mutate(ctx, id, "set_quantity", func(sess *Session) error {
		return sess.SetQuantity(itemID, qty)
	})
}

// RemoveItem removes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, id, itemID string) (View, error) {
	return s.Mutate(ctx, id, "remove", func(sess *Session) error {
		return sess.Remove(itemID)
	})
}

// UndoRemove restores the last removed line within the undo window.
func (s *Service) UndoRemove(ctx context.Context, id string) (View, error) {
	return s.Mutate(ctx, id, "undo", func(sess *Session) error {
		_, err := sess.Undo()
		return err
	})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, id string) (View, error) {
	return s.Mutate(ctx, id, "clear", func(sess *Session) error {
		return sess.Clear()
	})
}

// Mutate runs fn against the session under the cart lock and persists the resulting items.
func (s *Service) Mutate(ctx context.Context, id, op string, fn func(*Session) error) (View, error) {
	if err := s.ready(); err != nil {
		return View{}, err
	}
	var view View
	run := func(ctx context.Context) error {
		sess, st, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		sess.replaceItems(st.Items)
		if err := fn(sess); err != nil {
			return err
		}
		if err := s.Store.Save(ctx, id, State{Items: sess.Items(), UpdatedAt: s.now()}); err != nil {
			return fmt.Errorf("save cart %s: %w", id, err)
		}
		view = sess.View()
		return nil
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, id, s.lockTTL(), run)
	} else {
		err = run(ctx)
	}
	obs.ObserveCartMutation(op, err)
	if err != nil {
		return View{}, err
	}
	return view, nil
}

// ApplyCoupon resolves code against the stored items. The resolver runs
// without holding the cart lock.
func (s *Service) ApplyCoupon(ctx context.Context, id, code string) (coupon.Resolution, View, error) {
	sess, st, err := s.load(ctx, id)
	if err != nil {
		return coupon.Resolution{}, View{}, err
	}
	res, _ := sess.applyCoupon(ctx, code, st.Items)
	return res, sess.viewOf(st.Items), nil
}

// ClearCoupon removes the active coupon.
func (s *Service) ClearCoupon(ctx context.Context, id string) (View, error) {
	sess, st, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	sess.ClearCoupon()
	return sess.viewOf(st.Items), nil
}

// Ping reports store health.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.Store.Ping(ctx)
}

// Close closes every live session so pending resolutions are discarded.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
}

// load reads the stored state and the live session for id. Only Mutate, under
// the cart lock, copies the stored items into the session; readers render from
// st so a slow read cannot overwrite a newer write.
func (s *Service) load(ctx context.Context, id string) (*Session, State, error) {
	if err := s.ready(); err != nil {
		return nil, State{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, State{}, ErrNotFound
	}
	st, err := s.Store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.evict(id)
		}
		return nil, State{}, err
	}
	return s.session(id), st, nil
}

func (s *Service) session(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*Session)
	}
	sess, ok := s.sessions[id]
	if !ok {
		sess = NewSession(id, Options{
			Resolver:   s.Resolver,
			TaxRate:    s.TaxRate,
			Logger:     s.Logger,
			Now:        s.Now,
			UndoWindow: s.UndoWindow,
			MaxQty:     s.MaxQty,
		})
		s.sessions[id] = sess
	}
	return sess
}

func (s *Service) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Close()
		delete(s.sessions, id)
	}
}
