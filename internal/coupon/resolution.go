package coupon

import (
	"context"
	"strings"

	"github.com/noah-isme/furever-cart/internal/pricing"
)

// Status messages surfaced to the shopper after an apply attempt.
const (
	StatusApplied  = "✅ Coupon applied"
	StatusNotValid = "⚠️ Coupon not valid"
	StatusFailed   = "⚠️ Could not apply coupon"
)

// Kind tags the variant carried by a Response.
type Kind int

const (
	// KindUnknown means the resolver did not recognise the code.
	KindUnknown Kind = iota
	// KindFixed grants a fixed amount off the cart total.
	KindFixed
	// KindDiscount grants a structured discount (amount and/or percent with a scope).
	KindDiscount
	// KindRejected declines the code with a human readable reason.
	KindRejected
)

// Response is what a Resolver answers for a code.
type Response struct {
	Kind    Kind
	Amount  *pricing.Money
	Percent *pricing.Money
	Scope   pricing.Scope
	Label   string
	Message string
}

// Fixed grants amount off the cart total.
func Fixed(amount pricing.Money) Response {
	return Response{Kind: KindFixed, Amount: &amount}
}

// PercentOff grants percent of the scoped base.
func PercentOff(percent pricing.Money, scope pricing.Scope) Response {
	return Response{Kind: KindDiscount, Percent: &percent, Scope: scope}
}

// Discount grants a structured discount. Either amount or percent may be nil.
func Discount(amount, percent *pricing.Money, scope pricing.Scope, label string) Response {
	return Response{Kind: KindDiscount, Amount: amount, Percent: percent, Scope: scope, Label: label}
}

// Reject declines the code with message.
func Reject(message string) Response {
	return Response{Kind: KindRejected, Message: message}
}

// Snapshot is the cart context handed to a resolver. It is informational and may be stale
// by the time the resolver answers.
type Snapshot struct {
	Items    []pricing.LineItem `json:"items"`
	Subtotal pricing.Money      `json:"subtotal"`
	Tax      pricing.Money      `json:"tax"`
	Total    pricing.Money      `json:"total"`
}

// NewSnapshot captures items and their pre-discount totals.
func NewSnapshot(items []pricing.LineItem, taxRate pricing.Money) Snapshot {
	copied := make([]pricing.LineItem, len(items))
	copy(copied, items)
	s := pricing.Compute(copied, taxRate, nil)
	return Snapshot{
		Items:    copied,
		Subtotal: s.Subtotal,
		Tax:      s.Tax,
		Total:    s.Subtotal.Add(s.Tax),
	}
}

// ItemCount returns the total quantity across all items.
func (s Snapshot) ItemCount() int {
	var n int
	for _, it := range s.Items {
		n += pricing.Normalize(it).Quantity
	}
	return n
}

// Resolver decides whether a code is valid and what it grants. A returned error is a fault.
type Resolver interface {
	Resolve(ctx context.Context, code string, snap Snapshot) (Response, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, code string, snap Snapshot) (Response, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, code string, snap Snapshot) (Response, error) {
	return f(ctx, code, snap)
}

// Outcome tags a Resolution.
type Outcome int

const (
	// OutcomeNone means no resolution was attempted.
	OutcomeNone Outcome = iota
	// Accepted carries a coupon to apply.
	Accepted
	// Rejected carries a message and leaves the coupon untouched.
	Rejected
	// Faulted means the resolver itself failed.
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Faulted:
		return "faulted"
	default:
		return "none"
	}
}

// Resolution is the interpreted result of a resolver call.
type Resolution struct {
	Outcome Outcome
	Coupon  *pricing.Coupon
	Message string
	Err     error
}

// Interpret turns a resolver answer into a Resolution.
func Interpret(code string, resp Response, err error) Resolution {
	if err != nil {
		return Resolution{Outcome: Faulted, Message: StatusFailed, Err: err}
	}
	code = strings.TrimSpace(code)
	switch resp.Kind {
	case KindFixed:
		if resp.Amount == nil {
			break
		}
		amount := *resp.Amount
		return Resolution{
			Outcome: Accepted,
			Coupon:  &pricing.Coupon{Label: labelOr(resp.Label, code), Amount: &amount, Scope: pricing.ScopeTotal},
			Message: StatusApplied,
		}
	case KindDiscount:
		if resp.Amount == nil && resp.Percent == nil {
			break
		}
		scope := resp.Scope
		if scope != pricing.ScopeSubtotal {
			scope = pricing.ScopeTotal
		}
		c := &pricing.Coupon{Label: labelOr(resp.Label, code), Amount: resp.Amount, Percent: resp.Percent, Scope: scope}
		return Resolution{Outcome: Accepted, Coupon: c.Clone(), Message: StatusApplied}
	case KindRejected:
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = StatusNotValid
		}
		return Resolution{Outcome: Rejected, Message: msg}
	}
	return Resolution{Outcome: Rejected, Message: StatusNotValid}
}

func labelOr(label, fallback string) string {
	if trimmed := strings.TrimSpace(label); trimmed != "" {
		return trimmed
	}
	return fallback
}
