package coupon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diegoholiveira/jsonlogic"

	"github.com/noah-isme/furever-cart/internal/pricing"
)

var (
	// ErrResolverMissing is reported when no resolver was configured.
	ErrResolverMissing = errors.New("coupon resolver not configured")
	// ErrCouponInactive is returned when the code is used before its active window.
	ErrCouponInactive = errors.New("coupon not active")
	// ErrCouponExpired is returned when the code has already expired.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponDisabled is returned for codes switched off in the catalog.
	ErrCouponDisabled = errors.New("coupon disabled")
	// ErrMinimumSpendUnmet indicates the subtotal did not meet the requirement.
	ErrMinimumSpendUnmet = errors.New("coupon minimum spend not met")
	// ErrConditionUnmet indicates the rule condition evaluated to false.
	ErrConditionUnmet = errors.New("coupon condition not met")
)

// Kinds accepted in the catalog.
const (
	RuleKindFixed   = "fixed"
	RuleKindPercent = "percent"
)

// Rule captures the runtime constraints of a catalog coupon.
type Rule struct {
	Code          string
	Label         string
	Kind          string
	Value         pricing.Money
	Scope         pricing.Scope
	MinSubtotal   pricing.Money
	ValidFrom     *time.Time
	ValidTo       *time.Time
	Condition     map[string]any
	RejectMessage string
	Disabled      bool
}

// Validate ensures the rule can be applied at the provided instant and subtotal.
func (r Rule) Validate(now time.Time, subtotal pricing.Money) error {
	if r.Disabled {
		return ErrCouponDisabled
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrCouponInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrCouponExpired
	}
	if subtotal.LessThan(r.MinSubtotal) {
		return ErrMinimumSpendUnmet
	}
	return nil
}

// Matches evaluates the optional jsonlogic condition against the cart snapshot.
func (r Rule) Matches(snap Snapshot) (bool, error) {
	if len(r.Condition) == 0 {
		return true, nil
	}
	ruleJSON, err := json.Marshal(r.Condition)
	if err != nil {
		return false, fmt.Errorf("encode condition for %s: %w", r.Code, err)
	}
	dataJSON, err := json.Marshal(conditionData(snap))
	if err != nil {
		return false, fmt.Errorf("encode cart data: %w", err)
	}
	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(ruleJSON), bytes.NewReader(dataJSON), &out); err != nil {
		return false, fmt.Errorf("evaluate condition for %s: %w", r.Code, err)
	}
	var result any
	if trimmed := bytes.TrimSpace(out.Bytes()); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &result); err != nil {
			return false, fmt.Errorf("decode condition result for %s: %w", r.Code, err)
		}
	}
	return truthy(result), nil
}

// Response converts an eligible rule into the grant it carries.
func (r Rule) Response() Response {
	value := r.Value
	if strings.EqualFold(r.Kind, RuleKindPercent) {
		resp := PercentOff(value, r.Scope)
		resp.Label = r.Label
		return resp
	}
	if r.Scope == pricing.ScopeSubtotal {
		return Discount(&value, nil, r.Scope, r.Label)
	}
	resp := Fixed(value)
	resp.Label = r.Label
	return resp
}

// RejectionFor maps a validation error onto the message shown to the shopper.
func (r Rule) RejectionFor(err error) string {
	if msg := strings.TrimSpace(r.RejectMessage); msg != "" {
		return msg
	}
	switch {
	case errors.Is(err, ErrCouponExpired):
		return "⚠️ Coupon expired"
	case errors.Is(err, ErrCouponInactive):
		return "⚠️ Coupon not active yet"
	case errors.Is(err, ErrMinimumSpendUnmet):
		return "⚠️ Minimum purchase not met"
	case errors.Is(err, ErrConditionUnmet):
		return "⚠️ Cart does not qualify for this coupon"
	default:
		return StatusNotValid
	}
}

func conditionData(snap Snapshot) map[string]any {
	items := make([]map[string]any, 0, len(snap.Items))
	for _, it := range snap.Items {
		it = pricing.Normalize(it)
		items = append(items, map[string]any{
			"id":       it.ID,
			"title":    it.Title,
			"category": it.Category,
			"price":    it.Price.InexactFloat64(),
			"qty":      it.Quantity,
		})
	}
	return map[string]any{
		"items":      items,
		"item_count": snap.ItemCount(),
		"subtotal":   snap.Subtotal.InexactFloat64(),
		"tax":        snap.Tax.InexactFloat64(),
		"total":      snap.Total.InexactFloat64(),
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
