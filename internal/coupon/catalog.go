package coupon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/furever-cart/internal/pricing"
)

// catalogFile mirrors the YAML layout of a coupon catalog.
type catalogFile struct {
	Coupons []ruleEntry `yaml:"coupons" validate:"dive"`
}

type ruleEntry struct {
	Code          string         `yaml:"code" validate:"required,max=64"`
	Label         string         `yaml:"label"`
	Kind          string         `yaml:"kind" validate:"required,oneof=fixed percent"`
	Value         string         `yaml:"value" validate:"required,numeric"`
	Scope         string         `yaml:"scope" validate:"omitempty,oneof=subtotal total"`
	MinSubtotal   string         `yaml:"min_subtotal" validate:"omitempty,numeric"`
	ValidFrom     *time.Time     `yaml:"valid_from"`
	ValidTo       *time.Time     `yaml:"valid_to"`
	Condition     map[string]any `yaml:"condition"`
	RejectMessage string         `yaml:"reject_message"`
	Disabled      bool           `yaml:"disabled"`
}

// Catalog resolves codes against a fixed set of rules loaded from YAML.
type Catalog struct {
	rules map[string]Rule
	Now   func() time.Time
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read coupon catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode coupon catalog: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("validate coupon catalog: %w", err)
	}
	rules := make(map[string]Rule, len(file.Coupons))
	for _, entry := range file.Coupons {
		rule, err := entry.compile()
		if err != nil {
			return nil, err
		}
		if _, dup := rules[normalizeCode(rule.Code)]; dup {
			return nil, fmt.Errorf("duplicate coupon code %q", rule.Code)
		}
		rules[normalizeCode(rule.Code)] = rule
	}
	return &Catalog{rules: rules}, nil
}

func (s ruleEntry) compile() (Rule, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(s.Value))
	if err != nil {
		return Rule{}, fmt.Errorf("coupon %s: invalid value: %w", s.Code, err)
	}
	if value.IsNegative() {
		return Rule{}, fmt.Errorf("coupon %s: value must not be negative", s.Code)
	}
	if s.Kind == RuleKindPercent && value.GreaterThan(decimal.NewFromInt(100)) {
		return Rule{}, fmt.Errorf("coupon %s: percent must be within 0-100", s.Code)
	}
	minSubtotal := decimal.Zero
	if strings.TrimSpace(s.MinSubtotal) != "" {
		minSubtotal, err = decimal.NewFromString(strings.TrimSpace(s.MinSubtotal))
		if err != nil {
			return Rule{}, fmt.Errorf("coupon %s: invalid min_subtotal: %w", s.Code, err)
		}
	}
	if s.ValidFrom != nil && s.ValidTo != nil && s.ValidTo.Before(*s.ValidFrom) {
		return Rule{}, fmt.Errorf("coupon %s: valid_to precedes valid_from", s.Code)
	}
	return Rule{
		Code:          strings.TrimSpace(s.Code),
		Label:         strings.TrimSpace(s.Label),
		Kind:          s.Kind,
		Value:         value,
		Scope:         pricing.ParseScope(s.Scope),
		MinSubtotal:   minSubtotal,
		ValidFrom:     s.ValidFrom,
		ValidTo:       s.ValidTo,
		Condition:     s.Condition,
		RejectMessage: s.RejectMessage,
		Disabled:      s.Disabled,
	}, nil
}

// Name implements Named.
func (c *Catalog) Name() string { return "catalog" }

// Len reports the number of codes in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

// Lookup returns the rule registered for code.
func (c *Catalog) Lookup(code string) (Rule, bool) {
	if c == nil {
		return Rule{}, false
	}
	rule, ok := c.rules[normalizeCode(code)]
	return rule, ok
}

// Resolve implements Resolver. Unknown codes yield a zero Response.
func (c *Catalog) Resolve(_ context.Context, code string, snap Snapshot) (Response, error) {
	rule, ok := c.Lookup(code)
	if !ok {
		return Response{}, nil
	}
	if err := rule.Validate(c.now(), snap.Subtotal); err != nil {
		return Reject(rule.RejectionFor(err)), nil
	}
	matched, err := rule.Matches(snap)
	if err != nil {
		return Response{}, err
	}
	if !matched {
		return Reject(rule.RejectionFor(ErrConditionUnmet)), nil
	}
	return rule.Response(), nil
}

func (c *Catalog) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Chain tries each resolver in order and returns the first recognised answer.
// A fault stops the chain.
type Chain []Resolver

// Name implements Named.
func (c Chain) Name() string { return "chain" }

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, code string, snap Snapshot) (Response, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		resp, err := r.Resolve(ctx, code, snap)
		if err != nil {
			return Response{}, fmt.Errorf("%s: %w", sourceOf(r), err)
		}
		if resp.Kind != KindUnknown {
			return resp, nil
		}
	}
	return Response{}, nil
}
