package coupon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/furever-cart/internal/pricing"
	"github.com/noah-isme/furever-cart/internal/resilience"
)

const maxRemoteBody = 64 << 10

// RemoteResolver asks an HTTP endpoint to validate codes.
//
// The endpoint receives the code and the cart snapshot as JSON. A 404 means the
// code is unknown, 400 and 422 reject it, and a 2xx body is read as one of:
// a bare number (fixed amount off the total), a bare string (rejection message),
// an object with a numeric amount and/or percent (structured discount, scope
// read from "scope" or "applyTo"), or an object with only a message (rejection).
// Non-numeric amounts count as absent.
type RemoteResolver struct {
	Endpoint string
	Client   resilience.HTTPClient
}

type remoteRequest struct {
	Code     string             `json:"code"`
	Subtotal pricing.Money      `json:"subtotal"`
	Tax      pricing.Money      `json:"tax"`
	Total    pricing.Money      `json:"total"`
	Items    []pricing.LineItem `json:"items"`
}

// Name implements Named.
func (r RemoteResolver) Name() string { return "remote" }

// Resolve implements Resolver.
func (r RemoteResolver) Resolve(ctx context.Context, code string, snap Snapshot) (Response, error) {
	if strings.TrimSpace(r.Endpoint) == "" {
		return Response{}, errors.New("remote coupon endpoint not configured")
	}
	payload, err := json.Marshal(remoteRequest{
		Code:     code,
		Subtotal: snap.Subtotal,
		Tax:      snap.Tax,
		Total:    snap.Total,
		Items:    snap.Items,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode coupon request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build coupon request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.Client.Do(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("call coupon endpoint: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return Response{}, fmt.Errorf("read coupon response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Response{}, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		parsed, _ := ParseRemoteBody(body)
		if parsed.Kind == KindRejected {
			return parsed, nil
		}
		return Reject(StatusNotValid), nil
	case resp.StatusCode >= 300:
		return Response{}, fmt.Errorf("coupon endpoint answered %s", resp.Status)
	}
	return ParseRemoteBody(body)
}

// ParseRemoteBody interprets a resolver payload. Empty bodies and null mean unknown.
func ParseRemoteBody(body []byte) (Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Response{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Response{}, fmt.Errorf("decode coupon response: %w", err)
	}
	switch t := v.(type) {
	case json.Number:
		return Fixed(pricing.ParseMoney(t.String())), nil
	case string:
		return Reject(t), nil
	case map[string]any:
		return responseFromObject(t), nil
	default:
		return Response{}, nil
	}
}

func responseFromObject(obj map[string]any) Response {
	message, _ := obj["message"].(string)
	if valid, ok := obj["valid"].(bool); ok && !valid {
		return Reject(message)
	}
	amount := optionalMoney(obj["amount"])
	percent := optionalMoney(obj["percent"])
	if amount != nil || percent != nil {
		scope, _ := obj["scope"].(string)
		if scope == "" {
			scope, _ = obj["applyTo"].(string)
		}
		label, _ := obj["label"].(string)
		return Discount(amount, percent, pricing.ParseScope(scope), label)
	}
	if _, ok := obj["message"]; ok {
		return Reject(message)
	}
	return Response{}
}

// optionalMoney returns nil unless v is a finite number or a numeric string.
func optionalMoney(v any) *pricing.Money {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		m := decimal.NewFromFloat(t)
		return &m
	default:
		return nil
	}
	m, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &m
}
