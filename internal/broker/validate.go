package broker

import (
	"fmt"
	"strings"

	"brokerhub/internal/domain"
)

// ValidateOrder checks an order's shape before any network call. Every
// adapter calls it first in CreateOrder.
func ValidateOrder(brokerKey string, o domain.Order) error {
	fail := func(format string, args ...any) error {
		return NewError(KindValidation, brokerKey, "CreateOrder", fmt.Sprintf(format, args...), nil)
	}

	if strings.TrimSpace(o.Symbol) == "" {
		return fail("symbol is required")
	}
	if !o.Side.Valid() {
		return fail("unknown side %q", o.Side)
	}
	if !o.Type.Valid() {
		return fail("unknown order type %q", o.Type)
	}
	if o.TimeInForce != "" && !o.TimeInForce.Valid() {
		return fail("unknown time in force %q", o.TimeInForce)
	}
	if !o.Quantity.IsPositive() {
		return fail("quantity must be positive, got %s", o.Quantity)
	}

	needLimit := o.Type == domain.OrderTypeLimit || o.Type == domain.OrderTypeStopLimit
	needStop := o.Type == domain.OrderTypeStop || o.Type == domain.OrderTypeStopLimit

	switch {
	case needLimit && o.LimitPrice == nil:
		return fail("%s order requires a limit price", o.Type)
	case needStop && o.StopPrice == nil:
		return fail("%s order requires a stop price", o.Type)
	case !needLimit && o.LimitPrice != nil:
		return fail("%s order does not take a limit price", o.Type)
	case !needStop && o.StopPrice != nil:
		return fail("%s order does not take a stop price", o.Type)
	}
	if o.LimitPrice != nil && !o.LimitPrice.IsPositive() {
		return fail("limit price must be positive, got %s", o.LimitPrice)
	}
	if o.StopPrice != nil && !o.StopPrice.IsPositive() {
		return fail("stop price must be positive, got %s", o.StopPrice)
	}
	return nil
}

// TimeInForceOrDefault returns tif, or DAY when unset.
func TimeInForceOrDefault(tif domain.TimeInForce) domain.TimeInForce {
	if tif == "" {
		return domain.TimeInForceDay
	}
	return tif
}
