package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
	"brokerhub/internal/registry"
)

// CompareRequest asks for a cost comparison across configured accounts.
// Empty Accounts compares every configured account.
type CompareRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Accounts []string        `json:"accounts,omitempty"`
}

// ListBrokersRequest is empty; it exists for the gRPC surface.
type ListBrokersRequest struct{}

// ListBrokersResponse lists registered brokers.
type ListBrokersResponse struct {
	Brokers []domain.BrokerInfo `json:"brokers"`
}

// GetStatsRequest is empty; it exists for the gRPC surface.
type GetStatsRequest struct{}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Service holds the operations shared by the HTTP and gRPC surfaces.
type Service struct {
	reg        *registry.Registry
	accounts   *registry.Accounts
	comparator *engine.Comparator
}

// NewService creates a Service.
func NewService(reg *registry.Registry, accounts *registry.Accounts, comparator *engine.Comparator) *Service {
	return &Service{reg: reg, accounts: accounts, comparator: comparator}
}

// Compare opens the requested accounts and compares them. Accounts that
// cannot be opened are reported alongside brokers that failed mid-compare.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*domain.Comparison, error) {
	names := req.Accounts
	if len(names) == 0 {
		names = s.accounts.Names()
	}
	if len(names) == 0 {
		return nil, broker.NewError(broker.KindConfiguration, "", "Compare", "no accounts configured", nil)
	}
	for _, n := range names {
		if !s.accounts.Has(n) {
			return nil, fmt.Errorf("%w: %q", registry.ErrUnknownAccount, n)
		}
	}

	opened, failed := s.accounts.OpenAll(ctx, names)
	if len(opened) == 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrNoViableBrokers, joinFailures(failed))
	}
	cmp, err := s.comparator.Compare(ctx, req.Symbol, req.Quantity, opened)
	if err != nil {
		if errors.Is(err, engine.ErrNoViableBrokers) && len(failed) > 0 {
			return nil, fmt.Errorf("%w; %s", err, joinFailures(failed))
		}
		return nil, err
	}
	for name, ferr := range failed {
		cmp.Errors = append(cmp.Errors, domain.ComparisonError{
			Broker: name,
			Kind:   string(broker.KindOf(ferr)),
			Reason: ferr.Error(),
		})
	}
	sort.Slice(cmp.Errors, func(i, j int) bool { return cmp.Errors[i].Broker < cmp.Errors[j].Broker })
	return cmp, nil
}

func joinFailures(failed map[string]error) string {
	parts := make([]string, 0, len(failed))
	for name, err := range failed {
		parts = append(parts, name+": "+err.Error())
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// errorKind classifies err for clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, engine.ErrNoViableBrokers):
		return "no_viable_brokers"
	case errors.Is(err, registry.ErrUnknownAccount):
		return "unknown_account"
	}
	if k := broker.KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}

// httpStatus maps an error kind to the HTTP status reported for it.
func httpStatus(kind string) int {
	switch broker.ErrorKind(kind) {
	case broker.KindValidation, broker.KindConfiguration:
		return http.StatusBadRequest
	case broker.KindUnknownBroker:
		return http.StatusNotFound
	case broker.KindSymbolNotSupported, broker.KindRejected:
		return http.StatusUnprocessableEntity
	case broker.KindMarketClosed:
		return http.StatusConflict
	case broker.KindRateLimited:
		return http.StatusTooManyRequests
	case broker.KindBrokerUnavailable:
		return http.StatusServiceUnavailable
	case broker.KindAuthentication, broker.KindNotAuthenticated, broker.KindNetwork:
		return http.StatusBadGateway
	}
	switch kind {
	case "unknown_account":
		return http.StatusNotFound
	case "no_viable_brokers":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
