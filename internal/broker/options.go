package broker

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"brokerhub/internal/domain"
)

// DefaultTimeout bounds every HTTP round-trip an adapter makes.
const DefaultTimeout = 15 * time.Second

// Options are the connection options fixed at adapter construction.
type Options struct {
	Testnet     bool
	AccountType domain.AccountType // "", "live" or "paper"

	// Transport overrides, mainly for tests and self-hosted proxies.
	BaseURL    string
	DataURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger

	// RateLimitPerMin caps request rate for adapters that self-throttle.
	// Zero selects the adapter's default.
	RateLimitPerMin int
}

// Validate checks option consistency.
func (o Options) Validate(brokerKey string) error {
	switch o.AccountType {
	case "", domain.AccountTypeLive, domain.AccountTypePaper:
	default:
		return NewError(KindConfiguration, brokerKey, "options",
			fmt.Sprintf("unknown account type %q", o.AccountType), nil)
	}
	if o.Testnet && o.AccountType == domain.AccountTypeLive {
		return NewError(KindConfiguration, brokerKey, "options",
			"testnet cannot be combined with a live account", nil)
	}
	if o.Timeout < 0 {
		return NewError(KindConfiguration, brokerKey, "options", "timeout must be positive", nil)
	}
	if o.RateLimitPerMin < 0 {
		return NewError(KindConfiguration, brokerKey, "options", "rate limit must be positive", nil)
	}
	return nil
}

// Paper reports whether the options select a paper/sandbox environment.
func (o Options) Paper() bool {
	return o.Testnet || o.AccountType == domain.AccountTypePaper
}

// WithDefaults fills the timeout, HTTP client and logger. The logger gains a
// broker attribute.
func (o Options) WithDefaults(brokerKey string) Options {
	return o.withDefaults(brokerKey, 0)
}

// WithRateDefaults is WithDefaults that also fills RateLimitPerMin.
func (o Options) WithRateDefaults(brokerKey string, perMin int) Options {
	return o.withDefaults(brokerKey, perMin)
}

func (o Options) withDefaults(brokerKey string, perMin int) Options {
	if o.RateLimitPerMin == 0 {
		o.RateLimitPerMin = perMin
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("broker", brokerKey)
	return o
}
