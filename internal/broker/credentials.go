package broker

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Broker keys with a concrete adapter.
const (
	KeyAlpaca    = "alpaca"
	KeyIBKR      = "ibkr"
	KeyKraken    = "kraken"
	KeySimulator = "simulator"
)

// Credentials is the tagged union of per-backend secrets. Implementations
// redact secret fields from String and LogValue.
type Credentials interface {
	BrokerKey() string
	Validate() error
	String() string
	LogValue() slog.Value
}

const redacted = "[REDACTED]"

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

func credErr(key, msg string) *Error {
	return NewError(KindValidation, key, "credentials", msg, nil)
}

// ---------------------------------------------------------------------------
// Alpaca
// ---------------------------------------------------------------------------

// AlpacaCredentials holds an API key pair or an OAuth token.
type AlpacaCredentials struct {
	APIKey     string
	APISecret  string
	OAuthToken string
}

func (c AlpacaCredentials) BrokerKey() string { return KeyAlpaca }

func (c AlpacaCredentials) Validate() error {
	if c.OAuthToken != "" {
		return nil
	}
	if c.APIKey == "" || c.APISecret == "" {
		return credErr(KeyAlpaca, "api_key and api_secret (or oauth_token) are required")
	}
	return nil
}

func (c AlpacaCredentials) String() string {
	return fmt.Sprintf("AlpacaCredentials{APIKey:%s APISecret:%s OAuthToken:%s}",
		mask(c.APIKey), mask(c.APISecret), mask(c.OAuthToken))
}

func (c AlpacaCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("broker", KeyAlpaca),
		slog.Bool("oauth", c.OAuthToken != ""),
		slog.String("api_key", mask(c.APIKey)),
	)
}

// ---------------------------------------------------------------------------
// Interactive Brokers
// ---------------------------------------------------------------------------

// IBKRCredentials locates the Client Portal gateway and the account to use.
// The gateway holds the actual login session.
type IBKRCredentials struct {
	Host               string
	Port               int
	ClientID           int
	AccountID          string
	Scheme             string // "https" (gateway default) or "http"
	InsecureSkipVerify bool   // the gateway ships a self-signed certificate
}

const (
	DefaultIBKRHost   = "localhost"
	DefaultIBKRPort   = 5000
	DefaultIBKRScheme = "https"
)

// WithDefaults fills unset gateway coordinates.
func (c IBKRCredentials) WithDefaults() IBKRCredentials {
	if c.Host == "" {
		c.Host = DefaultIBKRHost
	}
	if c.Port == 0 {
		c.Port = DefaultIBKRPort
	}
	if c.Scheme == "" {
		c.Scheme = DefaultIBKRScheme
	}
	return c
}

func (c IBKRCredentials) BrokerKey() string { return KeyIBKR }

func (c IBKRCredentials) Validate() error {
	c = c.WithDefaults()
	if c.Port < 1 || c.Port > 65535 {
		return credErr(KeyIBKR, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return credErr(KeyIBKR, fmt.Sprintf("scheme %q must be http or https", c.Scheme))
	}
	if c.ClientID < 0 {
		return credErr(KeyIBKR, "client_id must be non-negative")
	}
	return nil
}

func (c IBKRCredentials) String() string {
	return fmt.Sprintf("IBKRCredentials{Host:%s Port:%d ClientID:%d AccountID:%s}",
		c.Host, c.Port, c.ClientID, mask(c.AccountID))
}

func (c IBKRCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("broker", KeyIBKR),
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.Int("client_id", c.ClientID),
	)
}

// ---------------------------------------------------------------------------
// Kraken
// ---------------------------------------------------------------------------

// KrakenCredentials holds an API key and its base64-encoded private key.
type KrakenCredentials struct {
	APIKey    string
	APISecret string
}

func (c KrakenCredentials) BrokerKey() string { return KeyKraken }

func (c KrakenCredentials) Validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return credErr(KeyKraken, "api_key and api_secret are required")
	}
	if _, err := base64.StdEncoding.DecodeString(c.APISecret); err != nil {
		return credErr(KeyKraken, "api_secret is not valid base64")
	}
	return nil
}

func (c KrakenCredentials) String() string {
	return fmt.Sprintf("KrakenCredentials{APIKey:%s APISecret:%s}", mask(c.APIKey), mask(c.APISecret))
}

func (c KrakenCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("broker", KeyKraken),
		slog.String("api_key", mask(c.APIKey)),
	)
}

// ---------------------------------------------------------------------------
// Simulator
// ---------------------------------------------------------------------------

// SimulatorCredentials configures the in-process paper broker.
type SimulatorCredentials struct {
	StartingCash decimal.Decimal
}

func (c SimulatorCredentials) BrokerKey() string { return KeySimulator }

func (c SimulatorCredentials) Validate() error {
	if c.StartingCash.IsNegative() {
		return credErr(KeySimulator, "starting_cash must be non-negative")
	}
	return nil
}

func (c SimulatorCredentials) String() string {
	return fmt.Sprintf("SimulatorCredentials{StartingCash:%s}", c.StartingCash)
}

func (c SimulatorCredentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("broker", KeySimulator),
		slog.String("starting_cash", c.StartingCash.String()),
	)
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// ParseCredentials builds the credential variant for key from a string map,
// as found in config files. Keys are snake_case.
func ParseCredentials(key string, m map[string]string) (Credentials, error) {
	get := func(k string) string { return strings.TrimSpace(m[k]) }

	switch key {
	case KeyAlpaca:
		return AlpacaCredentials{
			APIKey:     get("api_key"),
			APISecret:  get("api_secret"),
			OAuthToken: get("oauth_token"),
		}, nil
	case KeyKraken:
		return KrakenCredentials{APIKey: get("api_key"), APISecret: get("api_secret")}, nil
	case KeyIBKR:
		c := IBKRCredentials{
			Host:      get("host"),
			AccountID: get("account_id"),
			Scheme:    get("scheme"),
		}
		if v := get("port"); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return nil, credErr(KeyIBKR, fmt.Sprintf("parsing port %q", v))
			}
			c.Port = port
		}
		if v := get("client_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				return nil, credErr(KeyIBKR, fmt.Sprintf("parsing client_id %q", v))
			}
			c.ClientID = id
		}
		if v := get("insecure_skip_verify"); v != "" {
			skip, err := strconv.ParseBool(v)
			if err != nil {
				return nil, credErr(KeyIBKR, fmt.Sprintf("parsing insecure_skip_verify %q", v))
			}
			c.InsecureSkipVerify = skip
		}
		return c, nil
	case KeySimulator:
		c := SimulatorCredentials{}
		if v := get("starting_cash"); v != "" {
			cash, err := decimal.NewFromString(v)
			if err != nil {
				return nil, credErr(KeySimulator, fmt.Sprintf("parsing starting_cash %q", v))
			}
			c.StartingCash = cash
		}
		return c, nil
	}
	return nil, NewError(KindUnknownBroker, key, "credentials", "no credential format for broker", nil)
}
