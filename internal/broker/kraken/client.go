package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"brokerhub/internal/broker"
	"brokerhub/internal/util"
)

// restClient signs and sends Kraken REST requests.
type restClient struct {
	base    string
	key     string
	secret  []byte // decoded private key
	http    *http.Client
	limiter *util.RateLimiter
	logger  *slog.Logger

	nonceMu   sync.Mutex
	lastNonce int64
}

// envelope is Kraken's response wrapper.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// apiError is a non-empty Kraken error array.
type apiError struct {
	codes []string
}

func (e *apiError) Error() string { return strings.Join(e.codes, "; ") }

// httpError is a non-2xx response with no parseable envelope.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.status, e.body) }

// nonce returns a strictly increasing value per client, even when the clock
// stalls or steps backwards.
func (c *restClient) nonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := time.Now().UnixMicro()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// sign computes API-Sign: HMAC-SHA512 of path + SHA256(nonce + body) keyed
// with the decoded secret.
func sign(path string, nonce, body string, secret []byte) string {
	sha := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// public performs a GET on /0/public/<method>. Transient failures are
// retried.
func (c *restClient) public(ctx context.Context, method string, query url.Values, out any) error {
	return util.RetryIf(ctx, 3, 250*time.Millisecond, func(err error) bool {
		return broker.IsRetryable(mapError("public", err))
	}, func() error {
		u := c.base + "/0/public/" + method
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("building %s request: %w", method, err)
		}
		return c.send(ctx, req, method, out)
	})
}

// private performs a signed POST on /0/private/<method>. Private calls are
// never retried: a replayed AddOrder could double an order.
func (c *restClient) private(ctx context.Context, method string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	nonce := strconv.FormatInt(c.nonce(), 10)
	form.Set("nonce", nonce)
	body := form.Encode()
	path := "/0/private/" + method

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.key)
	req.Header.Set("API-Sign", sign(path, nonce, body, c.secret))
	return c.send(ctx, req, method, out)
}

func (c *restClient) send(ctx context.Context, req *http.Request, method string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "brokerhub")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if len(env.Error) > 0 {
		return &apiError{codes: env.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// codeKinds is the closed table of Kraken error codes. Codes may carry a
// trailing detail ("EGeneral:Invalid arguments:volume"); lookup tries the
// full code and then its first two segments.
var codeKinds = map[string]broker.ErrorKind{
	"EAPI:Invalid key":                    broker.KindAuthentication,
	"EAPI:Invalid signature":              broker.KindAuthentication,
	"EAPI:Invalid nonce":                  broker.KindAuthentication,
	"EAPI:Bad request":                    broker.KindValidation,
	"EAPI:Rate limit exceeded":            broker.KindRateLimited,
	"EGeneral:Permission denied":          broker.KindAuthentication,
	"EGeneral:Invalid arguments":          broker.KindValidation,
	"EGeneral:Temporary lockout":          broker.KindRateLimited,
	"EGeneral:Unknown method":             broker.KindConfiguration,
	"EGeneral:Internal error":             broker.KindNetwork,
	"EQuery:Unknown asset pair":           broker.KindSymbolNotSupported,
	"EQuery:Unknown asset":                broker.KindSymbolNotSupported,
	"EOrder:Rate limit exceeded":          broker.KindRateLimited,
	"EOrder:Insufficient funds":           broker.KindRejected,
	"EOrder:Insufficient margin":          broker.KindRejected,
	"EOrder:Order minimum not met":        broker.KindRejected,
	"EOrder:Cost minimum not met":         broker.KindRejected,
	"EOrder:Unknown order":                broker.KindRejected,
	"EOrder:Invalid price":                broker.KindValidation,
	"EOrder:Orders limit exceeded":        broker.KindRateLimited,
	"EService:Unavailable":                broker.KindNetwork,
	"EService:Busy":                       broker.KindNetwork,
	"EService:Deadline elapsed":           broker.KindNetwork,
	"EService:Market in cancel_only mode": broker.KindMarketClosed,
	"EService:Market in post_only mode":   broker.KindMarketClosed,
	"EService:Market in limit_only mode":  broker.KindMarketClosed,
}

func kindForCode(code string) broker.ErrorKind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	parts := strings.SplitN(code, ":", 3)
	if len(parts) >= 2 {
		if k, ok := codeKinds[parts[0]+":"+parts[1]]; ok {
			return k
		}
	}
	if strings.HasPrefix(code, "EService") {
		return broker.KindNetwork
	}
	return broker.KindRejected
}

// hasCode reports whether err is a Kraken error carrying code.
func hasCode(err error, code string) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return false
	}
	for _, c := range ae.codes {
		if c == code || strings.HasPrefix(c, code+":") {
			return true
		}
	}
	return false
}

// mapError translates transport and Kraken errors into the broker taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *broker.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return broker.NewError(broker.KindNetwork, broker.KeyKraken, op, "request aborted", err)
	}

	var ae *apiError
	if errors.As(err, &ae) {
		code := ae.codes[0]
		return broker.NewError(kindForCode(code), broker.KeyKraken, op, ae.Error(), nil).WithCode(code)
	}

	var he *httpError
	if errors.As(err, &he) {
		kind := broker.KindRejected
		switch {
		case he.status == http.StatusTooManyRequests:
			kind = broker.KindRateLimited
		case he.status == http.StatusUnauthorized || he.status == http.StatusForbidden:
			kind = broker.KindAuthentication
		case he.status >= 500:
			kind = broker.KindNetwork
		}
		return broker.NewError(kind, broker.KeyKraken, op, he.body, nil).WithCode(strconv.Itoa(he.status))
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return broker.NewError(broker.KindNetwork, broker.KeyKraken, op, "exchange unreachable", err)
	}
	return broker.NewError(broker.KindNetwork, broker.KeyKraken, op, "request failed", err)
}
