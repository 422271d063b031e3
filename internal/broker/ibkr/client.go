package ibkr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"brokerhub/internal/broker"
	"brokerhub/internal/util"
)

// gatewayClient speaks the Client Portal REST protocol to the local gateway.
type gatewayClient struct {
	base    string // scheme://host:port/v1/api
	http    *http.Client
	limiter *util.RateLimiter
	logger  *slog.Logger
}

// statusKinds is the closed HTTP status table for gateway errors. The gateway
// answers 401 once its brokerage session has expired. A 404 outside symbol
// lookups means the configured account or endpoint does not exist; see
// mapSymbolError for contract paths.
var statusKinds = map[int]broker.ErrorKind{
	400: broker.KindRejected,
	401: broker.KindNotAuthenticated,
	403: broker.KindAuthentication,
	404: broker.KindConfiguration,
	429: broker.KindRateLimited,
	500: broker.KindNetwork,
	502: broker.KindNetwork,
	503: broker.KindNetwork,
	504: broker.KindNetwork,
}

// apiError is the gateway's error envelope.
type apiError struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// httpError carries a non-2xx response before it is mapped.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.status, e.msg) }

func (c *gatewayClient) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *gatewayClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *gatewayClient) delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, out)
}

// do performs one request. Non-2xx responses come back as *httpError; the
// caller maps them with mapError so it can apply per-operation rules.
func (c *gatewayClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "brokerhub")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			msg = ae.Error
		}
		return &httpError{status: resp.StatusCode, msg: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// mapError translates transport and gateway errors into the broker taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *broker.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return broker.NewError(broker.KindNetwork, broker.KeyIBKR, op, "request aborted", err)
	}

	var he *httpError
	if errors.As(err, &he) {
		kind, ok := statusKinds[he.status]
		if !ok {
			kind = broker.KindRejected
			if he.status >= 500 {
				kind = broker.KindNetwork
			}
		}
		return broker.NewError(kind, broker.KeyIBKR, op, he.msg, nil).WithCode(fmt.Sprint(he.status))
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return broker.NewError(broker.KindNetwork, broker.KeyIBKR, op, "gateway unreachable", err)
	}
	return broker.NewError(broker.KindNetwork, broker.KeyIBKR, op, "request failed", err)
}

// mapSymbolError is mapError for requests scoped to one contract, where a 404
// means the gateway does not know the instrument.
func mapSymbolError(op, symbol string, err error) error {
	var he *httpError
	if errors.As(err, &he) && he.status == http.StatusNotFound {
		return broker.NewError(broker.KindSymbolNotSupported, broker.KeyIBKR, op, symbol+": "+he.msg, nil).
			WithCode(fmt.Sprint(he.status))
	}
	return mapError(op, err)
}
