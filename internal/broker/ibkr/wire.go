package ibkr

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// conID is a contract id. The gateway sends it as a number on most endpoints
// and as a string on secdef/search.
type conID int64

func (c *conID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*c = conID(n)
	return nil
}

// flexDecimal tolerates the gateway's empty strings, nulls and the C/H
// (closing/halted) prefixes on snapshot prices.
type flexDecimal struct {
	decimal.Decimal
	Flag byte // 'C' closing price, 'H' halted, 0 live
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	*f = parseFlex(s)
	return nil
}

func parseFlex(s string) flexDecimal {
	s = strings.TrimSpace(s)
	var out flexDecimal
	if s == "" || s == "null" {
		return out
	}
	if s[0] == 'C' || s[0] == 'H' {
		out.Flag = s[0]
		s = s[1:]
	}
	s = strings.ReplaceAll(s, ",", "")
	if d, err := decimal.NewFromString(s); err == nil {
		out.Decimal = d
	}
	return out
}

type authStatus struct {
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Competing     bool   `json:"competing"`
	Message       string `json:"message"`
}

type account struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
}

// isPaperAccount reports whether id belongs to a paper (DU) or paper
// advisor/sub (DF) account.
func isPaperAccount(id string) bool {
	return strings.HasPrefix(id, "DU") || strings.HasPrefix(id, "DF")
}

// summary is /portfolio/{acct}/summary: a map of lower-case keys to
// amount objects.
type summary map[string]json.RawMessage

type summaryValue struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (s summary) amount(key string) (decimal.Decimal, bool) {
	raw, ok := s[key]
	if !ok {
		return decimal.Zero, false
	}
	var v summaryValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return decimal.Zero, false
	}
	return v.Amount, true
}

func (s summary) currency() string {
	raw, ok := s["netliquidation"]
	if !ok {
		return ""
	}
	var v summaryValue
	if json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v.Currency
}

type position struct {
	Conid         conID       `json:"conid"`
	ContractDesc  string      `json:"contractDesc"`
	Ticker        string      `json:"ticker"`
	Position      flexDecimal `json:"position"`
	MktPrice      flexDecimal `json:"mktPrice"`
	MktValue      flexDecimal `json:"mktValue"`
	AvgPrice      flexDecimal `json:"avgPrice"`
	AvgCost       flexDecimal `json:"avgCost"`
	UnrealizedPnl flexDecimal `json:"unrealizedPnl"`
	AssetClass    string      `json:"assetClass"`
}

type secdefSection struct {
	SecType string `json:"secType"`
}

type secdef struct {
	Conid    conID           `json:"conid"`
	Symbol   string          `json:"symbol"`
	Sections []secdefSection `json:"sections"`
}

func (s secdef) isStock() bool {
	for _, sec := range s.Sections {
		if sec.SecType == "STK" {
			return true
		}
	}
	return false
}

// Snapshot field ids.
const (
	fieldLast    = "31"
	fieldBid     = "84"
	fieldAskSize = "85"
	fieldAsk     = "86"
	fieldBidSize = "88"
	fieldUpdated = "_updated"

	snapshotFields = fieldLast + "," + fieldBid + "," + fieldAskSize + "," + fieldAsk + "," + fieldBidSize
)

type snapshot map[string]any

func (s snapshot) field(id string) flexDecimal {
	switch v := s[id].(type) {
	case string:
		return parseFlex(v)
	case float64:
		return flexDecimal{Decimal: decimal.NewFromFloat(v)}
	}
	return flexDecimal{}
}

func (s snapshot) hasPrices() bool {
	_, last := s[fieldLast]
	_, bid := s[fieldBid]
	_, ask := s[fieldAsk]
	return last || bid || ask
}

func (s snapshot) updated() time.Time {
	if v, ok := s[fieldUpdated].(float64); ok && v > 0 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Time{}
}

type orderTicket struct {
	AcctID    string   `json:"acctId"`
	Conid     int64    `json:"conid"`
	COID      string   `json:"cOID"`
	OrderType string   `json:"orderType"`
	Side      string   `json:"side"`
	Quantity  int64    `json:"quantity"`
	Price     *float64 `json:"price,omitempty"`
	AuxPrice  *float64 `json:"auxPrice,omitempty"`
	TIF       string   `json:"tif"`
}

type orderRequest struct {
	Orders []orderTicket `json:"orders"`
}

// orderReply is one element of the order placement response: either an
// acknowledgement (OrderID set), a confirmation prompt (ID and Message set)
// or an error.
type orderReply struct {
	OrderID     string   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
	ID          string   `json:"id"`
	Message     []string `json:"message"`
	Error       string   `json:"error"`
}

type replyConfirm struct {
	Confirmed bool `json:"confirmed"`
}

type cancelReply struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

type liveOrder struct {
	OrderID        int64       `json:"orderId"`
	Conid          conID       `json:"conid"`
	Ticker         string      `json:"ticker"`
	Side           string      `json:"side"`
	OrderType      string      `json:"orderType"`
	TimeInForce    string      `json:"timeInForce"`
	TotalSize      flexDecimal `json:"totalSize"`
	FilledQuantity flexDecimal `json:"filledQuantity"`
	AvgPrice       flexDecimal `json:"avgPrice"`
	Price          flexDecimal `json:"price"`
	AuxPrice       flexDecimal `json:"auxPrice"`
	Status         string      `json:"status"`
	OrderRef       string      `json:"order_ref"`
	LastExecution  int64       `json:"lastExecutionTime_r"`
}

type liveOrders struct {
	Orders []liveOrder `json:"orders"`
}
