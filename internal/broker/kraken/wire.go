package kraken

import (
	"time"

	"github.com/shopspring/decimal"
)

// balanceEx is one entry of the BalanceEx result.
type balanceEx struct {
	Balance   decimal.Decimal `json:"balance"`
	HoldTrade decimal.Decimal `json:"hold_trade"`
}

// tradeBalance is the TradeBalance result. Fields use Kraken's one- and
// two-letter names.
type tradeBalance struct {
	EquivalentBalance decimal.Decimal `json:"eb"`
	TradeBalance      decimal.Decimal `json:"tb"`
	MarginUsed        decimal.Decimal `json:"m"`
	UnrealizedNet     decimal.Decimal `json:"n"`
	Equity            decimal.Decimal `json:"e"`
	FreeMargin        decimal.Decimal `json:"mf"`
}

// ticker is one Ticker result entry: a=[price, whole lot volume, lot
// volume], b the same for bid, c=[price, lot volume] for the last trade.
type ticker struct {
	Ask  []decimal.Decimal `json:"a"`
	Bid  []decimal.Decimal `json:"b"`
	Last []decimal.Decimal `json:"c"`
}

func at(v []decimal.Decimal, i int) decimal.Decimal {
	if i < len(v) {
		return v[i]
	}
	return decimal.Zero
}

type assetPair struct {
	Altname string `json:"altname"`
	WSName  string `json:"wsname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Status  string `json:"status"`
}

type systemStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type feeTier struct {
	Fee        decimal.Decimal `json:"fee"`
	MinFee     decimal.Decimal `json:"minfee"`
	MaxFee     decimal.Decimal `json:"maxfee"`
	NextFee    decimal.Decimal `json:"nextfee"`
	TierVolume decimal.Decimal `json:"tiervolume"`
	NextVolume decimal.Decimal `json:"nextvolume"`
}

type tradeVolume struct {
	Currency  string             `json:"currency"`
	Volume    decimal.Decimal    `json:"volume"`
	Fees      map[string]feeTier `json:"fees"`
	FeesMaker map[string]feeTier `json:"fees_maker"`
}

// first returns the only entry of a single-pair fee map.
func first(m map[string]feeTier) (feeTier, bool) {
	for _, v := range m {
		return v, true
	}
	return feeTier{}, false
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type cancelResult struct {
	Count int `json:"count"`
}

type orderDescr struct {
	Pair      string          `json:"pair"`
	Type      string          `json:"type"`
	OrderType string          `json:"ordertype"`
	Price     decimal.Decimal `json:"price"`
	Price2    decimal.Decimal `json:"price2"`
}

type orderInfo struct {
	ClOrdID  string          `json:"cl_ord_id"`
	Status   string          `json:"status"`
	OpenTm   float64         `json:"opentm"`
	CloseTm  float64         `json:"closetm"`
	Descr    orderDescr      `json:"descr"`
	Vol      decimal.Decimal `json:"vol"`
	VolExec  decimal.Decimal `json:"vol_exec"`
	Price    decimal.Decimal `json:"price"`
	OFlags   string          `json:"oflags"`
	Reason   string          `json:"reason"`
	TIF      string          `json:"timeinforce"`
}

type openOrders struct {
	Open map[string]orderInfo `json:"open"`
}

type closedOrders struct {
	Closed map[string]orderInfo `json:"closed"`
	Count  int                  `json:"count"`
}

func unixSeconds(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}
