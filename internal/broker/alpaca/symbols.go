package alpaca

import (
	"strings"

	"brokerhub/internal/broker"
)

// cryptoBases is a snapshot of the assets Alpaca listed as crypto pairs. A
// Broker also learns bases from asset lookups, so pairs listed later still
// normalize once IsSymbolSupported has seen them.
var cryptoBases = map[string]bool{
	"AAVE": true, "AVAX": true, "BAT": true, "BCH": true, "BTC": true,
	"CRV": true, "DOGE": true, "DOT": true, "ETH": true, "GRT": true,
	"LINK": true, "LTC": true, "MKR": true, "PEPE": true, "SHIB": true,
	"SOL": true, "SUSHI": true, "TRUMP": true, "UNI": true, "USDC": true,
	"USDT": true, "XRP": true, "XTZ": true, "YFI": true,
}

// quoteCurrencies are tried longest first so USDT wins over USD.
var quoteCurrencies = []string{"USDT", "USDC", "USD", "BTC"}

func isSnapshotBase(base string) bool { return cryptoBases[base] }

// normalize maps Alpaca's native "BTCUSD" to canonical "BTC/USD". Equity
// tickers and already-canonical pairs pass through. isBase decides which
// prefixes are crypto assets.
func normalize(native string, isBase func(string) bool) string {
	s := broker.CleanSymbol(native)
	if broker.IsPair(s) {
		return s
	}
	for _, q := range quoteCurrencies {
		base, ok := strings.CutSuffix(s, q)
		if ok && base != q && isBase(base) {
			return base + "/" + q
		}
	}
	return s
}

// pairCandidate reports whether s could be a concatenated pair with a base
// outside the snapshot, such as "NEWUSD".
func pairCandidate(s string) bool {
	if broker.IsPair(s) {
		return false
	}
	for _, q := range quoteCurrencies {
		if base, ok := strings.CutSuffix(s, q); ok && base != "" {
			return true
		}
	}
	return false
}

// cryptoBase extracts the base asset from an Alpaca crypto asset symbol,
// either "NEW/USD" or "NEWUSD".
func cryptoBase(symbol string) (string, bool) {
	s := broker.CleanSymbol(symbol)
	if base, _, ok := broker.SplitPair(s); ok {
		return base, true
	}
	for _, q := range quoteCurrencies {
		if base, ok := strings.CutSuffix(s, q); ok && base != "" {
			return base, true
		}
	}
	return "", false
}

// denormalize maps canonical "BTC/USD" to Alpaca's native "BTCUSD".
func denormalize(canonical string) string {
	s := broker.CleanSymbol(canonical)
	if base, quote, ok := broker.SplitPair(s); ok {
		return base + quote
	}
	return s
}
