package kraken

import (
	"strings"

	"brokerhub/internal/broker"
)

// assetAliases maps Kraken asset codes to their common tickers.
var assetAliases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// legacyAssets are the four-letter X/Z-prefixed codes Kraken still uses for
// its oldest assets in balances and ticker keys.
var legacyAssets = map[string]bool{
	"XXBT": true, "XETH": true, "XXRP": true, "XLTC": true, "XXDG": true,
	"XXLM": true, "XXMR": true, "XZEC": true, "XETC": true, "XREP": true,
	"XMLN": true, "ZUSD": true, "ZEUR": true, "ZGBP": true, "ZCAD": true,
	"ZJPY": true, "ZAUD": true, "ZCHF": true,
}

// legacyQuotes are legacy asset codes that appear as the quote of a legacy
// pair name such as XXBTZUSD.
var legacyQuotes = []string{"ZUSD", "ZEUR", "ZGBP", "ZCAD", "ZJPY", "ZAUD", "ZCHF", "XXBT", "XETH"}

// quoteCurrencies are tried longest first so USDT wins over USD.
var quoteCurrencies = []string{"USDT", "USDC", "USD", "EUR", "GBP", "CAD", "JPY", "CHF", "AUD", "XBT", "ETH"}

// fiat assets are cash, not positions.
var fiat = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "JPY": true, "CHF": true, "AUD": true,
}

// canonicalAsset maps a Kraken asset code (XXBT, XBT, XBT.F, ZUSD) to its
// common ticker (BTC, USD).
func canonicalAsset(code string) string {
	code = strings.ToUpper(code)
	if i := strings.IndexByte(code, '.'); i > 0 {
		code = code[:i]
	}
	if legacyAssets[code] {
		code = code[1:]
	}
	if alias, ok := assetAliases[code]; ok {
		return alias
	}
	return code
}

// nativeAsset is the inverse of canonicalAsset for pair alt names.
func nativeAsset(ticker string) string {
	for native, common := range assetAliases {
		if common == ticker {
			return native
		}
	}
	return ticker
}

// normalize maps XBTUSD, XBT/USD and legacy XXBTZUSD to canonical BTC/USD.
// Anything that is not recognisably a pair is returned cleaned.
func normalize(native string) string {
	s := broker.CleanSymbol(native)
	if base, quote, ok := broker.SplitPair(s); ok {
		return canonicalAsset(base) + "/" + canonicalAsset(quote)
	}
	for _, q := range legacyQuotes {
		if base, ok := strings.CutSuffix(s, q); ok && len(base) >= 4 {
			return canonicalAsset(base) + "/" + canonicalAsset(q)
		}
	}
	for _, q := range quoteCurrencies {
		if base, ok := strings.CutSuffix(s, q); ok && len(base) >= 2 {
			return canonicalAsset(base) + "/" + canonicalAsset(q)
		}
	}
	return s
}

// denormalize maps canonical BTC/USD to Kraken's alt name XBTUSD.
func denormalize(canonical string) string {
	s := broker.CleanSymbol(canonical)
	base, quote, ok := broker.SplitPair(s)
	if !ok {
		return s
	}
	return nativeAsset(base) + nativeAsset(quote)
}
