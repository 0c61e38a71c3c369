package feed

import (
	"sort"
	"strings"
)

// symbolMap translates the exchange's book-ticker symbols into the
// platform's canonical instrument symbols. Frames for symbols outside this
// table are dropped.
var symbolMap = map[string]string{
	"BTCUSDT":  "BTC-USD",
	"ETHUSDT":  "ETH-USD",
	"SOLUSDT":  "SOL-USD",
	"BNBUSDT":  "BNB-USD",
	"XRPUSDT":  "XRP-USD",
	"ADAUSDT":  "ADA-USD",
	"DOGEUSDT": "DOGE-USD",
	"AVAXUSDT": "AVAX-USD",
	"DOTUSDT":  "DOT-USD",
	"LINKUSDT": "LINK-USD",
}

// PlatformSymbol maps an exchange symbol to the platform symbol.
func PlatformSymbol(external string) (string, bool) {
	s, ok := symbolMap[external]
	return s, ok
}

// StreamingSymbols returns the platform symbols the feed covers, sorted.
// The fallback loader uses this to decide which instruments it owns.
func StreamingSymbols() []string {
	out := make([]string, 0, len(symbolMap))
	for _, s := range symbolMap {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// streamPath builds the combined-stream subscription path, e.g.
// /stream?streams=btcusdt@bookTicker/ethusdt@bookTicker. Subscription is
// entirely URL-embedded; no ack handshake is required.
func streamPath() string {
	externals := make([]string, 0, len(symbolMap))
	for ext := range symbolMap {
		externals = append(externals, strings.ToLower(ext)+"@bookTicker")
	}
	sort.Strings(externals)
	return "/stream?streams=" + strings.Join(externals, "/")
}
