package exchange

import "strings"

// NormalizeSymbol converts the exchange's symbol notation into the internal
// canonical form: uppercase, with any market suffix stripped. The exchange
// reports "aapl.us" or "ASML.EU"; internally both sides of a comparison use
// the bare ticker.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	return s
}
