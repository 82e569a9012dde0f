package model

import "strings"

// macroSymbols are the always-watched reference symbols: broad market, tech
// breadth and volatility. They are seeded on initialize regardless of the
// configured watchlist and unsubscribe requests for them are refused, so
// trend alignment and confluence always have market context to lean on.
var macroSymbols = map[string]struct{}{
	"SPY": {},
	"QQQ": {},
	"VIX": {},
}

// MacroSymbols returns the macro set as a sorted-insensitive slice copy.
func MacroSymbols() []string {
	out := make([]string, 0, len(macroSymbols))
	for s := range macroSymbols {
		out = append(out, s)
	}
	return out
}

// IsMacroSymbol reports whether symbol belongs to the protected macro set.
func IsMacroSymbol(symbol string) bool {
	_, ok := macroSymbols[NormalizeSymbol(symbol)]
	return ok
}

// NormalizeSymbol canonicalizes provider symbol spellings: uppercase, no
// surrounding whitespace, index prefixes ("^VIX", "$VIX") stripped.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "^")
	s = strings.TrimPrefix(s, "$")
	return s
}
