package controller

import "strings"

// DefaultContractSize is the standard FX lot.
const DefaultContractSize = 100000

// DefaultContractSizes lists units per lot for symbols whose lot differs from,
// or must be pinned to, the FX standard.
var DefaultContractSizes = map[string]float64{
	"EURUSD": 100000,
	"GBPUSD": 100000,
	"USDJPY": 100000,
	"USDCHF": 100000,
	"AUDUSD": 100000,
	"USDCAD": 100000,
	"NZDUSD": 100000,
	"EURGBP": 100000,
	"EURJPY": 100000,
	"GBPJPY": 100000,

	"XAUUSD": 100,
	"XAGUSD": 5000,
}

// ContractSize looks up the contract size for a raw or normalized symbol.
func ContractSize(symbol string) float64 {
	s := strings.ToUpper(strings.TrimSpace(NormalizeSymbol(symbol)))
	if s == "" {
		return DefaultContractSize
	}
	if size, ok := DefaultContractSizes[s]; ok {
		return size
	}
	return DefaultContractSize
}

// Instrument categories.
const (
	InstrumentForex   = "Forex"
	InstrumentMetals  = "Metals"
	InstrumentCrypto  = "Crypto"
	InstrumentIndices = "Indices"
	InstrumentOther   = "Other"
)

var instrumentMarkers = []struct {
	category string
	markers  []string
}{
	{InstrumentForex, []string{"USD", "EUR", "GBP", "JPY", "AUD", "CAD", "CHF", "NZD"}},
	{InstrumentMetals, []string{"GOLD", "XAU", "SILVER", "XAG"}},
	{InstrumentCrypto, []string{"BTC", "ETH", "CRYPTO"}},
	{InstrumentIndices, []string{"US30", "US100", "SPX", "NDX", "DAX"}},
}

// InstrumentType classifies a symbol by substring markers, first match wins.
// XAUUSD is reported as Forex.
func InstrumentType(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, group := range instrumentMarkers {
		for _, m := range group.markers {
			if strings.Contains(s, m) {
				return group.category
			}
		}
	}
	return InstrumentOther
}
