package analyze

import (
	"regexp"
	"strings"
)

// Symbol describes one recognized instrument.
type Symbol struct {
	Ticker string
	Name   string
}

// knownSymbols is the static table of Bucharest Stock Exchange tickers and
// market entities the normalizer recognizes. Tokens outside this table are
// dropped from model output.
var knownSymbols = map[string]Symbol{
	"BVB": {Ticker: "BVB", Name: "Bursa de Valori Bucuresti"},
	"BET": {Ticker: "BET", Name: "BET Index"},
	"SNG": {Ticker: "SNG", Name: "SN Petrom"},
	"SNP": {Ticker: "SNP", Name: "OMV Petrom"},
	"TLV": {Ticker: "TLV", Name: "Banca Transilvania"},
	"BRD": {Ticker: "BRD", Name: "BRD Groupe Societe Generale"},
	"BCR": {Ticker: "BCR", Name: "Banca Comerciala Romana"},
	"BNR": {Ticker: "BNR", Name: "Banca Nationala a Romaniei"},
	"FP":  {Ticker: "FP", Name: "Fondul Proprietatea"},
	"EL":  {Ticker: "EL", Name: "Electrica"},
	"TGN": {Ticker: "TGN", Name: "Transgaz"},
	"OTE": {Ticker: "OTE", Name: "Orange Romania"},
	"CVE": {Ticker: "CVE", Name: "Romgaz"},
	"SNN": {Ticker: "SNN", Name: "Nuclearelectrica"},
	"CMP": {Ticker: "CMP", Name: "Compa Sibiu"},
	"ARO": {Ticker: "ARO", Name: "Aerostar"},
	"PTR": {Ticker: "PTR", Name: "Petrolexportimport"},
	"VNC": {Ticker: "VNC", Name: "Vrancart"},
	"MED": {Ticker: "MED", Name: "MedLife"},
}

// LookupSymbol returns metadata for a recognized ticker.
func LookupSymbol(ticker string) (Symbol, bool) {
	s, ok := knownSymbols[strings.ToUpper(strings.TrimSpace(ticker))]
	return s, ok
}

// NormalizeInstruments uppercases model-reported tokens, drops anything not
// in the symbol table, and dedups while preserving order.
func NormalizeInstruments(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, token := range raw {
		ticker := strings.ToUpper(strings.TrimSpace(token))
		if _, ok := knownSymbols[ticker]; !ok {
			continue
		}
		if seen[ticker] {
			continue
		}
		seen[ticker] = true
		out = append(out, ticker)
	}
	return out
}

var tickerPattern = regexp.MustCompile(`\b[A-Z]{2,4}\b`)

// DetectInstruments scans article text for known tickers, used as a hint in
// the analysis prompt.
func DetectInstruments(text string) []string {
	return NormalizeInstruments(tickerPattern.FindAllString(text, -1))
}
