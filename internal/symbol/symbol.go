// Package symbol derives and parses the custody keys under which holdings
// are tracked. Stocks are held under their own ticker; long option and
// futures legs are held under synthetic keys "{ticker}_OPT" and
// "{ticker}_FUT". The engine otherwise treats tickers as opaque strings.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/atmx/treasury-engine/internal/model"
)

// Synthetic key suffixes.
const (
	SuffixOption = "_OPT"
	SuffixFuture = "_FUT"
)

// keyRegex matches: {ticker}[_OPT|_FUT]
// Example: PETR4, PETRA300_OPT, WINZ25_FUT
var keyRegex = regexp.MustCompile(`^(\S+?)(_OPT|_FUT)?$`)

var (
	ErrEmptySymbol = errors.New("symbol: empty ticker")
	ErrInvalidKey  = errors.New("symbol: invalid custody key")
)

// Key is a parsed custody key.
type Key struct {
	Raw    string          `json:"raw"`
	Ticker string          `json:"ticker"`
	Kind   model.AssetKind `json:"kind"`
}

// CustodyKey returns the custody key a leg of the given kind is held under.
func CustodyKey(ticker string, kind model.LegKind) (string, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return "", ErrEmptySymbol
	}
	switch kind {
	case model.KindStock:
		return ticker, nil
	case model.KindCall, model.KindPut:
		return ticker + SuffixOption, nil
	case model.KindFuture:
		return ticker + SuffixFuture, nil
	default:
		return "", fmt.Errorf("%w: unknown leg kind %q", ErrInvalidKey, kind)
	}
}

// AssetKind maps a leg kind to the custody row kind it produces.
func AssetKind(kind model.LegKind) model.AssetKind {
	switch kind {
	case model.KindCall, model.KindPut:
		return model.AssetOption
	case model.KindFuture:
		return model.AssetFuture
	default:
		return model.AssetStock
	}
}

// Parse splits a custody key into its ticker and asset kind.
func Parse(key string) (*Key, error) {
	matches := keyRegex.FindStringSubmatch(key)
	if matches == nil || (matches[2] == "" && IsSynthetic(key)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	k := &Key{Raw: key, Ticker: matches[1], Kind: model.AssetStock}
	switch matches[2] {
	case SuffixOption:
		k.Kind = model.AssetOption
	case SuffixFuture:
		k.Kind = model.AssetFuture
	}
	return k, nil
}

// IsSynthetic reports whether the key denotes an option or futures holding.
func IsSynthetic(key string) bool {
	return strings.HasSuffix(key, SuffixOption) || strings.HasSuffix(key, SuffixFuture)
}
