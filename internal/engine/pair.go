package engine

import (
	"fmt"
	"strings"
)

// TradingPair 交易对，只用来路由，本身不带任何精度信息
type TradingPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func NewTradingPair(base, quote string) TradingPair {
	return TradingPair{Base: strings.ToUpper(strings.TrimSpace(base)), Quote: strings.ToUpper(strings.TrimSpace(quote))}
}

// String BASE/QUOTE
func (p TradingPair) String() string { return p.Base + "/" + p.Quote }

// Key BASE-QUOTE：用在 url、topic、文件名里
func (p TradingPair) Key() string { return p.Base + "-" + p.Quote }

func (p TradingPair) Validate() error {
	if !validSymbol(p.Base) || !validSymbol(p.Quote) || p.Base == p.Quote {
		return fmt.Errorf("%w: %q", ErrBadPair, p.String())
	}
	return nil
}

// ParseTradingPair 接受 BTC/USD、btc-usd、BTC_USD
func ParseTradingPair(s string) (TradingPair, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "/-_")
	if i <= 0 || i == len(s)-1 {
		return TradingPair{}, fmt.Errorf("%w: %q", ErrBadPair, s)
	}
	p := NewTradingPair(s[:i], s[i+1:])
	if err := p.Validate(); err != nil {
		return TradingPair{}, err
	}
	return p, nil
}

func validSymbol(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
