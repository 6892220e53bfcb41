package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	errInvalidPair      = errors.New("invalid market pair")
	errInvalidTimeframe = errors.New("invalid timeframe")
)

// Pair is a base/quote market such as BTC/USD.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair parses "BASE/QUOTE".
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("%w: %q", errInvalidPair, s)
	}
	return Pair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

// MustParsePair is ParsePair for literals known to be valid.
func MustParsePair(s string) Pair {
	p, err := ParsePair(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Symbol joins base and quote without a separator, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

// Other returns the currency of the pair that is not cur.
func (p Pair) Other(cur string) string {
	if cur == p.Base {
		return p.Quote
	}
	return p.Base
}

// ParseTimeframe converts "1m", "4h" or "1D" to a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("%w: %q", errInvalidTimeframe, tf)
	}
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidTimeframe, tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'D', 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %q", errInvalidTimeframe, tf)
}

// SmallestTimeframe returns the shortest of tfs.
func SmallestTimeframe(tfs []string) (string, error) {
	var best string
	var bestDur time.Duration
	for _, tf := range tfs {
		d, err := ParseTimeframe(tf)
		if err != nil {
			return "", err
		}
		if best == "" || d < bestDur {
			best, bestDur = tf, d
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: empty list", errInvalidTimeframe)
	}
	return best, nil
}
