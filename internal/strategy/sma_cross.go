package strategy

import "fmt"

const (
	DefaultBuyThreshold  = 1.002
	DefaultSellThreshold = 0.998
)

// SMACross compares a fast and a slow simple moving average with a
// hysteresis band: buy above slow*BuyThreshold, sell below slow*SellThreshold.
type SMACross struct {
	FastWindow    int
	SlowWindow    int
	BuyThreshold  float64
	SellThreshold float64
}

// NewSMACross creates a crossover with the default 1.002 / 0.998 band.
// fast < slow is usual but not required.
func NewSMACross(fast, slow int) SMACross {
	return SMACross{
		FastWindow:    fast,
		SlowWindow:    slow,
		BuyThreshold:  DefaultBuyThreshold,
		SellThreshold: DefaultSellThreshold,
	}
}

// Validate checks windows and thresholds.
func (s SMACross) Validate() error {
	if s.FastWindow <= 0 || s.SlowWindow <= 0 {
		return fmt.Errorf("sma cross: windows must be positive, got %d/%d", s.FastWindow, s.SlowWindow)
	}
	if s.BuyThreshold <= 0 || s.SellThreshold <= 0 {
		return fmt.Errorf("sma cross: thresholds must be positive")
	}
	if s.SellThreshold > s.BuyThreshold {
		return fmt.Errorf("sma cross: sell threshold %v above buy threshold %v", s.SellThreshold, s.BuyThreshold)
	}
	return nil
}

// Evaluate returns the signal for series. An empty series holds.
func (s SMACross) Evaluate(series []float64) Signal {
	if len(series) == 0 {
		return SignalHold
	}

	fast := SMA(series, s.FastWindow)
	slow := SMA(series, s.SlowWindow)

	switch {
	case fast > slow*s.BuyThreshold:
		return SignalBuy
	case fast < slow*s.SellThreshold:
		return SignalSell
	default:
		return SignalHold
	}
}

// SMA averages the last window samples, or every sample when the series is
// shorter. It returns 0 for an empty series.
func SMA(series []float64, window int) float64 {
	n := len(series)
	if n == 0 || window <= 0 {
		return 0
	}
	if window > n {
		window = n
	}

	var sum float64
	for _, v := range series[n-window:] {
		sum += v
	}
	return sum / float64(window)
}
