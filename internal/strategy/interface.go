package strategy

import "tradesim/internal/domain"

// Signal is the decision a strategy takes on one evaluation.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

// String returns the string representation of Signal
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Side maps a trading signal to an order side. Hold has no side.
func (s Signal) Side() (domain.Side, bool) {
	switch s {
	case SignalBuy:
		return domain.SideBuy, true
	case SignalSell:
		return domain.SideSell, true
	default:
		return "", false
	}
}

// Strategy turns a price series (oldest first) into a signal.
// Implementations are stateless so one value can serve many bots.
type Strategy interface {
	Evaluate(series []float64) Signal
}
