package pricing

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrPriceUnavailable is returned when neither a current nor a base price
// exists for a symbol.
var ErrPriceUnavailable = errors.New("price unavailable")

const (
	TargetUp     = "UP"
	TargetDown   = "DOWN"
	TargetStable = "STABLE"
)

// defaultNoiseFraction bounds the noise added while converging toward a
// target, as a fraction of the remaining distance.
const defaultNoiseFraction = 0.01

// PriceTarget is an admin-set goal price the oracle's current price
// gradually converges toward. At most one target is active per symbol;
// setting a new one replaces the old.
type PriceTarget struct {
	Symbol      string    `json:"symbol"`
	StartPrice  float64   `json:"start_price"` // current price recorded when the target was set
	TargetPrice float64   `json:"target_price"`
	Direction   string    `json:"direction"` // UP, DOWN or STABLE relative to the start price
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// Oracle produces the externally visible current price for each symbol and
// applies the admin manipulation overlay. Decay is computed synchronously on
// each read; there is no background loop.
type Oracle struct {
	logger *zap.Logger
	state  *State

	mu      sync.Mutex
	targets map[string]*PriceTarget

	jitterFraction float64
	noiseFraction  float64
	now            func() time.Time
}

// NewOracle creates an oracle over the given price state. jitterFraction
// bounds the random noise applied to idle prices (fraction of the price).
func NewOracle(logger *zap.Logger, state *State, jitterFraction float64) *Oracle {
	return &Oracle{
		logger:         logger.Named("oracle"),
		state:          state,
		targets:        make(map[string]*PriceTarget),
		jitterFraction: jitterFraction,
		noiseFraction:  defaultNoiseFraction,
		now:            time.Now,
	}
}

// CurrentPrice returns the last computed price for the symbol, falling back
// to the configured base price if none has been computed yet.
func (o *Oracle) CurrentPrice(symbol string) (float64, error) {
	if p, ok := o.state.Current(symbol); ok {
		return p, nil
	}
	if p, ok := o.state.Base(symbol); ok {
		return p, nil
	}
	return 0, ErrPriceUnavailable
}

// ManipulatedPrice computes and stores the next current price for the
// symbol. With no active target it applies random jitter to the last price.
// With an active target it interpolates from the price recorded at target
// creation toward the target on an ease-in-out quadratic curve, plus noise
// bounded by the remaining distance. Once the target window has elapsed the
// price snaps exactly to the target, the target is cleared and the target
// price becomes the new base price.
func (o *Oracle) ManipulatedPrice(symbol string) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current, err := o.CurrentPrice(symbol)
	if err != nil {
		return 0, err
	}

	target, ok := o.targets[symbol]
	if !ok {
		price := current * (1 + (rand.Float64()*2-1)*o.jitterFraction)
		o.state.SetCurrent(symbol, price)
		return price, nil
	}

	now := o.now()
	if !now.Before(target.EndTime) {
		delete(o.targets, symbol)
		o.state.SetCurrent(symbol, target.TargetPrice)
		o.state.SetBase(symbol, target.TargetPrice)
		o.logger.Info("Price target reached",
			zap.String("symbol", symbol),
			zap.Float64("price", target.TargetPrice))
		return target.TargetPrice, nil
	}

	progress := now.Sub(target.StartTime).Seconds() / target.EndTime.Sub(target.StartTime).Seconds()
	price := target.StartPrice + (target.TargetPrice-target.StartPrice)*easeInOutQuad(progress)
	remaining := target.TargetPrice - price
	price += (rand.Float64()*2 - 1) * o.noiseFraction * remaining

	o.state.SetCurrent(symbol, price)
	return price, nil
}

// easeInOutQuad maps linear progress [0,1] onto a quadratic ease-in-out
// curve.
func easeInOutQuad(p float64) float64 {
	if p < 0.5 {
		return 2 * p * p
	}
	return 1 - math.Pow(-2*p+2, 2)/2
}

// SetPriceTarget records a new target for the symbol, unconditionally
// replacing any existing one. The direction is derived by comparing the
// target to the current price.
func (o *Oracle) SetPriceTarget(symbol string, targetPrice float64, durationSeconds int) (*PriceTarget, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current, err := o.CurrentPrice(symbol)
	if err != nil {
		return nil, err
	}

	direction := TargetStable
	switch {
	case targetPrice > current:
		direction = TargetUp
	case targetPrice < current:
		direction = TargetDown
	}

	now := o.now()
	target := &PriceTarget{
		Symbol:      symbol,
		StartPrice:  current,
		TargetPrice: targetPrice,
		Direction:   direction,
		StartTime:   now,
		EndTime:     now.Add(time.Duration(durationSeconds) * time.Second),
	}
	o.targets[symbol] = target

	o.logger.Info("Price target set",
		zap.String("symbol", symbol),
		zap.Float64("from", current),
		zap.Float64("to", targetPrice),
		zap.String("direction", direction),
		zap.Int("duration_seconds", durationSeconds))
	return target, nil
}

// CancelPriceTarget removes the active target for the symbol, if any.
// It reports whether a target was removed.
func (o *Oracle) CancelPriceTarget(symbol string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.targets[symbol]; !ok {
		return false
	}
	delete(o.targets, symbol)
	o.logger.Info("Price target cancelled", zap.String("symbol", symbol))
	return true
}

// ActiveTargets returns all targets whose window has not yet elapsed,
// lazily pruning expired ones.
func (o *Oracle) ActiveTargets() []PriceTarget {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	out := make([]PriceTarget, 0, len(o.targets))
	for symbol, target := range o.targets {
		if !now.Before(target.EndTime) {
			// Same snap a ManipulatedPrice read would have applied.
			delete(o.targets, symbol)
			o.state.SetCurrent(symbol, target.TargetPrice)
			o.state.SetBase(symbol, target.TargetPrice)
			continue
		}
		out = append(out, *target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SetBasePrice immediately overrides both the base and the current price for
// the symbol, without interpolation.
func (o *Oracle) SetBasePrice(symbol string, price float64) {
	o.state.SetBase(symbol, price)
	o.state.SetCurrent(symbol, price)
	o.logger.Info("Base price set", zap.String("symbol", symbol), zap.Float64("price", price))
}
