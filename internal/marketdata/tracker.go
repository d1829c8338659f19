package marketdata

import (
	"sync"
	"time"

	"binary-options-engine-go/internal/models"
)

// Tracker maintains the running candle for the canonical feed symbol and
// applies the admin-set end-of-candle close adjustment. It is pure state so
// the candle and interpolation logic can be tested without a live feed.
type Tracker struct {
	mu           sync.Mutex
	symbol       string
	adjustWindow time.Duration

	candle  *models.Candle
	endTime time.Time

	closeTarget    float64
	hasCloseTarget bool

	now func() time.Time
}

// NewTracker creates a candle tracker for the symbol. adjustWindow is how
// long before the candle closes the close adjustment starts to apply.
func NewTracker(symbol string, adjustWindow time.Duration) *Tracker {
	return &Tracker{
		symbol:       symbol,
		adjustWindow: adjustWindow,
		now:          time.Now,
	}
}

// SetCloseTarget sets the price the current candle should close at. The
// raw tick price is nudged toward it linearly during the final stretch of
// the candle; the adjustment is cleared when the candle closes.
func (t *Tracker) SetCloseTarget(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeTarget = price
	t.hasCloseTarget = true
}

// ClearCloseTarget removes any pending close adjustment.
func (t *Tracker) ClearCloseTarget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeTarget = 0
	t.hasCloseTarget = false
}

// Candle returns a copy of the running candle, if any.
func (t *Tracker) Candle() (models.Candle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.candle == nil {
		return models.Candle{}, false
	}
	return *t.candle, true
}

// Apply ingests one tick and returns the effective price. When the frame
// marks the candle closed, the finished candle is returned for persistence
// and the pending close adjustment is cleared.
func (t *Tracker) Apply(start, end time.Time, price float64, closed bool) (float64, *models.Candle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.candle == nil || !t.candle.StartTime.Equal(start) {
		t.candle = &models.Candle{
			Symbol:    t.symbol,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			StartTime: start,
		}
		t.endTime = end
	}

	effective := t.adjust(price, end)

	if effective > t.candle.High {
		t.candle.High = effective
	}
	if effective < t.candle.Low {
		t.candle.Low = effective
	}
	t.candle.Close = effective

	if !closed {
		return effective, nil
	}

	finished := *t.candle
	t.candle = nil
	t.closeTarget = 0
	t.hasCloseTarget = false
	return effective, &finished
}

// adjust nudges the raw price toward the close target with linear (not
// eased) interpolation, but only inside the final adjustment window of the
// candle.
func (t *Tracker) adjust(price float64, end time.Time) float64 {
	if !t.hasCloseTarget {
		return price
	}
	remaining := end.Sub(t.now())
	if remaining > t.adjustWindow {
		return price
	}
	if remaining <= 0 {
		return t.closeTarget
	}
	progress := 1 - remaining.Seconds()/t.adjustWindow.Seconds()
	return price + (t.closeTarget-price)*progress
}
