package marketdata

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"binary-options-engine-go/internal/config"
	"binary-options-engine-go/internal/events"
	"binary-options-engine-go/internal/pricing"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// klineFrame is the subset of the upstream kline stream payload the feed
// consumes: symbol, close price, candle boundaries and the closed flag.
type klineFrame struct {
	Symbol string `json:"s"`
	Kline  kline  `json:"k"`
}

type kline struct {
	StartTime int64  `json:"t"`
	EndTime   int64  `json:"T"`
	Close     string `json:"c"`
	Closed    bool   `json:"x"`
}

// Feed ingests the external market-data stream for the canonical symbol. It
// keeps the running candle up to date, writes every tick into the price
// state, broadcasts price updates and persists candles as they close. On
// disconnect it reconnects after a fixed delay.
type Feed struct {
	logger  *zap.Logger
	cfg     config.Feed
	db      *gorm.DB
	state   *pricing.State
	bus     *events.Bus
	tracker *Tracker
}

// NewFeed creates a feed client.
func NewFeed(logger *zap.Logger, cfg config.Feed, db *gorm.DB, state *pricing.State, bus *events.Bus, tracker *Tracker) *Feed {
	return &Feed{
		logger:  logger.Named("feed"),
		cfg:     cfg,
		db:      db,
		state:   state,
		bus:     bus,
		tracker: tracker,
	}
}

// Run consumes the stream until the context is cancelled, reconnecting
// after a fixed delay on any failure.
func (f *Feed) Run(ctx context.Context) {
	delay := time.Duration(f.cfg.ReconnectDelay) * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.consume(ctx); err != nil {
			f.logger.Warn("Feed disconnected", zap.Error(err), zap.Duration("reconnect_in", delay))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume dials the stream and reads frames until the connection drops.
func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.logger.Info("Feed connected", zap.String("url", f.cfg.URL), zap.String("symbol", f.cfg.Symbol))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.HandleMessage(data)
	}
}

// HandleMessage processes one raw frame. Malformed frames are logged and
// dropped; they never stop the ingestion loop.
func (f *Feed) HandleMessage(data []byte) {
	var frame klineFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.logger.Warn("Dropping malformed feed frame", zap.Error(err))
		return
	}
	if frame.Symbol != "" && frame.Symbol != f.cfg.Symbol {
		return
	}

	price, err := strconv.ParseFloat(frame.Kline.Close, 64)
	if err != nil || price <= 0 {
		f.logger.Warn("Dropping feed frame with bad price", zap.String("close", frame.Kline.Close))
		return
	}

	start := time.UnixMilli(frame.Kline.StartTime)
	end := time.UnixMilli(frame.Kline.EndTime)
	effective, finished := f.tracker.Apply(start, end, price, frame.Kline.Closed)

	f.state.SetCurrent(f.cfg.Symbol, effective)
	f.bus.Publish(events.TopicPriceUpdate, events.PriceUpdate{
		Symbol:    f.cfg.Symbol,
		Price:     effective,
		Timestamp: time.Now(),
	})

	if finished != nil {
		if err := f.db.Create(finished).Error; err != nil {
			f.logger.Error("Failed to persist closed candle",
				zap.String("symbol", finished.Symbol),
				zap.Time("start_time", finished.StartTime),
				zap.Error(err))
		} else {
			f.logger.Debug("Candle closed",
				zap.String("symbol", finished.Symbol),
				zap.Float64("close", finished.Close))
		}
	}
}
