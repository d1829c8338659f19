package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"binary-options-engine-go/internal/copytrade"
	"binary-options-engine-go/internal/marketdata"
	"binary-options-engine-go/internal/models"
	"binary-options-engine-go/internal/pricing"
	"binary-options-engine-go/internal/trade"
	"binary-options-engine-go/internal/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps collects the components the API server exposes.
type Deps struct {
	DB       *gorm.DB
	Manager  *trade.Manager
	Wallets  *wallet.Service
	Copies   *copytrade.Service
	Oracle   *pricing.Oracle
	State    *pricing.State
	Tracker  *marketdata.Tracker
	Exposure *trade.Exposure
	Hub      *Hub
}

// APIServer provides the HTTP interface for the trading engine: user order
// and copy endpoints, admin pricing controls and the websocket broadcast.
// Identity is external; the authenticated user id arrives in the X-User-ID
// header and is not re-validated here.
type APIServer struct {
	server *http.Server
	logger *zap.Logger
	deps   Deps
}

// NewAPIServer creates a new APIServer listening on the given port.
func NewAPIServer(logger *zap.Logger, port int, deps Deps) *APIServer {
	s := &APIServer{
		logger: logger.Named("api-server"),
		deps:   deps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws", deps.Hub.ServeWS)

	mux.HandleFunc("GET /api/prices", s.pricesHandler)
	mux.HandleFunc("POST /api/orders", s.createOrderHandler)
	mux.HandleFunc("GET /api/orders/open", s.openOrdersHandler)
	mux.HandleFunc("GET /api/orders/history", s.orderHistoryHandler)
	mux.HandleFunc("GET /api/wallet", s.walletHandler)
	mux.HandleFunc("GET /api/wallet/transactions", s.walletTransactionsHandler)
	mux.HandleFunc("POST /api/wallet/deposit", s.depositHandler)
	mux.HandleFunc("POST /api/wallet/withdraw", s.withdrawHandler)
	mux.HandleFunc("POST /api/copy/follow", s.followHandler)
	mux.HandleFunc("POST /api/copy/unfollow", s.unfollowHandler)
	mux.HandleFunc("GET /api/copy/following", s.followingHandler)

	mux.HandleFunc("POST /admin/price-targets", s.setPriceTargetHandler)
	mux.HandleFunc("GET /admin/price-targets", s.priceTargetsHandler)
	mux.HandleFunc("DELETE /admin/price-targets/{symbol}", s.cancelPriceTargetHandler)
	mux.HandleFunc("POST /admin/base-price", s.setBasePriceHandler)
	mux.HandleFunc("POST /admin/candle-close", s.setCandleCloseHandler)
	mux.HandleFunc("DELETE /admin/candle-close", s.clearCandleCloseHandler)
	mux.HandleFunc("POST /admin/trading/pause", s.pauseTradingHandler)
	mux.HandleFunc("POST /admin/trading/resume", s.resumeTradingHandler)
	mux.HandleFunc("GET /admin/instruments", s.instrumentsHandler)
	mux.HandleFunc("POST /admin/instruments", s.createInstrumentHandler)
	mux.HandleFunc("PATCH /admin/instruments/{id}", s.updateInstrumentHandler)
	mux.HandleFunc("GET /admin/exposure", s.exposureHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) pricesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.State.Snapshot())
}

func (s *APIServer) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		InstrumentID uint    `json:"instrument_id"`
		Direction    string  `json:"direction"`
		Amount       float64 `json:"amount"`
		Timeframe    int     `json:"timeframe"` // seconds
	}
	if !s.decode(w, r, &req) {
		return
	}
	order, err := s.deps.Manager.CreateOrder(userID, req.InstrumentID, req.Direction, req.Amount, req.Timeframe)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, order)
}

func (s *APIServer) openOrdersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	orders, err := s.deps.Manager.OpenOrders(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *APIServer) orderHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	orders, err := s.deps.Manager.History(userID, 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *APIServer) walletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	wlt, err := s.deps.Wallets.Get(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wlt)
}

func (s *APIServer) walletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	txs, err := s.deps.Wallets.Transactions(userID, 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

func (s *APIServer) depositHandler(w http.ResponseWriter, r *http.Request) {
	s.balanceMutation(w, r, s.deps.Wallets.Credit)
}

func (s *APIServer) withdrawHandler(w http.ResponseWriter, r *http.Request) {
	s.balanceMutation(w, r, s.deps.Wallets.Debit)
}

// balanceMutation handles the deposit/withdraw primitives. The approval
// workflow around them lives outside this core.
func (s *APIServer) balanceMutation(w http.ResponseWriter, r *http.Request, op func(string, float64, string) error) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, trade.ErrInvalidAmount)
		return
	}
	if err := op(userID, req.Amount, uuid.NewString()); err != nil {
		s.writeError(w, err)
		return
	}
	wlt, err := s.deps.Wallets.Get(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wlt)
}

func (s *APIServer) followHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		TraderID  string  `json:"trader_id"`
		CopyType  string  `json:"copy_type"`
		Value     float64 `json:"value"`
		MaxAmount float64 `json:"max_amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	rel, err := s.deps.Copies.Follow(userID, req.TraderID, req.CopyType, req.Value, req.MaxAmount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rel)
}

func (s *APIServer) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		TraderID string `json:"trader_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Copies.Unfollow(userID, req.TraderID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) followingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	rels, err := s.deps.Copies.Following(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rels)
}

func (s *APIServer) setPriceTargetHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol          string  `json:"symbol"`
		Price           float64 `json:"price"`
		DurationSeconds int     `json:"duration_seconds"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	target, err := s.deps.Oracle.SetPriceTarget(req.Symbol, req.Price, req.DurationSeconds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, target)
}

func (s *APIServer) priceTargetsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Oracle.ActiveTargets())
}

func (s *APIServer) cancelPriceTargetHandler(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if !s.deps.Oracle.CancelPriceTarget(symbol) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active target for symbol"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) setBasePriceHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.deps.Oracle.SetBasePrice(req.Symbol, req.Price)
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) setCandleCloseHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price float64 `json:"price"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.deps.Tracker.SetCloseTarget(req.Price)
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) clearCandleCloseHandler(w http.ResponseWriter, r *http.Request) {
	s.deps.Tracker.ClearCloseTarget()
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) pauseTradingHandler(w http.ResponseWriter, r *http.Request) {
	s.setAllInstrumentsActive(w, false)
}

func (s *APIServer) resumeTradingHandler(w http.ResponseWriter, r *http.Request) {
	s.setAllInstrumentsActive(w, true)
}

func (s *APIServer) setAllInstrumentsActive(w http.ResponseWriter, active bool) {
	err := s.deps.DB.Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&models.Instrument{}).
		Update("active", active).Error
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Trading flag flipped", zap.Bool("active", active))
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) instrumentsHandler(w http.ResponseWriter, r *http.Request) {
	var instruments []models.Instrument
	if err := s.deps.DB.Find(&instruments).Error; err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instruments)
}

func (s *APIServer) createInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol     string  `json:"symbol"`
		PayoutRate float64 `json:"payout_rate"`
		BasePrice  float64 `json:"base_price"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Symbol == "" || req.PayoutRate <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol and positive payout_rate required"})
		return
	}
	instrument := models.Instrument{
		Symbol:     req.Symbol,
		PayoutRate: req.PayoutRate,
		BasePrice:  req.BasePrice,
		Active:     true,
	}
	if err := s.deps.DB.Create(&instrument).Error; err != nil {
		s.writeError(w, err)
		return
	}
	if req.BasePrice > 0 {
		s.deps.State.SetBase(req.Symbol, req.BasePrice)
	}
	s.writeJSON(w, http.StatusCreated, instrument)
}

func (s *APIServer) updateInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid instrument id"})
		return
	}
	var req struct {
		PayoutRate *float64 `json:"payout_rate"`
		Active     *bool    `json:"active"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	var instrument models.Instrument
	if err := s.deps.DB.First(&instrument, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, trade.ErrInvalidInstrument)
			return
		}
		s.writeError(w, err)
		return
	}
	if req.PayoutRate != nil {
		instrument.PayoutRate = *req.PayoutRate
	}
	if req.Active != nil {
		instrument.Active = *req.Active
	}
	if err := s.deps.DB.Save(&instrument).Error; err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instrument)
}

func (s *APIServer) exposureHandler(w http.ResponseWriter, r *http.Request) {
	total, err := s.deps.Exposure.TotalExposure()
	if err != nil {
		s.writeError(w, err)
		return
	}
	bySymbol, err := s.deps.Exposure.ExposureBySymbol()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_symbol": bySymbol,
	})
}

// userID extracts the authenticated user id supplied by the identity layer.
func (s *APIServer) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing user id"})
		return "", false
	}
	return userID, true
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP statuses with a precise reason.
func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, trade.ErrInvalidInstrument),
		errors.Is(err, trade.ErrInvalidAmount),
		errors.Is(err, trade.ErrInvalidDirection),
		errors.Is(err, trade.ErrInvalidTimeframe),
		errors.Is(err, copytrade.ErrSelfFollow),
		errors.Is(err, copytrade.ErrInvalidCopyType),
		errors.Is(err, copytrade.ErrInvalidCopyValue):
		status = http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientBalance):
		status = http.StatusConflict
	case errors.Is(err, trade.ErrNotFound), errors.Is(err, copytrade.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pricing.ErrPriceUnavailable):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
