package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/matcher"
	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/app/execution"
	"github.com/uhyunpark/predikt/pkg/settlement"
	"github.com/uhyunpark/predikt/pkg/util"
)

// Deps are the components the server exposes.
type Deps struct {
	Markets *market.Registry
	Ledger  settlement.Ledger
	Matcher *matcher.Matcher
	Engine  *execution.Engine
	// Account trades on behalf of every request.
	Account        common.Address
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
	Clock          util.Clock
}

// Server handles REST API and WebSocket connections
type Server struct {
	deps   Deps
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger

	// runs holds the cancel funcs of executions still in flight.
	baseCtx context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	runs    map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		deps:    d,
		router:  mux.NewRouter(),
		hub:     NewHub(d.Logger.Named("ws")),
		logger:  d.Logger,
		baseCtx: ctx,
		stop:    stop,
		runs:    make(map[string]context.CancelFunc),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{id}/{action:halt|resume|close}", s.handleMarketStatus).Methods("POST")

	// Trading
	api.HandleFunc("/markets/{id}/estimate", s.handleEstimate).Methods("POST")
	api.HandleFunc("/markets/{id}/execute", s.handleExecute).Methods("POST")
	api.HandleFunc("/executions/{tradeGroupId}", s.handleCancelExecution).Methods("DELETE")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// RunHub starts the WebSocket hub; it stops with ctx.
func (s *Server) RunHub(ctx context.Context) { go s.hub.Run(ctx) }

// Start serves on addr until ctx is done, then cancels running executions
// and shuts down.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.RunHub(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels every execution and waits for them to report.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := len(s.runs)
	s.mu.Unlock()
	respondJSON(w, map[string]interface{}{
		"status":     "ok",
		"markets":    s.deps.Markets.Count(),
		"executions": running,
	})
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.deps.Markets.List())
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	respondJSON(w, m)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	outcomes := m.Outcomes
	if o := r.URL.Query().Get("outcome"); o != "" {
		if !m.HasOutcome(o) {
			respondError(w, http.StatusBadRequest, "unknown outcome", o)
			return
		}
		outcomes = []string{o}
	}

	book, err := s.deps.Ledger.OrderBook(r.Context(), m.ID)
	if err != nil {
		s.logger.Warnw("orderbook_load_failed", "market", m.ID, "err", err)
		respondError(w, http.StatusBadGateway, "orderbook unavailable", err.Error())
		return
	}

	snap := OrderbookSnapshot{
		Market:    m.ID,
		Orders:    book.Len(),
		Outcomes:  make([]OutcomeBook, 0, len(outcomes)),
		Timestamp: s.deps.Clock.Now().UnixMilli(),
	}
	for _, o := range outcomes {
		snap.Outcomes = append(snap.Outcomes, OutcomeBook{
			Outcome: o,
			Bids:    book.Levels(o, orderbook.Buy),
			Asks:    book.Levels(o, orderbook.Sell),
		})
	}
	respondJSON(w, snap)
}

// handleMarketStatus halts, resumes or closes a market. Executions already
// running are not affected.
func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	var err error
	switch vars["action"] {
	case "halt":
		err = s.deps.Markets.Halt(id)
	case "resume":
		err = s.deps.Markets.Resume(id)
	case "close":
		err = s.deps.Markets.Close(id)
	}
	switch {
	case errors.Is(err, market.ErrMarketNotFound):
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	case errors.Is(err, market.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid status change", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "status change failed", err.Error())
		return
	}
	m, _ := s.deps.Markets.Get(id)
	s.logger.Infow("market_status_changed", "market", id, "status", m.Status)
	respondJSON(w, m)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !m.HasOutcome(req.Outcome) {
		respondError(w, http.StatusBadRequest, "unknown outcome", req.Outcome)
		return
	}

	ctx := r.Context()
	book, err := s.deps.Ledger.OrderBook(ctx, m.ID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "orderbook unavailable", err.Error())
		return
	}
	position, err := s.deps.Ledger.Position(ctx, m.ID, req.Outcome, s.deps.Account)
	if err != nil {
		respondError(w, http.StatusBadGateway, "position unavailable", err.Error())
		return
	}

	c, err := s.deps.Matcher.Classify(matcher.Trade{
		Side:         req.Side,
		Shares:       req.Shares,
		LimitPrice:   req.LimitPrice,
		Fees:         m.Fees(),
		UserPosition: position,
		UserID:       s.deps.Account,
		Outcome:      req.Outcome,
		Scalar:       m.ScalarRange(),
	}, book)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trade", err.Error())
		return
	}

	resp := EstimateResponse{Market: m.ID, Classification: c}
	if err := c.Err(); err != nil {
		resp.Warning = err.Error()
	}
	respondJSON(w, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	m, ok := s.market(w, r)
	if !ok {
		return
	}
	if !m.Tradable() {
		respondError(w, http.StatusConflict, "market not tradable", m.Status.String())
		return
	}
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !m.HasOutcome(req.Outcome) {
		respondError(w, http.StatusBadRequest, "unknown outcome", req.Outcome)
		return
	}

	id := req.TradeGroupID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid tradeGroupId", err.Error())
		return
	}
	start, err := s.starter(m.ID, id, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid execution", err.Error())
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	if _, running := s.runs[id]; running {
		s.mu.Unlock()
		cancel()
		respondError(w, http.StatusConflict, "execution already running", id)
		return
	}
	s.runs[id] = cancel
	s.mu.Unlock()

	channel := tradesChannel(id)
	s.wg.Add(1)
	done := start(ctx, s.callbacks(channel))
	go func() {
		defer s.wg.Done()
		out := <-done
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
		cancel()
		s.logger.Infow("execution_finished", "trade_group", id, "market", m.ID, "kind", req.Kind, "err", out.Err)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ExecuteResponse{Status: "accepted", TradeGroupID: id, Channel: channel})
}

type startFunc func(context.Context, execution.Callbacks) <-chan execution.Outcome

// starter validates req and returns the engine call that runs it.
func (s *Server) starter(marketID, tradeGroupID string, req ExecuteRequest) (startFunc, error) {
	switch req.Kind {
	case KindBuy, KindSell:
		er := execution.Request{
			Market:       marketID,
			Outcome:      req.Outcome,
			LimitPrice:   req.LimitPrice,
			TradingFees:  req.TradingFees,
			TradeGroupID: tradeGroupID,
			Sender:       s.deps.Account,
		}
		if req.Kind == KindBuy {
			er.TotalEth = req.TotalEth
		} else {
			er.Shares = req.Shares
		}
		if err := er.Validate(); err != nil {
			return nil, err
		}
		return func(ctx context.Context, cb execution.Callbacks) <-chan execution.Outcome {
			return s.deps.Engine.Start(ctx, er, cb)
		}, nil

	case KindShortSell:
		sr := execution.ShortSellRequest{
			Market:        marketID,
			Outcome:       req.Outcome,
			Shares:        req.Shares,
			BuyerTradeIDs: req.BuyerTradeIDs,
			LimitPrice:    req.LimitPrice,
			TradeGroupID:  tradeGroupID,
			Sender:        s.deps.Account,
		}
		if err := sr.Validate(); err != nil {
			return nil, err
		}
		return func(ctx context.Context, cb execution.Callbacks) <-chan execution.Outcome {
			return s.deps.Engine.StartShortSell(ctx, sr, cb)
		}, nil
	}
	return nil, errors.New("kind must be buy, sell or short_sell")
}

// callbacks forward every engine event to channel.
func (s *Server) callbacks(channel string) execution.Callbacks {
	send := func(t string, data interface{}) { s.hub.BroadcastToChannel(channel, t, data) }
	sendErr := func(t string, err error) { send(t, ErrorData{Error: err.Error()}) }
	return execution.Callbacks{
		OnCommitSent:   func(e execution.CommitEvent) { send(MsgCommitSent, e) },
		OnCommitFailed: func(err error) { sendErr(MsgCommitFailed, err) },
		OnTradeSent:    func(e execution.CommitEvent) { send(MsgTradeSent, e) },
		OnTradeSuccess: func(r execution.Result) { send(MsgTradeSuccess, r) },
		OnTradeFailed:  func(err error) { sendErr(MsgTradeFailed, err) },
		OnComplete:     func(r execution.Result) { send(MsgComplete, r) },
		OnError:        func(err error) { sendErr(MsgError, err) },
	}
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["tradeGroupId"]
	s.mu.Lock()
	cancel, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "execution not found", id)
		return
	}
	cancel()
	respondJSON(w, map[string]string{"status": "cancelling", "tradeGroupId": id})
}

// market resolves {id}, writing a 404 when it is unknown.
func (s *Server) market(w http.ResponseWriter, r *http.Request) (market.Market, bool) {
	id := mux.Vars(r)["id"]
	m, err := s.deps.Markets.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return market.Market{}, false
	}
	return m, true
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
