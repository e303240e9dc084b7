package api

import (
	"github.com/uhyunpark/predikt/pkg/app/core/matcher"
	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/fxp"
)

// ==============================
// REST Types
// ==============================

// OutcomeBook is one outcome's aggregated order book.
type OutcomeBook struct {
	Outcome string                 `json:"outcome"`
	Bids    []orderbook.PriceLevel `json:"bids"` // Sorted high to low
	Asks    []orderbook.PriceLevel `json:"asks"` // Sorted low to high
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Market    string        `json:"market"`
	Orders    int           `json:"orders"` // resting orders across all outcomes
	Outcomes  []OutcomeBook `json:"outcomes"`
	Timestamp int64         `json:"timestamp"` // Unix milliseconds
}

// EstimateRequest is the payload for POST /api/v1/markets/{id}/estimate
type EstimateRequest struct {
	Side       orderbook.Type `json:"side"` // "buy" or "sell"
	Outcome    string         `json:"outcome"`
	Shares     fxp.Decimal    `json:"shares"`
	LimitPrice *fxp.Decimal   `json:"limitPrice,omitempty"` // omitted for a market order
}

type EstimateResponse struct {
	Market string `json:"market"`
	matcher.Classification
	Warning string `json:"warning,omitempty"`
}

// Execution kinds accepted by POST /api/v1/markets/{id}/execute
const (
	KindBuy       = "buy"
	KindSell      = "sell"
	KindShortSell = "short_sell"
)

type ExecuteRequest struct {
	Kind       string       `json:"kind"`
	Outcome    string       `json:"outcome"`
	Shares     fxp.Decimal  `json:"shares"`   // sell, short_sell
	TotalEth   fxp.Decimal  `json:"totalEth"` // buy
	LimitPrice *fxp.Decimal `json:"limitPrice,omitempty"`
	// TradingFees is the estimate shown to the user, echoed in results.
	TradingFees   fxp.Decimal `json:"tradingFees"`
	BuyerTradeIDs []string    `json:"buyerTradeIds,omitempty"` // short_sell only
	// TradeGroupID lets a client subscribe to progress before starting.
	// A UUID is generated when empty.
	TradeGroupID string `json:"tradeGroupId,omitempty"`
}

type ExecuteResponse struct {
	Status       string `json:"status"` // "accepted"
	TradeGroupID string `json:"tradeGroupId"`
	Channel      string `json:"channel"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["trades:6ba7b810-..."]
}

// Execution progress message types, one per engine callback.
const (
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgCommitSent   = "commit_sent"
	MsgCommitFailed = "commit_failed"
	MsgTradeSent    = "trade_sent"
	MsgTradeSuccess = "trade_success"
	MsgTradeFailed  = "trade_failed"
	MsgComplete     = "complete"
	MsgError        = "error"
)

// ErrorData carries a failed step's message.
type ErrorData struct {
	Error string `json:"error"`
}

func tradesChannel(tradeGroupID string) string { return "trades:" + tradeGroupID }
