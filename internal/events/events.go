// Package events publishes accepted trades to downstream sinks: a Kafka
// topic for other services and a WebSocket tape for browsers.
//
// Every sink implements ledger.Notifier. Publishing happens after the
// trade is committed and never fails it; sink errors are logged and
// counted.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/ledger"
	"github.com/papertrade/finance/internal/model"
)

// TypeTradeExecuted is the event type of an accepted trade.
const TypeTradeExecuted = "trade.executed"

// TradeEvent is the payload written to Kafka for every accepted trade.
type TradeEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Shares    int64     `json:"shares"` // signed: buys positive, sells negative
	Price     string    `json:"price"`
	Cash      string    `json:"cash"` // balance after the trade
	Timestamp time.Time `json:"timestamp"`
}

// NewTradeEvent builds the event for txn.
func NewTradeEvent(txn model.Transaction, cash decimal.Decimal) TradeEvent {
	return TradeEvent{
		Type:      TypeTradeExecuted,
		ID:        txn.ID,
		UserID:    txn.UserID,
		Symbol:    txn.Symbol,
		Side:      txn.Side(),
		Shares:    txn.Shares,
		Price:     txn.Price.String(),
		Cash:      cash.String(),
		Timestamp: txn.Timestamp,
	}
}

// Multi fans a trade out to several notifiers in order.
type Multi []ledger.Notifier

func (m Multi) TradeExecuted(ctx context.Context, txn model.Transaction, cash decimal.Decimal) {
	for _, n := range m {
		if n != nil {
			n.TradeExecuted(ctx, txn, cash)
		}
	}
}
