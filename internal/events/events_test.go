package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/metrics"
	"github.com/papertrade/finance/internal/model"
)

func sampleTxn(shares int64) model.Transaction {
	return model.Transaction{
		ID:        "tx-1",
		UserID:    "user-1",
		Symbol:    "AAPL",
		Shares:    shares,
		Price:     decimal.RequireFromString("150.25"),
		Timestamp: time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC),
	}
}

func TestNewTradeEvent(t *testing.T) {
	ev := NewTradeEvent(sampleTxn(-3), decimal.NewFromInt(9000))
	if ev.Type != TypeTradeExecuted || ev.Side != "SELL" || ev.Shares != -3 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Price != "150.25" || ev.Cash != "9000" {
		t.Errorf("money fields should be decimal strings: %+v", ev)
	}
}

type recorder struct {
	calls int
}

func (r *recorder) TradeExecuted(context.Context, model.Transaction, decimal.Decimal) { r.calls++ }

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, b}
	m.TradeExecuted(context.Background(), sampleTxn(1), decimal.Zero)
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("expected both sinks called once, got %d and %d", a.calls, b.calls)
	}
}

// --- Kafka ---

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_WritesKeyedEvent(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{writer: fw, topic: "trades"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // a finished request must not stop publishing
	p.TradeExecuted(ctx, sampleTxn(10), decimal.NewFromInt(8500))

	if len(fw.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "user-1" {
		t.Errorf("expected key user-1, got %q", msg.Key)
	}
	var ev TradeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.Symbol != "AAPL" || ev.Shares != 10 || ev.Cash != "8500" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestKafkaPublisher_FailureIsCounted(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: fw, topic: "trades"}

	before := testutil.ToFloat64(metrics.EventPublishFailures.WithLabelValues("kafka"))
	p.TradeExecuted(context.Background(), sampleTxn(1), decimal.Zero)
	after := testutil.ToFloat64(metrics.EventPublishFailures.WithLabelValues("kafka"))

	if after-before != 1 {
		t.Errorf("expected failure counter +1, got %v", after-before)
	}
}

// --- WebSocket hub ---

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsTape(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	hub.TradeExecuted(context.Background(), sampleTxn(-4), decimal.NewFromInt(1))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg TapeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message: %v", err)
	}
	if msg.Symbol != "AAPL" || msg.Side != "SELL" || msg.Shares != 4 || msg.Price != "150.25" {
		t.Errorf("unexpected tape message: %+v", msg)
	}
	if strings.Contains(string(data), "user-1") {
		t.Error("tape must not expose user ids")
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	cancel()
	waitFor(t, func() bool { return hub.Clients() == 0 })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
}

func TestHub_TradeExecutedNeverBlocks(t *testing.T) {
	hub := NewHub() // Run not started: the buffer fills up

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.TradeExecuted(context.Background(), sampleTxn(1), decimal.Zero)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("TradeExecuted blocked")
	}
}
