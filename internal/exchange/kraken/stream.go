package kraken

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/logging"
	wsclient "market_maker/pkg/websocket"
)

const wsURL = "wss://ws-auth.kraken.com/v2"

// Stream is the exchange.StreamService implementation backed by
// Kraken's v2 websocket feed, adapted from the shared reconnecting
// websocket client: raw frames are decoded here into the normalized
// exchange.StreamMessage shape the core understands.
type Stream struct {
	ws      *wsclient.Client
	logger  logging.Logger
	handler exchange.MessageHandler
	pairs   []string
}

// NewStream builds a Kraken stream adapter.
func NewStream(logger logging.Logger) *Stream {
	s := &Stream{logger: logger}
	s.ws = wsclient.NewClient(wsURL, s.onMessage, logger)
	s.ws.SetOnConnected(s.onConnected)
	return s
}

func (s *Stream) Start(ctx context.Context, handler exchange.MessageHandler) error {
	s.handler = handler
	s.ws.Start()
	return nil
}

func (s *Stream) Subscribe(ctx context.Context, pair string) error {
	s.pairs = append(s.pairs, pair)
	return s.sendSubscriptions()
}

func (s *Stream) Close() error {
	s.ws.Stop()
	return nil
}

func (s *Stream) onConnected() {
	if err := s.sendSubscriptions(); err != nil && s.logger != nil {
		s.logger.Error("failed to resubscribe after reconnect", "error", err)
	}
}

func (s *Stream) sendSubscriptions() error {
	for _, pair := range s.pairs {
		if err := s.ws.Send(subscribeRequest("ticker", pair)); err != nil {
			return fmt.Errorf("failed to subscribe to ticker for %s: %w", pair, err)
		}
		if err := s.ws.Send(subscribeRequest("executions", pair)); err != nil {
			return fmt.Errorf("failed to subscribe to executions for %s: %w", pair, err)
		}
	}
	return nil
}

func subscribeRequest(channel, pair string) map[string]interface{} {
	return map[string]interface{}{
		"method": "subscribe",
		"params": map[string]interface{}{
			"channel": channel,
			"symbol":  []string{pair},
		},
	}
}

type wireEnvelope struct {
	Channel string          `json:"channel"`
	Method  string          `json:"method"`
	Success *bool           `json:"success"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

func (s *Stream) onMessage(raw []byte) {
	if s.handler == nil {
		return
	}

	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to decode stream message", "error", err)
		}
		return
	}

	switch {
	case env.Channel == "heartbeat":
		s.handler(exchange.StreamMessage{Type: exchange.StreamHeartbeat})
	case env.Channel == "status":
		s.handler(exchange.StreamMessage{Type: exchange.StreamStatus})
	case env.Method == "pong":
		s.handler(exchange.StreamMessage{Type: exchange.StreamPong})
	case env.Method == "subscribe":
		ok := env.Success != nil && *env.Success
		s.handler(exchange.StreamMessage{Type: exchange.StreamSubscribeAck, SubscribeOK: ok})
	case env.Channel == "ticker":
		s.emitTickers(env.Data)
	case env.Channel == "executions":
		s.emitExecutions(env.Data)
	}
}

func (s *Stream) emitTickers(data json.RawMessage) {
	var tickers []struct {
		Symbol string          `json:"symbol"`
		Last   decimal.Decimal `json:"last"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to decode ticker payload", "error", err)
		}
		return
	}
	for _, t := range tickers {
		s.handler(exchange.StreamMessage{
			Type:   exchange.StreamTicker,
			Ticker: domain.Ticker{Symbol: t.Symbol, Last: t.Last},
		})
	}
}

func (s *Stream) emitExecutions(data json.RawMessage) {
	var executions []struct {
		OrderID  string `json:"order_id"`
		ExecType string `json:"exec_type"`
		Symbol   string `json:"symbol"`
		Userref  int64  `json:"userref"`
	}
	if err := json.Unmarshal(data, &executions); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to decode execution payload", "error", err)
		}
		return
	}
	for _, e := range executions {
		s.handler(exchange.StreamMessage{
			Type: exchange.StreamExecution,
			Execution: exchange.Execution{
				OrderID: e.OrderID, ExecType: domain.ExecType(e.ExecType),
				Pair: e.Symbol, Userref: e.Userref,
			},
		})
	}
}
