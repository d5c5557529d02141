package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// HeadsConfig configures the newHeads subscriber.
type HeadsConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	// ReadTimeout should exceed the chain's block time by a wide margin.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultHeadsConfig returns default subscriber settings.
func DefaultHeadsConfig() HeadsConfig {
	return HeadsConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Head is a new block header as delivered by eth_subscribe.
type Head struct {
	Number  uint64
	BaseFee *big.Int // nil before London
	Time    uint64
}

// HeadSubscriber follows newHeads over a websocket and invokes a callback
// per block. It reconnects with exponential backoff and resubscribes.
type HeadSubscriber struct {
	endpoint string
	config   HeadsConfig
	onHead   func(Head)
	logger   zerolog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	subID   string
	subMu   sync.RWMutex
	pending atomic.Uint64 // request ID of the in-flight subscribe

	heads atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// SubscribeHeads connects to endpoint and subscribes to newHeads.
func SubscribeHeads(ctx context.Context, endpoint string, config *HeadsConfig, onHead func(Head), logger zerolog.Logger) (*HeadSubscriber, error) {
	cfg := DefaultHeadsConfig()
	if config != nil {
		cfg = *config
	}

	s := &HeadSubscriber{
		endpoint: endpoint,
		config:   cfg,
		onHead:   onHead,
		logger:   logger.With().Str("component", "heads").Logger(),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.closeConn()
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// Heads returns the number of headers delivered so far.
func (s *HeadSubscriber) Heads() uint64 {
	return s.heads.Load()
}

// Close unsubscribes and closes the connection.
func (s *HeadSubscriber) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.subMu.RLock()
	id := s.subID
	s.subMu.RUnlock()

	s.connMu.Lock()
	if s.conn != nil {
		if id != "" {
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			_ = s.conn.WriteJSON(wsRequest{
				JSONRPC: "2.0",
				ID:      s.requestID.Add(1),
				Method:  "eth_unsubscribe",
				Params:  []interface{}{id},
			})
		}
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *HeadSubscriber) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *HeadSubscriber) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// subscribe sends eth_subscribe. The confirmation is handled by readLoop.
func (s *HeadSubscriber) subscribe() error {
	reqID := s.requestID.Add(1)
	s.pending.Store(reqID)

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (s *HeadSubscriber) readLoop() {
	defer s.wg.Done()

	delay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if !s.reconnecting.Swap(true) {
				s.logger.Warn().Err(err).Dur("delay", delay).Msg("heads connection lost, reconnecting")
				go s.reconnect(delay)
			}

			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		delay = s.config.ReconnectDelay
		s.handleMessage(message)
	}
}

func (s *HeadSubscriber) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("heads reconnect failed")
		return
	}

	s.subMu.Lock()
	s.subID = ""
	s.subMu.Unlock()

	if err := s.subscribe(); err != nil {
		s.logger.Warn().Err(err).Msg("heads resubscribe failed")
		return
	}
	s.logger.Info().Msg("heads reconnected")
}

func (s *HeadSubscriber) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Debug().Err(err).Msg("discarding malformed message")
		return
	}

	switch {
	case msg.Error != nil:
		s.logger.Error().Int("code", msg.Error.Code).Str("message", msg.Error.Message).Msg("subscription error")

	case msg.ID != 0 && msg.ID == s.pending.Load():
		var id string
		if err := json.Unmarshal(msg.Result, &id); err != nil {
			return
		}
		s.subMu.Lock()
		s.subID = id
		s.subMu.Unlock()
		s.logger.Debug().Str("subscription", id).Msg("subscribed to newHeads")

	case msg.Method == "eth_subscription" && msg.Params != nil:
		s.subMu.RLock()
		current := s.subID
		s.subMu.RUnlock()
		if msg.Params.Subscription != current {
			return
		}

		var raw rawHead
		if err := json.Unmarshal(msg.Params.Result, &raw); err != nil {
			s.logger.Debug().Err(err).Msg("discarding malformed head")
			return
		}
		head := Head{Number: uint64(raw.Number), Time: uint64(raw.Time)}
		if raw.BaseFee != nil {
			head.BaseFee = raw.BaseFee.ToInt()
		}

		s.heads.Add(1)
		if s.onHead != nil {
			s.onHead(head)
		}
	}
}

func (s *HeadSubscriber) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type rawHead struct {
	Number  hexutil.Uint64 `json:"number"`
	Time    hexutil.Uint64 `json:"timestamp"`
	BaseFee *hexutil.Big   `json:"baseFeePerGas"`
}
