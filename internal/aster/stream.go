package aster

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamReadTimeout    = 90 * time.Second
	streamReconnectDelay = 5 * time.Second
	streamMaxReconnects  = 10
)

// MarkPriceEvent is one markPriceUpdate push from the exchange stream.
type MarkPriceEvent struct {
	EventType       string  `json:"e"`
	EventTime       int64   `json:"E"`
	Symbol          string  `json:"s"`
	MarkPrice       float64 `json:"p,string"`
	IndexPrice      float64 `json:"i,string"`
	FundingRate     float64 `json:"r,string"`
	NextFundingTime int64   `json:"T"`
}

type combinedStreamFrame struct {
	Stream string         `json:"stream"`
	Data   MarkPriceEvent `json:"data"`
}

// MarkPriceStream subscribes to the combined mark-price stream for a fixed
// symbol set and keeps the latest price per symbol. Reconnects with a fixed
// delay up to a cap; Latest keeps serving the last received values across
// reconnects.
type MarkPriceStream struct {
	mu sync.RWMutex

	baseURL string
	symbols []string
	handler func(MarkPriceEvent)
	log     zerolog.Logger

	conn      *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	latest     map[string]MarkPriceEvent
	reconnects int
}

// NewMarkPriceStream builds a stream for the given symbols against the
// exchange websocket base URL (wss://...).
func NewMarkPriceStream(baseURL string, symbols []string, log zerolog.Logger) *MarkPriceStream {
	return &MarkPriceStream{
		baseURL:  strings.TrimRight(baseURL, "/"),
		symbols:  symbols,
		log:      log.With().Str("component", "markprice_stream").Logger(),
		latest:   make(map[string]MarkPriceEvent),
		stopChan: make(chan struct{}),
	}
}

// OnUpdate sets a callback invoked for every received event.
func (s *MarkPriceStream) OnUpdate(cb func(MarkPriceEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = cb
}

// Start opens the connection and begins the read loop.
func (s *MarkPriceStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connect()
}

// Stop closes the connection and ends the read loop.
func (s *MarkPriceStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.log.Info().Msg("mark price stream stopped")
}

// IsRunning reports whether the stream is active.
func (s *MarkPriceStream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Latest returns the most recent event for symbol, if any has arrived.
func (s *MarkPriceStream) Latest(symbol string) (MarkPriceEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.latest[symbol]
	return ev, ok
}

func (s *MarkPriceStream) streamURL() string {
	parts := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		parts = append(parts, strings.ToLower(sym)+"@markPrice")
	}
	return s.baseURL + "/stream?streams=" + strings.Join(parts, "/")
}

func (s *MarkPriceStream) connect() {
	wsURL := s.streamURL()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		s.log.Error().Err(err).Str("url", wsURL).Msg("mark price stream connect failed")
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.reconnects = 0
	s.mu.Unlock()

	s.log.Info().Int("symbols", len(s.symbols)).Msg("mark price stream connected")
	s.readLoop(conn)
}

func (s *MarkPriceStream) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		var frame combinedStreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if s.IsRunning() {
				s.log.Warn().Err(err).Msg("mark price stream read failed, reconnecting")
				s.scheduleReconnect()
			}
			return
		}
		if frame.Data.Symbol == "" {
			continue
		}

		s.mu.Lock()
		s.latest[frame.Data.Symbol] = frame.Data
		handler := s.handler
		s.mu.Unlock()

		if handler != nil {
			handler(frame.Data)
		}
	}
}

func (s *MarkPriceStream) scheduleReconnect() {
	s.mu.Lock()
	s.reconnects++
	attempts := s.reconnects
	s.mu.Unlock()

	if attempts > streamMaxReconnects {
		s.log.Error().Int("attempts", attempts).Msg("mark price stream giving up after max reconnects")
		s.Stop()
		return
	}

	select {
	case <-s.stopChan:
	case <-time.After(streamReconnectDelay):
		if s.IsRunning() {
			s.connect()
		}
	}
}
