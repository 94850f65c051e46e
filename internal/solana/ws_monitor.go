package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Program Monitor — account-change stream via programSubscribe
// Watches the AMM and market programs for freshly created accounts.
// ---------------------------------------------------------------------------

// MemcmpFilter matches raw account bytes at an offset against base58 data.
type MemcmpFilter struct {
	Offset int    `yaml:"offset"`
	Bytes  string `yaml:"bytes"` // base58
}

// ProgramSubscription describes one programSubscribe request.
type ProgramSubscription struct {
	Program  Pubkey         `yaml:"program"`
	DataSize int            `yaml:"data_size"`
	Memcmp   []MemcmpFilter `yaml:"memcmp"`
}

// MonitorConfig configures the program monitor.
type MonitorConfig struct {
	WSEndpoint       string                `yaml:"ws_endpoint"`
	Subscriptions    []ProgramSubscription `yaml:"subscriptions"`
	ReconnectDelayMs int                   `yaml:"reconnect_delay_ms"`
	PingIntervalS    int                   `yaml:"ping_interval_s"`
	MaxReconnects    int                   `yaml:"max_reconnects"`
}

// DefaultMonitorConfig returns defaults for mainnet monitoring.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		WSEndpoint: "wss://api.mainnet-beta.solana.com",
		Subscriptions: []ProgramSubscription{
			{Program: LiquidityProgramID, DataSize: liquidityStateV4Len},
			{Program: OpenBookProgramID},
		},
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
		MaxReconnects:    0, // 0 = unlimited reconnects
	}
}

// AccountEvent is emitted when a watched program account changes.
type AccountEvent struct {
	Program    Pubkey    `json:"program"`
	Account    Pubkey    `json:"account"`
	Data       []byte    `json:"-"`
	Slot       uint64    `json:"slot"`
	DetectedAt time.Time `json:"detected_at"`
}

// ProgramMonitor maintains the WebSocket subscriptions and emits account
// events on a channel. Reconnects with backoff and resubscribes on drop.
type ProgramMonitor struct {
	config MonitorConfig

	mu      sync.RWMutex
	conn    *websocket.Conn
	pending map[int64]Pubkey // request id -> program awaiting confirmation
	subs    map[int64]Pubkey // subscription id -> program

	eventChan chan AccountEvent
	closed    atomic.Bool

	nextReqID atomic.Int64

	// Stats.
	messagesRecv   atomic.Int64
	eventsDetected atomic.Int64
	reconnects     atomic.Int64
	connected      atomic.Bool
}

// NewProgramMonitor creates a program monitor.
func NewProgramMonitor(config MonitorConfig) *ProgramMonitor {
	return &ProgramMonitor{
		config:    config,
		pending:   make(map[int64]Pubkey),
		subs:      make(map[int64]Pubkey),
		eventChan: make(chan AccountEvent, 256),
	}
}

// Start connects and begins monitoring. Returns the event channel; the
// channel closes when ctx is cancelled.
func (m *ProgramMonitor) Start(ctx context.Context) (<-chan AccountEvent, error) {
	if len(m.config.Subscriptions) == 0 {
		return nil, fmt.Errorf("ws: no program subscriptions configured")
	}
	go m.runLoop(ctx)
	return m.eventChan, nil
}

func (m *ProgramMonitor) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: runLoop panic recovered")
		}
		// Write lock synchronizes with handleMessage's channel send.
		m.mu.Lock()
		if m.closed.CompareAndSwap(false, true) {
			close(m.eventChan)
		}
		m.mu.Unlock()
	}()

	reconnectDelay := time.Duration(m.config.ReconnectDelayMs) * time.Millisecond
	reconnectCount := 0

	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return
		default:
		}

		// Unlimited reconnects when MaxReconnects == 0.
		if m.config.MaxReconnects > 0 && reconnectCount >= m.config.MaxReconnects {
			log.Error().Int("max", m.config.MaxReconnects).Msg("ws: max reconnects reached, cooling down")
			select {
			case <-time.After(60 * time.Second):
				reconnectCount = 0
				continue
			case <-ctx.Done():
				m.disconnect()
				return
			}
		}

		if err := m.connect(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", reconnectCount).Msg("ws: connection failed")
			reconnectCount++
			m.reconnects.Add(1)

			maxDelay := 30 * time.Second
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay = reconnectDelay * 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		reconnectCount = 0
		reconnectDelay = time.Duration(m.config.ReconnectDelayMs) * time.Millisecond

		for _, sub := range m.config.Subscriptions {
			if err := m.subscribe(sub); err != nil {
				log.Warn().Err(err).Str("program", shortKey(sub.Program)).Msg("ws: subscribe failed")
			}
		}

		m.readLoop(ctx)
	}
}

func (m *ProgramMonitor) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, m.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.pending = make(map[int64]Pubkey)
	m.subs = make(map[int64]Pubkey)
	m.mu.Unlock()
	m.connected.Store(true)

	log.Info().Str("endpoint", m.config.WSEndpoint).Msg("ws: connected")
	return nil
}

func (m *ProgramMonitor) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected.Store(false)
}

// subscribe sends a programSubscribe request with the configured filters.
func (m *ProgramMonitor) subscribe(sub ProgramSubscription) error {
	reqID := m.nextReqID.Add(1)

	var filters []any
	if sub.DataSize > 0 {
		filters = append(filters, map[string]any{"dataSize": sub.DataSize})
	}
	for _, f := range sub.Memcmp {
		filters = append(filters, map[string]any{
			"memcmp": map[string]any{"offset": f.Offset, "bytes": f.Bytes},
		})
	}

	opts := map[string]any{
		"encoding":   "base64",
		"commitment": "confirmed",
	}
	if len(filters) > 0 {
		opts["filters"] = filters
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  "programSubscribe",
		"params":  []any{string(sub.Program), opts},
	}

	m.mu.Lock()
	if m.conn == nil {
		m.mu.Unlock()
		return fmt.Errorf("ws: not connected")
	}
	err := m.conn.WriteJSON(req)
	if err == nil {
		m.pending[reqID] = sub.Program
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	log.Info().
		Str("program", shortKey(sub.Program)).
		Int("filters", len(filters)).
		Msg("ws: subscribed to program accounts")
	return nil
}

func (m *ProgramMonitor) readLoop(ctx context.Context) {
	pingInterval := time.Duration(m.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("ws: ping failed")
					return
				}
			}
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws: read error, reconnecting")
			}
			m.connected.Store(false)
			return
		}

		m.messagesRecv.Add(1)
		m.handleMessage(message)
	}
}

func (m *ProgramMonitor) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: handleMessage panic recovered")
		}
	}()

	var notification struct {
		ID     int64  `json:"id"`
		Result any    `json:"result"`
		Method string `json:"method"`
		Params struct {
			Result struct {
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
				Value struct {
					Pubkey  string `json:"pubkey"`
					Account struct {
						Data []string `json:"data"` // [base64_data, "base64"]
					} `json:"account"`
				} `json:"value"`
			} `json:"result"`
			Subscription int64 `json:"subscription"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}

	if notification.Method != "programNotification" {
		// Subscription confirmation: result carries the subscription id.
		if subID, ok := notification.Result.(float64); ok && notification.ID > 0 {
			m.mu.Lock()
			if program, pending := m.pending[notification.ID]; pending {
				m.subs[int64(subID)] = program
				delete(m.pending, notification.ID)
				log.Debug().
					Int64("sub_id", int64(subID)).
					Str("program", shortKey(program)).
					Msg("ws: subscription confirmed")
			}
			m.mu.Unlock()
		}
		return
	}

	m.mu.RLock()
	program, known := m.subs[notification.Params.Subscription]
	m.mu.RUnlock()
	if !known {
		return
	}

	val := notification.Params.Result.Value
	if len(val.Account.Data) == 0 {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(val.Account.Data[0])
	if err != nil {
		log.Debug().Err(err).Str("account", val.Pubkey).Msg("ws: undecodable account data")
		return
	}

	event := AccountEvent{
		Program:    program,
		Account:    Pubkey(val.Pubkey),
		Data:       raw,
		Slot:       notification.Params.Result.Context.Slot,
		DetectedAt: time.Now(),
	}

	m.eventsDetected.Add(1)

	// Mutex synchronizes the send with close; the atomic alone is racy.
	m.mu.RLock()
	if !m.closed.Load() {
		select {
		case m.eventChan <- event:
		default:
			log.Warn().Msg("ws: event channel full, dropping event")
		}
	}
	m.mu.RUnlock()
}

func shortKey[T ~string](k T) string {
	s := string(k)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// MonitorStats returns monitor statistics.
type MonitorStats struct {
	Connected      bool  `json:"connected"`
	MessagesRecv   int64 `json:"messages_recv"`
	EventsDetected int64 `json:"events_detected"`
	Reconnects     int64 `json:"reconnects"`
}

func (m *ProgramMonitor) Stats() MonitorStats {
	return MonitorStats{
		Connected:      m.connected.Load(),
		MessagesRecv:   m.messagesRecv.Load(),
		EventsDetected: m.eventsDetected.Load(),
		Reconnects:     m.reconnects.Load(),
	}
}
