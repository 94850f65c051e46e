package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Session/Risk State — daily counters and the trading window
// ---------------------------------------------------------------------------

// Config holds the session risk limits and trading window.
type Config struct {
	MaxDailyTrades      int     `yaml:"max_daily_trades"`
	MaxDailyLossPercent float64 `yaml:"max_daily_loss_percent"`

	TradingHoursEnabled bool `yaml:"trading_hours_enabled"`
	TradingStartHour    int  `yaml:"trading_start_hour"`
	TradingEndHour      int  `yaml:"trading_end_hour"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDailyTrades:      20,
		MaxDailyLossPercent: 5,
		TradingStartHour:    0,
		TradingEndHour:      24,
	}
}

// State tracks per-day trade counts and cumulative profit/loss percent.
// The day boundary timestamp only ever moves forward.
type State struct {
	config Config
	now    func() time.Time

	mu              sync.RWMutex
	dailyTrades     int
	dailyProfitLoss float64
	lastReset       time.Time
}

// New creates session state anchored at today's local midnight.
func New(config Config) *State {
	s := &State{config: config, now: time.Now}
	s.lastReset = dayStart(s.now())
	return s
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TradingAllowed reports whether the wall clock is inside the configured
// trading window. Wraparound ranges (start > end) span midnight.
func (s *State) TradingAllowed() bool {
	if !s.config.TradingHoursEnabled {
		return true
	}

	hour := s.now().Hour()
	start, end := s.config.TradingStartHour, s.config.TradingEndHour
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// RiskAllowed reports whether today's counters still permit a trade. The
// reason names the exhausted limit.
func (s *State) RiskAllowed() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dailyTrades >= s.config.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached (%d/%d)", s.dailyTrades, s.config.MaxDailyTrades)
	}
	if s.dailyProfitLoss < 0 && -s.dailyProfitLoss > s.config.MaxDailyLossPercent {
		return false, fmt.Sprintf("daily loss limit reached (%.2f%%, max -%.2f%%)",
			s.dailyProfitLoss, s.config.MaxDailyLossPercent)
	}
	return true, ""
}

// RecordTrade counts one executed trade against today's limit.
func (s *State) RecordTrade() {
	s.mu.Lock()
	s.dailyTrades++
	s.mu.Unlock()
}

// RecordOutcome folds a completed trade's net change percent into today's
// profit/loss.
func (s *State) RecordOutcome(netChangePercent float64) {
	s.mu.Lock()
	s.dailyProfitLoss += netChangePercent
	s.mu.Unlock()
}

// MaybeReset zeroes the daily counters when the calendar date has
// advanced past the last reset. Safe to call as often as desired; it
// fires at most once per day.
func (s *State) MaybeReset() bool {
	current := dayStart(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if !current.After(s.lastReset) {
		return false
	}

	s.dailyTrades = 0
	s.dailyProfitLoss = 0
	s.lastReset = current
	log.Info().Msg("session: daily risk counters reset")
	return true
}

// Stats is a snapshot of the session counters.
type Stats struct {
	DailyTrades     int       `json:"daily_trades"`
	DailyProfitLoss float64   `json:"daily_profit_loss"`
	LastReset       time.Time `json:"last_reset"`
}

func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		DailyTrades:     s.dailyTrades,
		DailyProfitLoss: s.dailyProfitLoss,
		LastReset:       s.lastReset,
	}
}
