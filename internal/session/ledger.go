package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Profit Ledger — durable cumulative profit across restarts
// ---------------------------------------------------------------------------

// profitData is the ledger's on-disk shape.
type profitData struct {
	TotalProfit float64 `json:"totalProfit"`
}

// Ledger persists the cumulative profit total to a JSON file,
// read-modify-written on every completed sell. A read or parse failure
// aborts the update rather than clobbering the stored total.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger creates a ledger backed by path. The file is created with a
// zero total if absent.
func NewLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := l.write(profitData{}); err != nil {
			return nil, fmt.Errorf("ledger: initialize %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("ledger: created profit file")
	}
	return l, nil
}

// Total reads the stored cumulative profit.
func (l *Ledger) Total() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.read()
	if err != nil {
		return 0, err
	}
	return data.TotalProfit, nil
}

// Add folds a completed trade's profit into the stored total and returns
// the new total.
func (l *Ledger) Add(profit float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.read()
	if err != nil {
		return 0, err
	}

	data.TotalProfit += profit
	if err := l.write(data); err != nil {
		return 0, err
	}

	log.Info().
		Float64("profit", profit).
		Float64("total", data.TotalProfit).
		Msg("ledger: profit updated")
	return data.TotalProfit, nil
}

func (l *Ledger) read() (profitData, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return profitData{}, fmt.Errorf("ledger: read %s: %w", l.path, err)
	}

	var data profitData
	if err := json.Unmarshal(raw, &data); err != nil {
		return profitData{}, fmt.Errorf("ledger: parse %s: %w", l.path, err)
	}
	return data, nil
}

func (l *Ledger) write(data profitData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if err := os.WriteFile(l.path, raw, 0o644); err != nil {
		return fmt.Errorf("ledger: write %s: %w", l.path, err)
	}
	return nil
}
