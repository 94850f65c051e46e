package session

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Snipe List — optional buy allow-list, newline file
// ---------------------------------------------------------------------------

// SnipeListConfig configures the allow-list.
type SnipeListConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DefaultSnipeListConfig returns the disabled default.
func DefaultSnipeListConfig() SnipeListConfig {
	return SnipeListConfig{
		Path:            "./snipe-list.txt",
		RefreshInterval: time.Second,
	}
}

// SnipeList holds the mint allow-list, reloaded from its file at most
// once per refresh interval. A read failure keeps the previous list.
type SnipeList struct {
	config SnipeListConfig
	now    func() time.Time

	mu         sync.RWMutex
	mints      map[string]struct{}
	lastLoaded time.Time
}

// NewSnipeList creates the list and performs the initial load.
func NewSnipeList(config SnipeListConfig) *SnipeList {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultSnipeListConfig().RefreshInterval
	}
	s := &SnipeList{
		config: config,
		now:    time.Now,
		mints:  make(map[string]struct{}),
	}
	s.Refresh()
	return s
}

// Refresh reloads the file if the refresh interval has elapsed.
func (s *SnipeList) Refresh() {
	if !s.config.Enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastLoaded) < s.config.RefreshInterval {
		return
	}

	raw, err := os.ReadFile(s.config.Path)
	if err != nil {
		log.Error().Err(err).Str("path", s.config.Path).Msg("snipelist: load failed")
		return
	}

	mints := make(map[string]struct{})
	for _, line := range strings.Split(string(raw), "\n") {
		if mint := strings.TrimSpace(line); mint != "" {
			mints[mint] = struct{}{}
		}
	}

	if len(mints) != len(s.mints) {
		log.Info().Int("tokens", len(mints)).Msg("snipelist: loaded")
	}
	s.mints = mints
	s.lastLoaded = now
}

// Allows reports whether a mint may be bought. A disabled list allows
// everything.
func (s *SnipeList) Allows(mint string) bool {
	if !s.config.Enabled {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mints[mint]
	return ok
}

// Len returns the number of listed mints.
func (s *SnipeList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mints)
}
