package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantage-trading/vantage/internal/cache"
	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// Token Security Checks — mint authority verdicts
// ---------------------------------------------------------------------------

// securityTTL keeps verdicts warm: authorities rarely change after launch.
const securityTTL = 300 * time.Second

// SecurityConfig toggles the individual mint checks. All disabled means
// every mint passes without a fetch.
type SecurityConfig struct {
	CheckRenounced bool `yaml:"check_renounced"`
	CheckFreezable bool `yaml:"check_freezable"`
	CheckMintable  bool `yaml:"check_mintable"`
}

// DefaultSecurityConfig enables every check.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{CheckRenounced: true, CheckFreezable: true, CheckMintable: true}
}

func (c SecurityConfig) enabled() bool {
	return c.CheckRenounced || c.CheckFreezable || c.CheckMintable
}

// SafetyVerdict is the cached outcome of a mint's security checks.
type SafetyVerdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// MintStateProvider fetches decoded mint accounts.
type MintStateProvider interface {
	MintState(ctx context.Context, mint solana.Pubkey) (*solana.MintState, error)
}

// SecurityAnalyzer screens mints for retained mint/freeze authority.
// Verdicts, including failed lookups, are cached so a hostile or flaky
// mint cannot be re-probed in a tight loop.
type SecurityAnalyzer struct {
	config   SecurityConfig
	provider MintStateProvider
	verdicts *cache.Cache[SafetyVerdict]
}

// NewSecurityAnalyzer creates the analyzer.
func NewSecurityAnalyzer(config SecurityConfig, provider MintStateProvider) *SecurityAnalyzer {
	return &SecurityAnalyzer{
		config:   config,
		provider: provider,
		verdicts: cache.New[SafetyVerdict](securityTTL),
	}
}

// Close stops the verdict cache sweeper.
func (a *SecurityAnalyzer) Close() { a.verdicts.Close() }

// CheckMint returns the safety verdict for one mint. Lookup failures are
// unsafe: a mint whose state cannot be read must not be bought.
func (a *SecurityAnalyzer) CheckMint(ctx context.Context, mint solana.Pubkey) SafetyVerdict {
	if !a.config.enabled() {
		return SafetyVerdict{Safe: true}
	}

	if verdict, ok := a.verdicts.Get(string(mint)); ok {
		return verdict
	}

	state, err := a.provider.MintState(ctx, mint)
	if err != nil {
		log.Debug().Err(err).Str("mint", string(mint)).Msg("security: mint state lookup failed")
		return a.record(mint, SafetyVerdict{Safe: false, Reason: "could not retrieve mint data"})
	}

	if a.config.CheckRenounced && state.HasMintAuthority {
		return a.record(mint, SafetyVerdict{Safe: false, Reason: "token is mintable (has mint authority)"})
	}
	if a.config.CheckFreezable && state.HasFreezeAuthority {
		return a.record(mint, SafetyVerdict{Safe: false, Reason: "token is freezable (has freeze authority)"})
	}
	if a.config.CheckMintable && state.HasMintAuthority {
		return a.record(mint, SafetyVerdict{Safe: false, Reason: "token is mintable (has mint authority)"})
	}

	return a.record(mint, SafetyVerdict{Safe: true})
}

func (a *SecurityAnalyzer) record(mint solana.Pubkey, verdict SafetyVerdict) SafetyVerdict {
	a.verdicts.Set(string(mint), verdict)
	return verdict
}
