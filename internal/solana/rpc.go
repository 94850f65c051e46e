package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Chain Client Interface
// ---------------------------------------------------------------------------

// ChainClient is the read/submit surface against a Solana RPC endpoint.
// Implementations: LiveClient (real JSON-RPC), StubChainClient (testing).
type ChainClient interface {
	// GetAccountInfo fetches raw account data. Absent accounts return
	// (nil, nil); callers decide whether absence is an error.
	GetAccountInfo(ctx context.Context, account Pubkey) ([]byte, error)

	// GetMultipleAccounts fetches raw data for up to MaxBatchAccounts
	// accounts in one round trip. The result is index-aligned with the
	// request; absent accounts yield a nil entry.
	GetMultipleAccounts(ctx context.Context, accounts []Pubkey) ([][]byte, error)

	// GetTokenAccountsByOwner returns the owner's SPL token accounts with
	// raw account data.
	GetTokenAccountsByOwner(ctx context.Context, owner Pubkey) ([]OwnedAccount, error)

	// GetTokenAccountBalance returns the UI amount held by a token account.
	GetTokenAccountBalance(ctx context.Context, account Pubkey) (decimal.Decimal, error)

	// GetLatestBlockhash returns a fresh blockhash context for signing.
	GetLatestBlockhash(ctx context.Context) (BlockhashContext, error)

	// SendRawTransaction submits a signed transaction.
	SendRawTransaction(ctx context.Context, tx []byte) (Signature, error)

	// ConfirmTransaction blocks until the signature reaches confirmed
	// commitment within the blockhash validity window. A nil error means
	// landed without on-chain error; ErrTransactionFailed otherwise.
	ConfirmTransaction(ctx context.Context, sig Signature, bh BlockhashContext) error

	// GetRecentPrioritizationFees returns recent fee samples.
	GetRecentPrioritizationFees(ctx context.Context) ([]FeeSample, error)

	// GetRecentBalanceDeltas samples recent transactions touching mint and
	// returns per-participant balance changes, newest first.
	GetRecentBalanceDeltas(ctx context.Context, mint Pubkey, limit int) ([]BalanceDelta, error)

	// Health checks the RPC endpoint.
	Health(ctx context.Context) error
}

// MaxBatchAccounts is the upstream cap on one getMultipleAccounts call.
const MaxBatchAccounts = 100

// RPCConfig configures the chain client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub Chain Client (for testing and development)
// ---------------------------------------------------------------------------

// StubChainClient is an in-memory ChainClient for tests and dry runs.
type StubChainClient struct {
	mu            sync.RWMutex
	accounts      map[Pubkey][]byte
	balances      map[Pubkey]decimal.Decimal
	ownedAccounts map[Pubkey][]OwnedAccount
	deltas        map[Pubkey][]BalanceDelta
	feeSamples    []FeeSample
	confirmErr    error
	failNext      bool
	sendCalls     int
}

// NewStubChainClient creates a stub with no state.
func NewStubChainClient() *StubChainClient {
	return &StubChainClient{
		accounts:      make(map[Pubkey][]byte),
		balances:      make(map[Pubkey]decimal.Decimal),
		ownedAccounts: make(map[Pubkey][]OwnedAccount),
		deltas:        make(map[Pubkey][]BalanceDelta),
	}
}

// SetAccount registers raw account data for the stub to return.
func (s *StubChainClient) SetAccount(account Pubkey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account] = data
}

// SetBalance registers a token-account balance.
func (s *StubChainClient) SetBalance(account Pubkey, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = amount
}

// SetOwnedAccounts registers the token accounts of an owner.
func (s *StubChainClient) SetOwnedAccounts(owner Pubkey, accounts []OwnedAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownedAccounts[owner] = accounts
}

// SetBalanceDeltas registers sampled deltas for a mint.
func (s *StubChainClient) SetBalanceDeltas(mint Pubkey, deltas []BalanceDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas[mint] = deltas
}

// SetFeeSamples registers prioritization-fee samples.
func (s *StubChainClient) SetFeeSamples(samples []FeeSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeSamples = samples
}

// SetConfirmError makes every ConfirmTransaction return err.
func (s *StubChainClient) SetConfirmError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmErr = err
}

// SetFailNext makes the next call fail with ErrUpstreamUnavailable.
func (s *StubChainClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SendCalls returns how many transactions were submitted.
func (s *StubChainClient) SendCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sendCalls
}

func (s *StubChainClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubChainClient) GetAccountInfo(_ context.Context, account Pubkey) ([]byte, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[account], nil
}

func (s *StubChainClient) GetMultipleAccounts(_ context.Context, accounts []Pubkey) ([][]byte, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	if len(accounts) > MaxBatchAccounts {
		return nil, fmt.Errorf("stub: batch of %d exceeds cap %d", len(accounts), MaxBatchAccounts)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(accounts))
	for i, a := range accounts {
		out[i] = s.accounts[a]
	}
	return out, nil
}

func (s *StubChainClient) GetTokenAccountsByOwner(_ context.Context, owner Pubkey) ([]OwnedAccount, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownedAccounts[owner], nil
}

func (s *StubChainClient) GetTokenAccountBalance(_ context.Context, account Pubkey) (decimal.Decimal, error) {
	if s.shouldFail() {
		return decimal.Zero, fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bal, ok := s.balances[account]; ok {
		return bal, nil
	}
	return decimal.Zero, fmt.Errorf("stub: account %s: %w", account, ErrUpstreamUnavailable)
}

func (s *StubChainClient) GetLatestBlockhash(_ context.Context) (BlockhashContext, error) {
	if s.shouldFail() {
		return BlockhashContext{}, fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	return BlockhashContext{
		Blockhash:            fmt.Sprintf("stub-blockhash-%d", time.Now().UnixNano()),
		LastValidBlockHeight: 1_000_000,
	}, nil
}

func (s *StubChainClient) SendRawTransaction(_ context.Context, _ []byte) (Signature, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	s.mu.Lock()
	s.sendCalls++
	n := s.sendCalls
	s.mu.Unlock()
	return Signature(fmt.Sprintf("stub-sig-%d", n)), nil
}

func (s *StubChainClient) ConfirmTransaction(_ context.Context, _ Signature, _ BlockhashContext) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confirmErr
}

func (s *StubChainClient) GetRecentPrioritizationFees(_ context.Context) ([]FeeSample, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeSamples, nil
}

func (s *StubChainClient) GetRecentBalanceDeltas(_ context.Context, mint Pubkey, limit int) ([]BalanceDelta, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	deltas := s.deltas[mint]
	if limit > 0 && len(deltas) > limit {
		deltas = deltas[:limit]
	}
	return deltas, nil
}

func (s *StubChainClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: %w", ErrUpstreamUnavailable)
	}
	return nil
}
