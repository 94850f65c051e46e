package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live Client — Solana JSON-RPC with rate limiting & retry
// ---------------------------------------------------------------------------

// LiveClient talks to a real Solana RPC endpoint.
type LiveClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Rate limiter (token bucket).
	limiter       chan struct{}
	limiterCtx    context.Context
	limiterCancel context.CancelFunc

	// Unique request ID generator.
	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount  atomic.Int64
	errorCount    atomic.Int64
	latencySum    atomic.Int64 // cumulative microseconds
	lastRequestAt atomic.Int64
}

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second

	confirmPollInterval = 500 * time.Millisecond

	// Ceiling on getSignaturesForAddress when sampling balance deltas.
	maxDeltaSignatures = 50
)

// NewLiveClient creates a live chain client.
func NewLiveClient(config RPCConfig) *LiveClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}

	// Token bucket rate limiter.
	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	limiterCtx, limiterCancel := context.WithCancel(context.Background())

	client := &LiveClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:       limiter,
		limiterCtx:    limiterCtx,
		limiterCancel: limiterCancel,
	}

	// Refill tokens at configured RPS.
	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case client.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return client
}

// Close shuts down the client.
func (c *LiveClient) Close() {
	c.limiterCancel()
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC-level error: the endpoint answered, the request was
// rejected. Distinct from transport failures so submission paths can map it
// to ErrTransactionFailed instead of ErrUpstreamUnavailable.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *LiveClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	// Circuit breaker check.
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit open for %s: %w", method, ErrUpstreamUnavailable)
	}

	// Acquire rate limit token.
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("rpc: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s http error: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s read response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		latency := time.Since(start)
		c.requestCount.Add(1)
		c.latencySum.Add(latency.Microseconds())
		c.lastRequestAt.Store(time.Now().UnixMilli())

		if resp.StatusCode == 429 {
			lastErr = fmt.Errorf("rpc: %s rate limited (429)", method)
			c.errorCount.Add(1)
			// Longer backoff on 429, not counted toward the circuit breaker.
			select {
			case <-time.After(time.Duration(2<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if rpcResp.Error != nil {
			c.resetErrors()
			return nil, fmt.Errorf("rpc: %s: %w", method, rpcResp.Error)
		}

		// Success, reset circuit breaker.
		c.resetErrors()
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w: %v",
		method, c.config.MaxRetries+1, ErrUpstreamUnavailable, lastErr)
}

// recordError increments consecutive errors and opens the circuit if needed.
func (c *LiveClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("rpc: circuit breaker open")
			go func() {
				time.Sleep(circuitBreakerCooldown)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("rpc: circuit breaker reset")
			}()
		}
	}
}

func (c *LiveClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// upstreamErr folds any read-path failure into the upstream sentinel.
func upstreamErr(err error) error {
	if errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// ---------------------------------------------------------------------------
// ChainClient interface implementation
// ---------------------------------------------------------------------------

// accountValue is the base64 account payload common to account reads.
type accountValue struct {
	Data  []string `json:"data"` // [base64_data, "base64"]
	Owner string   `json:"owner"`
}

func (v *accountValue) decode() ([]byte, error) {
	if len(v.Data) == 0 {
		return nil, fmt.Errorf("empty data field: %w", ErrMalformedAccountData)
	}
	raw, err := base64.StdEncoding.DecodeString(v.Data[0])
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", ErrMalformedAccountData)
	}
	return raw, nil
}

// GetAccountInfo fetches raw account data. Absent accounts return (nil, nil).
func (c *LiveClient) GetAccountInfo(ctx context.Context, account Pubkey) ([]byte, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		string(account),
		map[string]any{"encoding": "base64", "commitment": "confirmed"},
	})
	if err != nil {
		return nil, upstreamErr(err)
	}

	var resp struct {
		Value *accountValue `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse account info: %w", ErrMalformedAccountData)
	}
	if resp.Value == nil {
		return nil, nil
	}
	return resp.Value.decode()
}

// GetMultipleAccounts fetches raw data for several accounts in one round
// trip. Absent accounts yield nil entries at the matching index.
func (c *LiveClient) GetMultipleAccounts(ctx context.Context, accounts []Pubkey) ([][]byte, error) {
	if len(accounts) == 0 {
		return nil, nil
	}
	if len(accounts) > MaxBatchAccounts {
		return nil, fmt.Errorf("rpc: batch of %d exceeds cap %d", len(accounts), MaxBatchAccounts)
	}

	keys := make([]string, len(accounts))
	for i, a := range accounts {
		keys[i] = string(a)
	}

	result, err := c.call(ctx, "getMultipleAccounts", []any{
		keys,
		map[string]any{"encoding": "base64", "commitment": "confirmed"},
	})
	if err != nil {
		return nil, upstreamErr(err)
	}

	var resp struct {
		Value []*accountValue `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse multiple accounts: %w", ErrMalformedAccountData)
	}

	out := make([][]byte, len(accounts))
	for i, v := range resp.Value {
		if i >= len(out) || v == nil {
			continue
		}
		raw, err := v.decode()
		if err != nil {
			return nil, fmt.Errorf("rpc: account %s: %w", accounts[i], err)
		}
		out[i] = raw
	}
	return out, nil
}

// GetTokenAccountsByOwner returns the owner's SPL token accounts.
func (c *LiveClient) GetTokenAccountsByOwner(ctx context.Context, owner Pubkey) ([]OwnedAccount, error) {
	result, err := c.call(ctx, "getTokenAccountsByOwner", []any{
		string(owner),
		map[string]any{"programId": string(TokenProgramID)},
		map[string]any{"encoding": "base64", "commitment": "confirmed"},
	})
	if err != nil {
		return nil, upstreamErr(err)
	}

	var resp struct {
		Value []struct {
			Pubkey  string       `json:"pubkey"`
			Account accountValue `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse token accounts: %w", ErrMalformedAccountData)
	}

	out := make([]OwnedAccount, 0, len(resp.Value))
	for _, v := range resp.Value {
		raw, err := v.Account.decode()
		if err != nil {
			return nil, fmt.Errorf("rpc: token account %s: %w", v.Pubkey, err)
		}
		out = append(out, OwnedAccount{Pubkey: Pubkey(v.Pubkey), Data: raw})
	}
	return out, nil
}

// GetTokenAccountBalance returns the UI amount held by a token account.
func (c *LiveClient) GetTokenAccountBalance(ctx context.Context, account Pubkey) (decimal.Decimal, error) {
	result, err := c.call(ctx, "getTokenAccountBalance", []any{
		string(account),
		map[string]any{"commitment": "confirmed"},
	})
	if err != nil {
		return decimal.Zero, upstreamErr(err)
	}

	var resp struct {
		Value struct {
			UIAmountString string `json:"uiAmountString"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("rpc: parse token balance: %w", ErrMalformedAccountData)
	}

	amount, err := decimal.NewFromString(resp.Value.UIAmountString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rpc: token balance %q: %w", resp.Value.UIAmountString, ErrMalformedAccountData)
	}
	return amount, nil
}

// GetLatestBlockhash returns a fresh blockhash context.
func (c *LiveClient) GetLatestBlockhash(ctx context.Context) (BlockhashContext, error) {
	result, err := c.call(ctx, "getLatestBlockhash", []any{
		map[string]any{"commitment": "confirmed"},
	})
	if err != nil {
		return BlockhashContext{}, upstreamErr(err)
	}

	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return BlockhashContext{}, fmt.Errorf("rpc: parse blockhash: %w", ErrMalformedAccountData)
	}
	return BlockhashContext{
		Blockhash:            resp.Value.Blockhash,
		LastValidBlockHeight: resp.Value.LastValidBlockHeight,
	}, nil
}

// SendRawTransaction submits a signed transaction with preflight skipped.
// Rejections surface as ErrTransactionFailed.
func (c *LiveClient) SendRawTransaction(ctx context.Context, tx []byte) (Signature, error) {
	result, err := c.call(ctx, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(tx),
		map[string]any{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    0,
		},
	})
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("rpc: send rejected: %v: %w", rpcErr, ErrTransactionFailed)
		}
		return "", upstreamErr(err)
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("rpc: parse signature: %w", ErrMalformedAccountData)
	}
	return Signature(sig), nil
}

// ConfirmTransaction polls signature status until confirmed, failed, or the
// blockhash validity window closes.
func (c *LiveClient) ConfirmTransaction(ctx context.Context, sig Signature, bh BlockhashContext) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, txErr, err := c.signatureStatus(ctx, sig)
		if err != nil {
			// Transient read failures do not fail the confirmation, the
			// next poll retries.
			log.Debug().Err(err).Str("sig", string(sig)).Msg("rpc: status poll error")
			continue
		}

		if txErr {
			return fmt.Errorf("rpc: %s errored on chain: %w", sig, ErrTransactionFailed)
		}
		if status == "confirmed" || status == "finalized" {
			return nil
		}

		// Still pending. Check whether the anchoring blockhash expired.
		height, err := c.getBlockHeight(ctx)
		if err != nil {
			continue
		}
		if height > bh.LastValidBlockHeight {
			return fmt.Errorf("rpc: %s blockhash expired at height %d: %w",
				sig, height, ErrTransactionFailed)
		}
	}
}

func (c *LiveClient) signatureStatus(ctx context.Context, sig Signature) (status string, txErr bool, err error) {
	result, err := c.call(ctx, "getSignatureStatuses", []any{
		[]string{string(sig)},
	})
	if err != nil {
		return "", false, upstreamErr(err)
	}

	var resp struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", false, fmt.Errorf("rpc: parse status: %w", ErrMalformedAccountData)
	}
	if len(resp.Value) == 0 || resp.Value[0] == nil {
		return "", false, nil
	}
	return resp.Value[0].ConfirmationStatus, resp.Value[0].Err != nil, nil
}

func (c *LiveClient) getBlockHeight(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "getBlockHeight", []any{
		map[string]any{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, upstreamErr(err)
	}
	var height uint64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, fmt.Errorf("rpc: parse block height: %w", ErrMalformedAccountData)
	}
	return height, nil
}

// GetRecentPrioritizationFees returns recent fee samples.
func (c *LiveClient) GetRecentPrioritizationFees(ctx context.Context) ([]FeeSample, error) {
	result, err := c.call(ctx, "getRecentPrioritizationFees", nil)
	if err != nil {
		return nil, upstreamErr(err)
	}

	var samples []FeeSample
	if err := json.Unmarshal(result, &samples); err != nil {
		return nil, fmt.Errorf("rpc: parse fee samples: %w", ErrMalformedAccountData)
	}
	return samples, nil
}

// GetRecentBalanceDeltas samples recent transactions touching mint and
// returns per-participant token balance changes, newest first. Transactions
// that fail to fetch or parse are skipped.
func (c *LiveClient) GetRecentBalanceDeltas(ctx context.Context, mint Pubkey, limit int) ([]BalanceDelta, error) {
	if limit <= 0 || limit > maxDeltaSignatures {
		limit = maxDeltaSignatures
	}

	result, err := c.call(ctx, "getSignaturesForAddress", []any{
		string(mint),
		map[string]any{"limit": limit, "commitment": "confirmed"},
	})
	if err != nil {
		return nil, upstreamErr(err)
	}

	var sigs []struct {
		Signature string `json:"signature"`
		Err       any    `json:"err"`
	}
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("rpc: parse signatures: %w", ErrMalformedAccountData)
	}

	var deltas []BalanceDelta
	for _, s := range sigs {
		if s.Err != nil {
			continue
		}
		txDeltas, err := c.transactionDeltas(ctx, Signature(s.Signature), mint)
		if err != nil {
			log.Debug().Err(err).Str("sig", s.Signature).Msg("rpc: skip unreadable transaction")
			continue
		}
		deltas = append(deltas, txDeltas...)
	}
	return deltas, nil
}

func (c *LiveClient) transactionDeltas(ctx context.Context, sig Signature, mint Pubkey) ([]BalanceDelta, error) {
	result, err := c.call(ctx, "getTransaction", []any{
		string(sig),
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, upstreamErr(err)
	}

	type tokenBalance struct {
		Owner         string `json:"owner"`
		Mint          string `json:"mint"`
		UITokenAmount struct {
			UIAmountString string `json:"uiAmountString"`
		} `json:"uiTokenAmount"`
	}
	var resp struct {
		Meta *struct {
			PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
			PostTokenBalances []tokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(result, &resp); err != nil || resp.Meta == nil {
		return nil, fmt.Errorf("rpc: parse transaction %s: %w", sig, ErrMalformedAccountData)
	}

	pre := make(map[string]decimal.Decimal)
	for _, b := range resp.Meta.PreTokenBalances {
		if Pubkey(b.Mint) != mint {
			continue
		}
		amt, err := decimal.NewFromString(b.UITokenAmount.UIAmountString)
		if err == nil {
			pre[b.Owner] = amt
		}
	}

	var deltas []BalanceDelta
	for _, b := range resp.Meta.PostTokenBalances {
		if Pubkey(b.Mint) != mint {
			continue
		}
		post, err := decimal.NewFromString(b.UITokenAmount.UIAmountString)
		if err != nil {
			continue
		}
		deltas = append(deltas, BalanceDelta{
			Owner:      Pubkey(b.Owner),
			PreAmount:  pre[b.Owner],
			PostAmount: post,
		})
	}
	return deltas, nil
}

// Health checks the RPC endpoint.
func (c *LiveClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.call(healthCtx, "getHealth", nil); err != nil {
		return upstreamErr(err)
	}
	return nil
}

// RPCStats returns client statistics.
type RPCStats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"`
	CircuitOpen   bool  `json:"circuit_open"`
	ConsecErrors  int64 `json:"consecutive_errors"`
}

func (c *LiveClient) Stats() RPCStats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return RPCStats{
		RequestCount:  reqCount,
		ErrorCount:    c.errorCount.Load(),
		AvgLatencyUs:  avgLatency,
		LastRequestAt: c.lastRequestAt.Load(),
		CircuitOpen:   c.circuitOpen.Load(),
		ConsecErrors:  c.consecutiveErrors.Load(),
	}
}
