package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// External price sources
// ---------------------------------------------------------------------------

// PriceSource resolves a mint's trading price from one external
// aggregator. DexScreener answers in the pair's native quote
// denomination (SOL on Raydium), matching how position entry prices
// are recorded; Birdeye answers in USD and serves as an availability
// fallback only. found=false means the source answered but does not
// track the token.
type PriceSource interface {
	Name() string
	TokenPrice(ctx context.Context, mint solana.Pubkey) (price decimal.Decimal, found bool, err error)
}

const priceSourceTimeout = 8 * time.Second

// DexScreenerSource queries the DexScreener pairs API.
type DexScreenerSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewDexScreenerSource creates the DexScreener client.
func NewDexScreenerSource() *DexScreenerSource {
	return &DexScreenerSource{
		baseURL:    "https://api.dexscreener.com",
		httpClient: &http.Client{Timeout: priceSourceTimeout},
	}
}

func (s *DexScreenerSource) Name() string { return "dexscreener" }

func (s *DexScreenerSource) TokenPrice(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, bool, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", s.baseURL, mint)
	body, err := fetchJSON(ctx, s.httpClient, url, nil)
	if err != nil {
		return decimal.Zero, false, err
	}

	var resp struct {
		Pairs []struct {
			ChainID     string `json:"chainId"`
			PriceNative string `json:"priceNative"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, false, fmt.Errorf("dexscreener: parse: %w", err)
	}

	for _, pair := range resp.Pairs {
		if pair.ChainID != "solana" {
			continue
		}
		price, err := decimal.NewFromString(pair.PriceNative)
		if err == nil && price.IsPositive() {
			return price, true, nil
		}
	}
	return decimal.Zero, false, nil
}

// BirdeyeSource queries the Birdeye public price API.
type BirdeyeSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewBirdeyeSource creates the Birdeye client. The API key may be empty;
// Birdeye then rejects requests and the source reports an error.
func NewBirdeyeSource(apiKey string) *BirdeyeSource {
	return &BirdeyeSource{
		baseURL:    "https://public-api.birdeye.so",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: priceSourceTimeout},
	}
}

func (s *BirdeyeSource) Name() string { return "birdeye" }

func (s *BirdeyeSource) TokenPrice(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, bool, error) {
	url := fmt.Sprintf("%s/defi/price?address=%s", s.baseURL, mint)
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body, err := fetchJSON(ctx, s.httpClient, url, headers)
	if err != nil {
		return decimal.Zero, false, err
	}

	var resp struct {
		Success bool `json:"success"`
		Data    *struct {
			Value float64 `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, false, fmt.Errorf("birdeye: parse: %w", err)
	}

	if !resp.Success || resp.Data == nil || resp.Data.Value <= 0 {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(resp.Data.Value), true, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("price: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price: %s: HTTP %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
