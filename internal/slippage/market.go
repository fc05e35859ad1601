package slippage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Conditions is the market snapshot used for dynamic tolerance.
type Conditions struct {
	Volatility decimal.Decimal
	Price      decimal.Decimal
	// Liquidity is in whole input-token units; zero means unknown.
	Liquidity decimal.Decimal
}

// MarketData supplies market conditions for a pair.
type MarketData interface {
	Conditions(ctx context.Context, tokenIn, tokenOut common.Address) (Conditions, error)
}

// HTTPMarketData queries a JSON endpoint for market conditions.
type HTTPMarketData struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPMarketData(baseURL string, timeout time.Duration) *HTTPMarketData {
	return &HTTPMarketData{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (m *HTTPMarketData) Conditions(ctx context.Context, tokenIn, tokenOut common.Address) (Conditions, error) {
	endpoint, err := url.Parse(m.baseURL)
	if err != nil {
		return Conditions{}, fmt.Errorf("parse market data url: %w", err)
	}
	query := endpoint.Query()
	query.Set("token_in", tokenIn.Hex())
	query.Set("token_out", tokenOut.Hex())
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Conditions{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Conditions{}, fmt.Errorf("request market data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Conditions{}, fmt.Errorf("market data: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Conditions{}, fmt.Errorf("read market data: %w", err)
	}

	var payload struct {
		Volatility *decimal.Decimal `json:"volatility"`
		Price      decimal.Decimal  `json:"price"`
		Liquidity  decimal.Decimal  `json:"liquidity"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Conditions{}, fmt.Errorf("decode market data: %w", err)
	}
	if payload.Volatility == nil {
		return Conditions{}, fmt.Errorf("market data: missing volatility")
	}
	if payload.Volatility.IsNegative() {
		return Conditions{}, fmt.Errorf("market data: negative volatility %s", payload.Volatility)
	}
	return Conditions{
		Volatility: *payload.Volatility,
		Price:      payload.Price,
		Liquidity:  payload.Liquidity,
	}, nil
}
