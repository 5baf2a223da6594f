// Package tron reads TRC20 transfer history from a trongrid-compatible API
// and matches transfers against pending orders.
package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// usdtDecimals is the on-chain precision of the USDT contract.
const usdtDecimals = 6

// Transfer is one TRC20 movement as trongrid reports it. Value is the raw
// integer string in contract units.
type Transfer struct {
	TxID           string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

// Amount converts the raw contract value into USDT.
func (t Transfer) Amount() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(t.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tron: bad transfer value %q: %w", t.Value, err)
	}
	return v.Shift(-usdtDecimals), nil
}

// At is the block time of the transfer.
func (t Transfer) At() time.Time {
	return time.UnixMilli(t.BlockTimestamp).UTC()
}

type transferList struct {
	Success bool       `json:"success"`
	Data    []Transfer `json:"data"`
}

type Client struct {
	BaseURL  string
	APIKey   string
	Wallet   string
	Contract string
	HTTP     *http.Client
}

func NewClient(baseURL, apiKey, wallet, contract string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Wallet:   wallet,
		Contract: contract,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

// RecentTransfers returns the newest TRC20 transfers touching the wallet,
// filtered server-side to the configured contract.
func (c *Client) RecentTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("contract_address", c.Contract)
	q.Set("only_confirmed", "true")

	u := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s", c.BaseURL, c.Wallet, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tron: api returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var list transferList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("tron: decode transfer list: %w", err)
	}
	if !list.Success {
		return nil, fmt.Errorf("tron: api reported failure")
	}
	return list.Data, nil
}
