package alipay

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the alipay gateway for server-initiated calls: trade query
// and trade close.
type Client struct {
	AppID      string
	Gateway    string
	PrivateKey *rsa.PrivateKey
	HTTP       *http.Client
}

func NewClient(appID, gateway string, key *rsa.PrivateKey) *Client {
	return &Client{
		AppID:      appID,
		Gateway:    gateway,
		PrivateKey: key,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

// TradeResult is the part of a gateway response both query and close share.
type TradeResult struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	SubMsg      string `json:"sub_msg"`
	TradeNo     string `json:"trade_no"`
	OutTradeNo  string `json:"out_trade_no"`
	TradeStatus string `json:"trade_status"`
	TotalAmount string `json:"total_amount"`
}

func (t TradeResult) OK() bool { return t.Code == "10000" }

// QueryTrade asks the gateway for the current state of a trade by our order
// number. Used when a notification may have been lost.
func (c *Client) QueryTrade(ctx context.Context, outTradeNo string) (TradeResult, error) {
	return c.call(ctx, "alipay.trade.query", "alipay_trade_query_response", outTradeNo)
}

// CloseTrade closes an unpaid trade at the gateway, best effort.
func (c *Client) CloseTrade(ctx context.Context, outTradeNo string) (TradeResult, error) {
	return c.call(ctx, "alipay.trade.close", "alipay_trade_close_response", outTradeNo)
}

func (c *Client) call(ctx context.Context, method, responseKey, outTradeNo string) (TradeResult, error) {
	biz, err := json.Marshal(map[string]string{"out_trade_no": outTradeNo})
	if err != nil {
		return TradeResult{}, err
	}

	params := map[string]string{
		"app_id":      c.AppID,
		"method":      method,
		"format":      "JSON",
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   time.Now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"biz_content": string(biz),
	}
	sig, err := Sign(params, c.PrivateKey)
	if err != nil {
		return TradeResult{}, err
	}
	params["sign"] = sig

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Gateway,
		strings.NewReader(form.Encode()))
	if err != nil {
		return TradeResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return TradeResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TradeResult{}, err
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return TradeResult{}, fmt.Errorf("alipay: decode gateway response: %w", err)
	}
	inner, ok := outer[responseKey]
	if !ok {
		return TradeResult{}, fmt.Errorf("alipay: gateway response missing %s", responseKey)
	}

	var result TradeResult
	if err := json.Unmarshal(inner, &result); err != nil {
		return TradeResult{}, fmt.Errorf("alipay: decode %s: %w", responseKey, err)
	}
	return result, nil
}
