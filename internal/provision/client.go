// Package provision fetches card codes from an upstream provisioning
// endpoint for products that are not stocked locally.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrShortCount = errors.New("provision: endpoint returned fewer codes than requested")
	ErrBadPayload = errors.New("provision: unrecognized response payload")
)

type Code struct {
	Number   string
	Password string
}

// Vars are the values substituted into the endpoint descriptor.
type Vars struct {
	ProductID string
	OrderID   string
	Quantity  int
}

// Endpoint describes how to call the upstream. URL, header values and body
// values may contain {{product_id}}, {{quantity}} and {{order_id}}
// placeholders.
type Endpoint struct {
	URL     string
	Headers map[string]string
	Body    map[string]any
}

type Client struct {
	HTTP *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// Fetch calls the endpoint and returns exactly vars.Quantity codes, or an
// error. A response with fewer codes than requested is a failure, never a
// partial success.
func (c *Client) Fetch(ctx context.Context, ep Endpoint, vars Vars) ([]Code, error) {
	url := substitute(ep.URL, vars)

	var body io.Reader
	if len(ep.Body) > 0 {
		resolved := make(map[string]any, len(ep.Body))
		for k, v := range ep.Body {
			if s, ok := v.(string); ok {
				resolved[k] = substitute(s, vars)
			} else {
				resolved[k] = v
			}
		}
		raw, err := json.Marshal(resolved)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, substitute(v, vars))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("provision: endpoint returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	codes, err := parseCodes(raw)
	if err != nil {
		return nil, err
	}
	if len(codes) < vars.Quantity {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShortCount, len(codes), vars.Quantity)
	}
	return codes[:vars.Quantity], nil
}

func substitute(s string, vars Vars) string {
	r := strings.NewReplacer(
		"{{product_id}}", vars.ProductID,
		"{{order_id}}", vars.OrderID,
		"{{quantity}}", strconv.Itoa(vars.Quantity),
	)
	return r.Replace(s)
}

// parseCodes accepts the three payload shapes upstreams use in practice: a
// bare array of code objects, an object wrapping the array under "data" or
// "cards", or a single code object.
func parseCodes(raw []byte) ([]Code, error) {
	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err == nil {
		return codesFromObjects(arr)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, ErrBadPayload
	}
	for _, key := range []string{"data", "cards"} {
		if inner, ok := obj[key]; ok {
			items, ok := inner.([]any)
			if !ok {
				return nil, ErrBadPayload
			}
			objs := make([]map[string]any, 0, len(items))
			for _, it := range items {
				m, ok := it.(map[string]any)
				if !ok {
					return nil, ErrBadPayload
				}
				objs = append(objs, m)
			}
			return codesFromObjects(objs)
		}
	}
	// Single code object.
	return codesFromObjects([]map[string]any{obj})
}

func codesFromObjects(objs []map[string]any) ([]Code, error) {
	out := make([]Code, 0, len(objs))
	for _, m := range objs {
		number := firstString(m, "card_number", "cardNumber", "number")
		password := firstString(m, "card_password", "cardPassword", "password", "code")
		if number == "" && password == "" {
			return nil, ErrBadPayload
		}
		out = append(out, Code{Number: number, Password: password})
	}
	return out, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
