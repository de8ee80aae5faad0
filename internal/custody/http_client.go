package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type HTTPClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient talks to an external custody service over JSON/HTTP. It does
// not retry: a failed transfer is reported to the engine, which aborts the
// operation in flight and leaves retry policy to the caller.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("custody base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  client,
		timeout: timeout,
	}, nil
}

type transferRequest struct {
	Party  string `json:"party"`
	Amount int64  `json:"amount"`
}

func (c *HTTPClient) TransferIn(ctx context.Context, payer string, amount int64) error {
	return c.post(ctx, "/custody/escrow/in", transferRequest{Party: payer, Amount: amount})
}

func (c *HTTPClient) TransferOut(ctx context.Context, payee string, amount int64) error {
	return c.post(ctx, "/custody/escrow/out", transferRequest{Party: payee, Amount: amount})
}

func (c *HTTPClient) post(ctx context.Context, path string, req transferRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("custody marshal request: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("custody build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("custody call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("custody call %s: %w", path, ErrInsufficientFunds)
		}
		return fmt.Errorf("custody call %s: status %s", path, resp.Status)
	}
	return nil
}
