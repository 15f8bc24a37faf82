// Package token предоставляет клиент для внешней системы хранения токенов.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrTransferFailed возвращается, когда система токенов отклонила перевод.
var ErrTransferFailed = errors.New("token transfer failed")

// Client инкапсулирует HTTP-взаимодействие с системой хранения токенов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к системе токенов по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type transferResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// Transfer переводит amount токенов asset со счёта from на счёт to.
func (c *Client) Transfer(ctx context.Context, asset, from, to string, amount int64) error {
	return c.post(ctx, fmt.Sprintf("/api/tokens/%s/transfer", asset), transferRequest{
		From:   from,
		To:     to,
		Amount: amount,
	})
}

// TransferFrom переводит amount токенов asset со счёта from на счёт to
// в пределах ранее выданного разрешения (allowance).
func (c *Client) TransferFrom(ctx context.Context, asset, from, to string, amount int64) error {
	return c.post(ctx, fmt.Sprintf("/api/tokens/%s/transferFrom", asset), transferRequest{
		From:   from,
		To:     to,
		Amount: amount,
	})
}

// BalanceOf возвращает баланс счёта account в токене asset.
func (c *Client) BalanceOf(ctx context.Context, asset, account string) (int64, error) {
	if c == nil || c.baseURL == "" {
		return 0, fmt.Errorf("token client not configured")
	}

	url := fmt.Sprintf("%s/api/tokens/%s/balance/%s", c.base(), asset, account)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	return result.Balance, nil
}

func (c *Client) post(ctx context.Context, path string, body transferRequest) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("token client not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrTransferFailed, resp.StatusCode)
	}

	var result transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("%w: %s", ErrTransferFailed, result.Error)
	}

	return nil
}

func (c *Client) base() string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}
