// internal/payment/tinkoff/client.go
package tinkoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// InitRequest — тело метода Init (https://securepay.tinkoff.ru/v2/Init)
type InitRequest struct {
	TerminalKey string   `json:"TerminalKey"`
	Amount      int64    `json:"Amount"`
	OrderID     string   `json:"OrderId"`
	CustomerKey string   `json:"CustomerKey"`
	Description string   `json:"Description"`
	Recurrent   string   `json:"Recurrent,omitempty"`
	Token       string   `json:"Token"`
	Receipt     *Receipt `json:"Receipt,omitempty"`
}

type Receipt struct {
	Email    string        `json:"Email"`
	Taxation string        `json:"Taxation"`
	Items    []ReceiptItem `json:"Items"`
}

type ReceiptItem struct {
	Name     string  `json:"Name"`
	Price    int64   `json:"Price"`
	Quantity float64 `json:"Quantity"`
	Amount   int64   `json:"Amount"`
	Tax      string  `json:"Tax"`
}

// ChargeRequest — тело метода Charge (рекуррентное списание по RebillId)
type ChargeRequest struct {
	TerminalKey string `json:"TerminalKey"`
	Amount      int64  `json:"Amount"`
	OrderID     string `json:"OrderId"`
	RebillID    string `json:"RebillId"`
	CustomerKey string `json:"CustomerKey"`
	Token       string `json:"Token"`
}

// Response — общий ответ шлюза для Init и Charge.
// Success=false — это ответ шлюза, а не транспортная ошибка.
type Response struct {
	Success    bool   `json:"Success"`
	PaymentID  string `json:"PaymentId"`
	PaymentURL string `json:"PaymentURL"`
	Status     string `json:"Status"`
	ErrorCode  string `json:"ErrorCode"`
	Message    string `json:"Message"`
	Details    string `json:"Details"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "tinkoff",
			Timeout: 30 * time.Second,
		}),
	}
}

func (c *Client) Init(ctx context.Context, req InitRequest) (*Response, error) {
	return c.post(ctx, "/Init", req)
}

func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*Response, error) {
	return c.post(ctx, "/Charge", req)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		res, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("gateway returned HTTP %d", res.StatusCode)
		}

		var resp Response
		if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
		return &resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tinkoff %s: %w", path, err)
	}

	return result.(*Response), nil
}
