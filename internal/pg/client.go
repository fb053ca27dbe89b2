// Package pg содержит HTTP клиент внешнего платёжного шлюза.
// Транспортные сбои и не-200 ответы не становятся ошибками Go:
// они возвращаются как Result{Success: false} с кодом PG_CLIENT_ERROR,
// чтобы сага единообразно обрабатывала отказ шлюза и отказ платежа.
package pg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/fluxpay/pkg/circuitbreaker"
	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/logger"
)

// CodeClientError — код ошибки транспорта или не-200 ответа шлюза.
const CodeClientError = "PG_CLIENT_ERROR"

// maxResponseSize ограничивает размер читаемого ответа шлюза.
const maxResponseSize = 1 << 20

// Result — единый ответ платёжного шлюза.
type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	PaymentKey    string `json:"paymentKey,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// ApprovalRequest — запрос авторизации платежа.
type ApprovalRequest struct {
	OrderID  string `json:"orderId"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
}

// ConfirmRequest — запрос подтверждения авторизованного платежа.
type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

// CancelRequest — запрос отмены (возврата) платежа.
// Сумма меньше суммы платежа означает частичный возврат.
type CancelRequest struct {
	PaymentKey string `json:"paymentKey"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reason     string `json:"reason"`
}

// Gateway — контракт платёжного шлюза. Интерфейс для тестируемости.
type Gateway interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (*Result, error)
	ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Result, error)
	CancelPayment(ctx context.Context, req CancelRequest) (*Result, error)
}

// Client — HTTP реализация Gateway с Circuit Breaker.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient создаёт клиента платёжного шлюза.
func NewClient(cfg config.PGConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: circuitbreaker.New("pg-client"),
	}
}

// RequestApproval авторизует платёж в шлюзе.
func (c *Client) RequestApproval(ctx context.Context, req ApprovalRequest) (*Result, error) {
	return c.post(ctx, "/v1/payments/approve", req)
}

// ConfirmPayment подтверждает авторизованный платёж.
func (c *Client) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Result, error) {
	return c.post(ctx, "/v1/payments/confirm", req)
}

// CancelPayment отменяет платёж полностью или частично.
func (c *Client) CancelPayment(ctx context.Context, req CancelRequest) (*Result, error) {
	return c.post(ctx, "/v1/payments/cancel", req)
}

// post выполняет запрос к шлюзу через Circuit Breaker с дедлайном.
func (c *Client) post(ctx context.Context, path string, payload any) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result Result
	err := c.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ошибка сериализации запроса: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("ошибка создания запроса: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("ошибка запроса к платёжному шлюзу: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("ошибка чтения ответа шлюза: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("платёжный шлюз вернул статус %d", resp.StatusCode)
		}

		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("повреждённый ответ шлюза: %w", err)
		}
		return nil
	})
	if err != nil {
		// Отмену со стороны вызывающего не маскируем под ошибку шлюза
		if context.Cause(ctx) == context.Canceled {
			return nil, context.Canceled
		}

		logger.Ctx(ctx).Warn().
			Err(err).
			Str("path", path).
			Msg("Сбой обращения к платёжному шлюзу")

		return &Result{
			Success:      false,
			ErrorCode:    CodeClientError,
			ErrorMessage: err.Error(),
		}, nil
	}

	return &result, nil
}
