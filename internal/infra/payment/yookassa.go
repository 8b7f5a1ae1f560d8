package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/vanyaWEB/botsshop/internal/domain/model"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	Timeout   time.Duration
}

// APIError はゲートウェイが2xx以外を返したとき
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s %s", e.StatusCode, e.Code, e.Description)
}

// YooKassaClient は決済APIのHTTPクライアント。
// 連続して失敗したらブレーカーを開き、しばらく呼ばない。
type YooKassaClient struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[model.GatewayPayment]
}

func NewYooKassaClient(cfg Config, log *slog.Logger) *YooKassaClient {
	return &YooKassaClient{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[model.GatewayPayment](gobreaker.Settings{
			Name:        "payment-gateway",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// 4xxはゲートウェイの故障ではない
			IsSuccessful: func(err error) bool {
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return apiErr.StatusCode < http.StatusInternalServerError
				}
				return err == nil
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

type amountDTO struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationDTO struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createPaymentDTO struct {
	Amount       amountDTO         `json:"amount"`
	Confirmation confirmationDTO   `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

type paymentDTO struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	Paid         bool             `json:"paid"`
	Amount       amountDTO        `json:"amount"`
	Confirmation *confirmationDTO `json:"confirmation"`
	Metadata     map[string]any   `json:"metadata"`
}

type errorDTO struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c *YooKassaClient) CreatePayment(ctx context.Context, req model.CreatePaymentRequest) (model.GatewayPayment, error) {
	body := createPaymentDTO{
		Amount: amountDTO{
			Value:    req.Amount.StringFixed(2),
			Currency: req.Currency,
		},
		Confirmation: confirmationDTO{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Capture:     true,
		Description: req.Description,
		Metadata: map[string]string{
			"order_id":     strconv.FormatInt(req.OrderID, 10),
			"order_number": req.OrderNumber,
		},
	}

	return c.breaker.Execute(func() (model.GatewayPayment, error) {
		return c.do(ctx, http.MethodPost, "/payments", req.IdempotencyKey, body)
	})
}

func (c *YooKassaClient) GetPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error) {
	return c.breaker.Execute(func() (model.GatewayPayment, error) {
		return c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), "", nil)
	})
}

func (c *YooKassaClient) CancelPayment(ctx context.Context, paymentID string, idempotencyKey string) (model.GatewayPayment, error) {
	return c.breaker.Execute(func() (model.GatewayPayment, error) {
		return c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/cancel", idempotencyKey, struct{}{})
	})
}

func (c *YooKassaClient) do(ctx context.Context, method string, path string, idempotencyKey string, body any) (model.GatewayPayment, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return model.GatewayPayment{}, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return model.GatewayPayment{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotence-Key", idempotencyKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return model.GatewayPayment{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return model.GatewayPayment{}, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e errorDTO
		_ = json.Unmarshal(raw, &e)
		return model.GatewayPayment{}, &APIError{StatusCode: res.StatusCode, Code: e.Code, Description: e.Description}
	}

	var p paymentDTO
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.GatewayPayment{}, fmt.Errorf("decode payment: %w", err)
	}
	return toGatewayPayment(p)
}

func toGatewayPayment(p paymentDTO) (model.GatewayPayment, error) {
	if p.ID == "" || p.Status == "" {
		return model.GatewayPayment{}, errors.New("malformed payment: missing id or status")
	}

	out := model.GatewayPayment{
		ID:       p.ID,
		Status:   p.Status,
		Paid:     p.Paid,
		Currency: p.Amount.Currency,
	}
	if p.Amount.Value != "" {
		amount, err := decimal.NewFromString(p.Amount.Value)
		if err != nil {
			return model.GatewayPayment{}, fmt.Errorf("malformed payment amount %q: %w", p.Amount.Value, err)
		}
		out.Amount = amount
	}
	if p.Confirmation != nil {
		out.ConfirmationURL = p.Confirmation.ConfirmationURL
	}
	if id, err := strconv.ParseInt(fmt.Sprint(p.Metadata["order_id"]), 10, 64); err == nil {
		out.OrderID = id
	}
	return out, nil
}
