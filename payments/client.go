// Package payments bridges orders to the external payment processor's
// payment-intent API and verifies its webhook notifications.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"storefront-svc/circuitbreaker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Intent statuses reported by the processor.
const (
	IntentSucceeded = "succeeded"
	IntentFailed    = "failed"
)

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type gatewayError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(getEnv("PAYMENT_API_URL", "https://api.payment-gateway.example"), "/"),
		secretKey:  getEnv("PAYMENT_SECRET_KEY", "sk_test_change_me"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    circuitbreaker.New(5, 30*time.Second),
		logger:     logger,
	}
}

// CreateIntent registers a charge for the given amount in cents and returns
// the processor's handle for it.
func (c *Client) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	ctx, span := otel.Tracer("storefront").Start(ctx, "payments.CreateIntent")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.amount_cents", amountCents))

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", currency)
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var intent Intent
	err := c.breaker.Execute(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/v1/payment_intents", strings.NewReader(form.Encode()), &intent)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	c.logger.Info("Payment intent created", zap.String("intent_id", intent.ID))
	return &intent, nil
}

// GetIntent fetches the current state of a payment intent.
func (c *Client) GetIntent(ctx context.Context, id string) (*Intent, error) {
	ctx, span := otel.Tracer("storefront").Start(ctx, "payments.GetIntent")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", id))

	var intent Intent
	err := c.breaker.Execute(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, &intent)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &intent, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ge gatewayError
		if json.Unmarshal(data, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, ge.Error.Message)
		}
		return fmt.Errorf("gateway error (%d)", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
