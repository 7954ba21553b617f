package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

// Client talks to the UI-automation sidecar over localhost JSON/HTTP. The
// sidecar drives the order-book and payment-site browser sessions; this
// client only ever exchanges the typed shapes below, never DOM details.
// It implements both ports.OrderSource and ports.PaymentExecutor.
type Client struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

func NewClient(logger *slog.Logger, baseURL string, requestTimeout time.Duration) *Client {
	logger.Info("Automation bridge client initialized", "base_url", baseURL)
	return &Client{
		logger:  logger,
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) FetchPendingOrders(ctx context.Context) ([]entities.Order, error) {
	var orders []entities.Order
	if err := c.getJSON(ctx, "/orders", &orders); err != nil {
		return nil, fmt.Errorf("fetch pending orders: %w", err)
	}
	return orders, nil
}

func (c *Client) FetchPaymentDestination(ctx context.Context, detailRef string) (entities.PaymentDestination, error) {
	var dest entities.PaymentDestination
	path := "/orders/destination?ref=" + url.QueryEscape(detailRef)
	if err := c.getJSON(ctx, path, &dest); err != nil {
		return entities.PaymentDestination{}, err
	}
	if dest.Empty() {
		return entities.PaymentDestination{}, entities.ErrNotFound
	}
	return dest, nil
}

func (c *Client) MarkSettled(ctx context.Context, orderID string) error {
	return c.postJSON(ctx, "/orders/"+url.PathEscape(orderID)+"/settled", nil, nil)
}

func (c *Client) ReleaseAssets(ctx context.Context, orderID string) error {
	return c.postJSON(ctx, "/orders/"+url.PathEscape(orderID)+"/release", nil, nil)
}

type dispatchRequest struct {
	Destination string  `json:"destination"`
	Amount      float64 `json:"amount"`
}

func (c *Client) Dispatch(ctx context.Context, destination string, amount float64) (entities.DispatchOutcome, error) {
	var outcome entities.DispatchOutcome
	req := dispatchRequest{Destination: destination, Amount: amount}
	if err := c.postJSON(ctx, "/transfers", req, &outcome); err != nil {
		return entities.DispatchOutcome{}, err
	}
	return outcome, nil
}

type confirmationRequest struct {
	ChallengeRef string `json:"challenge_ref"`
	Deadline     string `json:"deadline"`
}

type confirmationResponse struct {
	Confirmed bool `json:"confirmed"`
}

func (c *Client) AwaitConfirmation(ctx context.Context, challengeRef string, deadline time.Time) (bool, error) {
	// The sidecar long-polls the payment page for the challenge outcome; keep
	// our own request deadline slightly beyond it.
	waitCtx, cancel := context.WithDeadline(ctx, deadline.Add(5*time.Second))
	defer cancel()

	req := confirmationRequest{ChallengeRef: challengeRef, Deadline: deadline.UTC().Format(time.RFC3339)}
	var resp confirmationResponse
	if err := c.postJSON(waitCtx, "/transfers/confirmation", req, &resp); err != nil {
		return false, err
	}
	return resp.Confirmed, nil
}

type verifyRequest struct {
	Amount           float64 `json:"amount"`
	WindowSeconds    int     `json:"window_seconds"`
	TolerancePercent float64 `json:"tolerance_percent"`
}

type verifyResponse struct {
	Received bool `json:"received"`
}

func (c *Client) VerifyIncoming(ctx context.Context, amount float64, window time.Duration, tolerancePercent float64) (bool, error) {
	req := verifyRequest{
		Amount:           amount,
		WindowSeconds:    int(window.Seconds()),
		TolerancePercent: tolerancePercent,
	}
	var resp verifyResponse
	if err := c.postJSON(ctx, "/payments/verify", req, &resp); err != nil {
		return false, err
	}
	return resp.Received, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create bridge request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode bridge request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return entities.ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, payload)
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return nil
}
