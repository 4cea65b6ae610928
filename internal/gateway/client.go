package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elit21/storefront-go/internal/money"
	"github.com/elit21/storefront-go/pkg/logging"
)

const (
	EnvSandbox = "sandbox"
	EnvLive    = "live"

	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"

	// StatusCompleted is the gateway's canonical completed-capture value.
	StatusCompleted = "COMPLETED"

	placeholderClientID = "demo-client-id"

	// The orders API rejects name/description/sku beyond this length.
	maxFieldLen = 127
)

type Config struct {
	ClientID     string
	ClientSecret string
	Env          string // sandbox | live
	// AllowEnvFallback permits exactly one retry against the opposite
	// environment when the configured one answers invalid_client.
	AllowEnvFallback bool
	Timeout          time.Duration
	BrandName        string

	// Base URL overrides for tests.
	SandboxBaseURL string
	LiveBaseURL    string
}

// Client talks to the PayPal-shaped orders API: client-credentials token
// exchange, order creation, capture. It holds no per-order state.
type Client struct {
	cfg     Config
	ambient *http.Client // default transport, honors proxy env vars
	direct  *http.Client // proxying disabled
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.Env = strings.ToLower(cfg.Env)
	if cfg.Env == "" {
		cfg.Env = EnvSandbox
	}
	if cfg.SandboxBaseURL == "" {
		cfg.SandboxBaseURL = sandboxBaseURL
	}
	if cfg.LiveBaseURL == "" {
		cfg.LiveBaseURL = liveBaseURL
	}

	directTransport := http.DefaultTransport.(*http.Transport).Clone()
	directTransport.Proxy = nil
	return &Client{
		cfg:     cfg,
		ambient: &http.Client{Timeout: cfg.Timeout},
		direct:  &http.Client{Timeout: cfg.Timeout, Transport: directTransport},
	}
}

func (c *Client) ensureConfigured() error {
	if c.cfg.ClientID == "" || c.cfg.ClientID == placeholderClientID {
		return &ConfigError{Reason: "client id missing or placeholder"}
	}
	if c.cfg.ClientSecret == "" {
		return &ConfigError{Reason: "client secret missing"}
	}
	return nil
}

func (c *Client) baseURL(env string) string {
	if env == EnvLive {
		return c.cfg.LiveBaseURL
	}
	return c.cfg.SandboxBaseURL
}

func otherEnv(env string) string {
	if env == EnvLive {
		return EnvSandbox
	}
	return EnvLive
}

// Authenticate runs the client-credentials exchange and returns the bearer
// token. When the configured environment rejects the credentials with
// invalid_client and fallback is allowed, the opposite environment is
// tried exactly once; any other failure propagates immediately.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	token, _, err := c.token(ctx)
	return token, err
}

func (c *Client) token(ctx context.Context) (string, string, error) {
	if err := c.ensureConfigured(); err != nil {
		return "", "", err
	}
	token, err := c.tokenForEnv(ctx, c.cfg.Env)
	if err == nil {
		return token, c.cfg.Env, nil
	}

	var authErr *AuthError
	if c.cfg.AllowEnvFallback && errors.As(err, &authErr) && authErr.Code == "invalid_client" {
		alt := otherEnv(c.cfg.Env)
		token, altErr := c.tokenForEnv(ctx, alt)
		if altErr == nil {
			// The credentials belong to the other environment. Surface it
			// loudly: the configuration should be fixed.
			logging.Log(logging.Fields{
				Service: "gateway-client",
				Env:     c.cfg.Env,
				Step:    "token",
				Status:  "env_fallback",
				Message: fmt.Sprintf("credentials validated on %s but %s is configured", alt, c.cfg.Env),
			})
			return token, alt, nil
		}
	}
	return "", "", err
}

func (c *Client) tokenForEnv(ctx context.Context, env string) (string, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Accept", "application/json")

	resp, err := c.do(ctx, http.MethodPost, c.baseURL(env)+"/v1/oauth2/token",
		header, []byte("grant_type=client_credentials"), true)
	if err != nil {
		return "", &NetError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &payload)
		return "", &AuthError{Env: env, Code: payload.Error, Body: string(body)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return "", &APIError{Status: resp.StatusCode, Body: "token response missing access_token"}
	}
	return payload.AccessToken, nil
}

// do sends one request; if the ambient proxy blocks the CONNECT tunnel it
// retries the identical request once with proxying disabled. That retry is
// content-blind and applies to no other error class.
func (c *Client) do(ctx context.Context, method, url string, header http.Header, body []byte, basicAuth bool) (*http.Response, error) {
	build := func() (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if basicAuth {
			req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
		}
		return req, nil
	}

	req, err := build()
	if err != nil {
		return nil, err
	}
	resp, err := c.ambient.Do(req)
	if err == nil || !isProxyTunnelError(err) {
		return resp, err
	}

	retry, buildErr := build()
	if buildErr != nil {
		return nil, err
	}
	return c.direct.Do(retry)
}

// isProxyTunnelError matches the one transport failure the no-proxy retry
// is allowed to cover: an ambient HTTPS proxy refusing the CONNECT tunnel.
func isProxyTunnelError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "proxyconnect") || strings.Contains(msg, "tunnel connection failed")
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type amountWithBreakdown struct {
	CurrencyCode string    `json:"currency_code"`
	Value        string    `json:"value"`
	Breakdown    breakdown `json:"breakdown"`
}

type breakdown struct {
	ItemTotal amount `json:"item_total"`
	Shipping  amount `json:"shipping"`
}

type payloadItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SKU         string `json:"sku"`
	UnitAmount  amount `json:"unit_amount"`
	Quantity    string `json:"quantity"`
	Category    string `json:"category"`
}

type purchaseUnit struct {
	ReferenceID string              `json:"reference_id"`
	Amount      amountWithBreakdown `json:"amount"`
	Description string              `json:"description,omitempty"`
	Items       []payloadItem       `json:"items"`
}

type applicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
}

type createOrderPayload struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

// ItemInput is one order line as the checkout engine sees it. The client
// applies the gateway's field-length limits.
type ItemInput struct {
	Name        string
	Description string
	SKU         string
	UnitPrice   decimal.Decimal
	Quantity    int
}

type OrderRequest struct {
	ReferenceID string
	Currency    string
	Total       decimal.Decimal
	ItemTotal   decimal.Decimal
	Shipping    decimal.Decimal
	Description string
	Items       []ItemInput
	ReturnURL   string
	CancelURL   string
}

type OrderCreated struct {
	ID         string
	ApproveURL string
}

// CreateOrder registers a capture-intent order with the gateway. The
// reference id round-trips through capture so the result can be matched
// back to the local order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderCreated, error) {
	token, env, err := c.token(ctx)
	if err != nil {
		return OrderCreated{}, err
	}

	items := make([]payloadItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, payloadItem{
			Name:        truncate(it.Name),
			Description: truncate(it.Description),
			SKU:         truncate(it.SKU),
			UnitAmount:  amount{CurrencyCode: req.Currency, Value: money.Text(it.UnitPrice)},
			Quantity:    fmt.Sprintf("%d", it.Quantity),
			Category:    "PHYSICAL_GOODS",
		})
	}
	payload := createOrderPayload{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.ReferenceID,
			Amount: amountWithBreakdown{
				CurrencyCode: req.Currency,
				Value:        money.Text(req.Total),
				Breakdown: breakdown{
					ItemTotal: amount{CurrencyCode: req.Currency, Value: money.Text(req.ItemTotal)},
					Shipping:  amount{CurrencyCode: req.Currency, Value: money.Text(req.Shipping)},
				},
			},
			Description: req.Description,
			Items:       items,
		}},
		ApplicationContext: applicationContext{
			BrandName:          c.cfg.BrandName,
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
			ReturnURL:          req.ReturnURL,
			CancelURL:          req.CancelURL,
		},
	}

	var resp struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := c.postJSON(ctx, env, token, "/v2/checkout/orders", payload, &resp); err != nil {
		return OrderCreated{}, err
	}
	if resp.ID == "" {
		return OrderCreated{}, &APIError{Status: http.StatusOK, Body: "order response missing id"}
	}
	out := OrderCreated{ID: resp.ID}
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			out.ApproveURL = link.Href
			break
		}
	}
	return out, nil
}

type CaptureResult struct {
	Status      string
	CaptureID   string
	Amount      decimal.Decimal
	HasAmount   bool
	Currency    string
	ReferenceID string
}

// CaptureOrder finalizes an approved gateway order and reports the
// captured amount, currency and round-tripped reference id.
func (c *Client) CaptureOrder(ctx context.Context, gatewayOrderID string) (CaptureResult, error) {
	token, env, err := c.token(ctx)
	if err != nil {
		return CaptureResult{}, err
	}

	var resp struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			Payments    struct {
				Captures []struct {
					ID     string `json:"id"`
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	path := "/v2/checkout/orders/" + gatewayOrderID + "/capture"
	if err := c.postJSON(ctx, env, token, path, struct{}{}, &resp); err != nil {
		return CaptureResult{}, err
	}

	out := CaptureResult{Status: resp.Status}
	if len(resp.PurchaseUnits) > 0 {
		unit := resp.PurchaseUnits[0]
		out.ReferenceID = unit.ReferenceID
		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			out.CaptureID = capture.ID
			out.Currency = capture.Amount.CurrencyCode
			if capture.Amount.Value != "" {
				value, err := money.Parse(capture.Amount.Value)
				if err != nil {
					return CaptureResult{}, &APIError{Status: http.StatusOK, Body: "capture amount not decimal: " + capture.Amount.Value}
				}
				out.Amount = value
				out.HasAmount = true
			}
		}
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, env, token, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	resp, err := c.do(ctx, http.MethodPost, c.baseURL(env)+path, header, data, false)
	if err != nil {
		return &NetError{Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Status: resp.StatusCode, Body: "undecodable response: " + err.Error()}
	}
	return nil
}

// truncate caps gateway text fields at maxFieldLen characters, never
// splitting a multibyte rune.
func truncate(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxFieldLen {
			return s[:i]
		}
		n++
	}
	return s
}
