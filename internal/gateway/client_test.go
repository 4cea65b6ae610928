package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mux        *http.ServeMux
	srv        *httptest.Server
	tokenCalls int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	f := &fakeGateway{mux: http.NewServeMux()}
	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGateway) serveToken(token string) {
	f.mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		user, pass, ok := r.BasicAuth()
		if !ok || user == "" || pass == "" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_client"}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":%q}`, token)
	})
}

func (f *fakeGateway) rejectToken(code string) {
	f.mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"error":%q}`, code)
	})
}

func testConfig(sandboxURL, liveURL string) Config {
	return Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		Env:            EnvSandbox,
		SandboxBaseURL: sandboxURL,
		LiveBaseURL:    liveURL,
	}
}

func TestNewNormalizesEnv(t *testing.T) {
	f := newFakeGateway(t)
	f.serveToken("tok-live")

	cfg := testConfig("http://sandbox.invalid", f.srv.URL)
	cfg.Env = "Live"
	token, err := New(cfg).Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-live", token, "mixed-case env still routes to the live base URL")
}

func TestAuthenticate(t *testing.T) {
	f := newFakeGateway(t)
	f.serveToken("tok-1")

	c := New(testConfig(f.srv.URL, "http://live.invalid"))
	token, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestAuthenticateConfigError(t *testing.T) {
	for _, cfg := range []Config{
		{ClientID: "", ClientSecret: "s"},
		{ClientID: "demo-client-id", ClientSecret: "s"},
		{ClientID: "id", ClientSecret: ""},
	} {
		c := New(cfg)
		_, err := c.Authenticate(context.Background())
		var confErr *ConfigError
		assert.ErrorAs(t, err, &confErr, "cfg=%+v", cfg)
	}
}

func TestAuthenticateEnvFallback(t *testing.T) {
	sandbox := newFakeGateway(t)
	sandbox.rejectToken("invalid_client")
	live := newFakeGateway(t)
	live.serveToken("tok-live")

	cfg := testConfig(sandbox.srv.URL, live.srv.URL)
	cfg.AllowEnvFallback = true

	token, err := New(cfg).Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-live", token)
	assert.Equal(t, 1, sandbox.tokenCalls)
	assert.Equal(t, 1, live.tokenCalls, "exactly one alternate attempt")
}

func TestAuthenticateFallbackDisabled(t *testing.T) {
	sandbox := newFakeGateway(t)
	sandbox.rejectToken("invalid_client")
	live := newFakeGateway(t)
	live.serveToken("tok-live")

	cfg := testConfig(sandbox.srv.URL, live.srv.URL)

	_, err := New(cfg).Authenticate(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_client", authErr.Code)
	assert.Zero(t, live.tokenCalls, "no cross-environment attempt without the toggle")
}

func TestAuthenticateOtherCodeNoFallback(t *testing.T) {
	sandbox := newFakeGateway(t)
	sandbox.rejectToken("unsupported_grant_type")
	live := newFakeGateway(t)
	live.serveToken("tok-live")

	cfg := testConfig(sandbox.srv.URL, live.srv.URL)
	cfg.AllowEnvFallback = true

	_, err := New(cfg).Authenticate(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "unsupported_grant_type", authErr.Code)
	assert.Zero(t, live.tokenCalls, "fallback is keyed on invalid_client only")
}

func TestAuthenticateNetworkError(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.AllowEnvFallback = true

	_, err := New(cfg).Authenticate(context.Background())
	var netErr *NetError
	assert.ErrorAs(t, err, &netErr, "unreachable host surfaces as NetError, no env retry")
}

func TestCreateOrder(t *testing.T) {
	f := newFakeGateway(t)
	f.serveToken("tok-1")

	var got createOrderPayload
	f.mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"EXT1","links":[
			{"rel":"self","href":"https://x/self"},
			{"rel":"approve","href":"https://x/approve"}]}`)
	})

	c := New(testConfig(f.srv.URL, "http://live.invalid"))
	created, err := c.CreateOrder(context.Background(), OrderRequest{
		ReferenceID: "41",
		Currency:    "EUR",
		Total:       decimal.RequireFromString("49.97"),
		ItemTotal:   decimal.RequireFromString("39.98"),
		Shipping:    decimal.RequireFromString("9.99"),
		Description: "Order #41",
		Items: []ItemInput{{
			Name:        "Tee été " + strings.Repeat("é", 200),
			Description: "Color: Red / Size: M",
			SKU:         "5-Red-M",
			UnitPrice:   decimal.RequireFromString("19.99"),
			Quantity:    2,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "EXT1", created.ID)
	assert.Equal(t, "https://x/approve", created.ApproveURL)

	require.Len(t, got.PurchaseUnits, 1)
	unit := got.PurchaseUnits[0]
	assert.Equal(t, "CAPTURE", got.Intent)
	assert.Equal(t, "41", unit.ReferenceID)
	assert.Equal(t, "49.97", unit.Amount.Value)
	assert.Equal(t, "39.98", unit.Amount.Breakdown.ItemTotal.Value)
	assert.Equal(t, "9.99", unit.Amount.Breakdown.Shipping.Value)
	require.Len(t, unit.Items, 1)
	assert.Equal(t, 127, utf8.RuneCountInString(unit.Items[0].Name), "name truncated to the gateway limit")
	assert.True(t, utf8.ValidString(unit.Items[0].Name), "truncation keeps rune boundaries")
	assert.Equal(t, "19.99", unit.Items[0].UnitAmount.Value)
	assert.Equal(t, "2", unit.Items[0].Quantity)
}

func TestTruncateCountsCharacters(t *testing.T) {
	under := strings.Repeat("é", 100)
	assert.Equal(t, under, truncate(under), "100 characters pass through even at 200 bytes")

	over := truncate(strings.Repeat("é", 150))
	assert.Equal(t, 127, utf8.RuneCountInString(over))
	assert.True(t, utf8.ValidString(over))
}

func TestCreateOrderMissingID(t *testing.T) {
	f := newFakeGateway(t)
	f.serveToken("tok-1")
	f.mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	c := New(testConfig(f.srv.URL, "http://live.invalid"))
	_, err := c.CreateOrder(context.Background(), OrderRequest{Currency: "EUR"})
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestCreateOrderAPIError(t *testing.T) {
	f := newFakeGateway(t)
	f.serveToken("tok-1")
	f.mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"name":"UNPROCESSABLE_ENTITY"}`)
	})

	c := New(testConfig(f.srv.URL, "http://live.invalid"))
	_, err := c.CreateOrder(context.Background(), OrderRequest{Currency: "EUR"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Body, "UNPROCESSABLE_ENTITY", "raw body kept for diagnostics")
}

func TestCaptureOrder(t *testing.T) {
	f := newFakeGateway(t)
	f.serveToken("tok-1")
	f.mux.HandleFunc("/v2/checkout/orders/EXT1/capture", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"COMPLETED","purchase_units":[{"reference_id":"41",
			"payments":{"captures":[{"id":"CAP9","amount":{"currency_code":"EUR","value":"49.97"}}]}}]}`)
	})

	c := New(testConfig(f.srv.URL, "http://live.invalid"))
	res, err := c.CaptureOrder(context.Background(), "EXT1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "CAP9", res.CaptureID)
	assert.Equal(t, "41", res.ReferenceID)
	assert.Equal(t, "EUR", res.Currency)
	require.True(t, res.HasAmount)
	assert.Equal(t, "49.97", res.Amount.StringFixed(2))
}

func TestCaptureOrderSparseResponse(t *testing.T) {
	f := newFakeGateway(t)
	f.serveToken("tok-1")
	f.mux.HandleFunc("/v2/checkout/orders/EXT2/capture", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"PENDING"}`)
	})

	c := New(testConfig(f.srv.URL, "http://live.invalid"))
	res, err := c.CaptureOrder(context.Background(), "EXT2")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", res.Status)
	assert.False(t, res.HasAmount)
	assert.Empty(t, res.CaptureID)
}

func TestIsProxyTunnelError(t *testing.T) {
	assert.False(t, isProxyTunnelError(nil))
	assert.False(t, isProxyTunnelError(errors.New("connection refused")))
	assert.False(t, isProxyTunnelError(errors.New("context deadline exceeded")))

	assert.True(t, isProxyTunnelError(errors.New("proxyconnect tcp: dial tcp 10.0.0.1:3128: i/o timeout")))
	assert.True(t, isProxyTunnelError(errors.New("Tunnel Connection Failed: 403 Forbidden")))
}
