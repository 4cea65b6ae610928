package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elit21/storefront-go/internal/cart"
	"github.com/elit21/storefront-go/internal/inventory"
	"github.com/elit21/storefront-go/internal/session"
)

func TestSessionEndDropsCartAndCookie(t *testing.T) {
	ledger := inventory.NewMemory()
	require.NoError(t, ledger.Upsert(context.Background(), 5, "Red", "M", 3))
	app := &server{
		sessions: session.NewManager("test-secret"),
		carts:    cart.NewStore(ledger),
	}

	w := httptest.NewRecorder()
	sess := app.sessions.Ensure(w, httptest.NewRequest(http.MethodGet, "/", nil))
	sess.SetEmail("buyer@example.com")
	require.NoError(t, app.carts.Add(context.Background(), sess.ID, 5, "Red", "M"))
	cookie := w.Result().Cookies()[0]

	r := httptest.NewRequest(http.MethodPost, "/api/session/end", nil)
	r.AddCookie(cookie)
	end := httptest.NewRecorder()
	app.handleSessionEnd(end, r)
	assert.Equal(t, http.StatusOK, end.Code)

	var expired bool
	for _, c := range end.Result().Cookies() {
		if c.Name == session.CookieName && c.MaxAge < 0 {
			expired = true
		}
	}
	assert.True(t, expired, "cookie expired in the response")
	assert.Empty(t, app.carts.Items(sess.ID), "cart cleared with the session")

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(cookie)
	fresh := app.sessions.Ensure(httptest.NewRecorder(), r2)
	assert.Empty(t, fresh.Email(), "server-side state gone")
}
