package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureIssuesAndReusesSession(t *testing.T) {
	m := NewManager("test-secret")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	s1 := m.Ensure(w, r)
	require.NotEmpty(t, s1.ID)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(cookies[0])
	s2 := m.Ensure(httptest.NewRecorder(), r2)
	assert.Equal(t, s1.ID, s2.ID, "signed cookie resolves the same session")

	s1.SetEmail("buyer@example.com")
	assert.Equal(t, "buyer@example.com", s2.Email(), "same underlying session state")
}

func TestTamperedCookieGetsFreshSession(t *testing.T) {
	m := NewManager("test-secret")

	w := httptest.NewRecorder()
	s1 := m.Ensure(w, httptest.NewRequest(http.MethodGet, "/", nil))

	cookie := w.Result().Cookies()[0]
	cookie.Value = "forged-id." + cookie.Value[len(s1.ID)+1:]

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	s2 := m.Ensure(httptest.NewRecorder(), r)
	assert.NotEqual(t, s1.ID, s2.ID)
}

func TestSecretIsolation(t *testing.T) {
	m1 := NewManager("secret-one")
	m2 := NewManager("secret-two")

	w := httptest.NewRecorder()
	s1 := m1.Ensure(w, httptest.NewRequest(http.MethodGet, "/", nil))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(w.Result().Cookies()[0])
	s2 := m2.Ensure(httptest.NewRecorder(), r)
	assert.NotEqual(t, s1.ID, s2.ID, "cookie signed with another secret is rejected")
}

func TestDestroy(t *testing.T) {
	m := NewManager("test-secret")
	w := httptest.NewRecorder()
	s := m.Ensure(w, httptest.NewRequest(http.MethodGet, "/", nil))
	s.SetEmail("buyer@example.com")

	m.Destroy(s.ID)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(w.Result().Cookies()[0])
	fresh := m.Ensure(httptest.NewRecorder(), r)
	assert.Equal(t, s.ID, fresh.ID, "id survives via the signed cookie")
	assert.Empty(t, fresh.Email(), "state does not")
}
