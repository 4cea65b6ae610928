package idempotency

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const Header = "Idempotency-Key"

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// NewKey generates a client-side key for safely retrying checkout creation.
func NewKey() string {
	return uuid.NewString()
}
