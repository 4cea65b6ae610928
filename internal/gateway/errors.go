package gateway

import "fmt"

// ConfigError means credentials are missing or still placeholders. Not
// retryable; the deployment must be fixed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "gateway not configured: " + e.Reason
}

// AuthError is a rejected token exchange. Code carries the gateway's error
// code ("invalid_client" drives the environment fallback).
type AuthError struct {
	Env  string
	Code string
	Body string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gateway auth rejected on %s (%s)", e.Env, e.Code)
}

// NetError wraps transport failures: unreachable host, timeout.
type NetError struct {
	Op  string
	Err error
}

func (e *NetError) Error() string {
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx from the orders or capture API. Body keeps the raw
// error payload for diagnostics.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway API error: status %d: %s", e.Status, e.Body)
}
