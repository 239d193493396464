// Package identity validates the opaque bearer tokens callers present. Token
// issuance belongs to the identity provider; this package only asks "is it valid".
package identity

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrUnauthorized = errors.New("unauthorized")

type Validator interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// Check runs v and folds every failure, including validator errors, into ErrUnauthorized.
func Check(ctx context.Context, v Validator, token string) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	ok, err := v.ValidateToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !ok {
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// StaticValidator accepts a fixed set of tokens.
type StaticValidator struct {
	tokens [][]byte
}

func NewStaticValidator(tokens ...string) *StaticValidator {
	v := &StaticValidator{}
	for _, t := range tokens {
		if t != "" {
			v.tokens = append(v.tokens, []byte(t))
		}
	}
	return v
}

func (v *StaticValidator) ValidateToken(_ context.Context, token string) (bool, error) {
	candidate := []byte(token)
	match := 0
	for _, t := range v.tokens {
		match |= subtle.ConstantTimeCompare(t, candidate)
	}
	return match == 1, nil
}

// IntrospectionValidator asks an OAuth2 token-introspection endpoint (RFC 7662).
type IntrospectionValidator struct {
	endpoint string
	client   *http.Client
}

func NewIntrospectionValidator(endpoint string, timeout time.Duration) *IntrospectionValidator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IntrospectionValidator{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (v *IntrospectionValidator) ValidateToken(ctx context.Context, token string) (bool, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("introspect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("introspect: status %d", resp.StatusCode)
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("introspect: decode: %w", err)
	}
	return body.Active, nil
}

var (
	_ Validator = (*StaticValidator)(nil)
	_ Validator = (*IntrospectionValidator)(nil)
)
