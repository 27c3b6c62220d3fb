package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/yungbote/verdant-edge/internal/kvstore"
)

// DefaultTokenKey is where the signed-in session's bearer token is kept.
const DefaultTokenKey = "authToken"

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StoredToken reads the token from the key/value store. A missing key means
// an anonymous request, not an error.
type StoredToken struct {
	Store kvstore.Store
	Key   string
}

func (s StoredToken) key() string {
	if strings.TrimSpace(s.Key) == "" {
		return DefaultTokenKey
	}
	return s.Key
}

func (s StoredToken) Token(ctx context.Context) (string, error) {
	if s.Store == nil {
		return "", nil
	}
	raw, err := s.Store.Get(ctx, s.key())
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		// Tolerate values written without JSON quoting.
		token = string(raw)
	}
	return strings.TrimSpace(token), nil
}

func (s StoredToken) Save(ctx context.Context, token string) error {
	return kvstore.SetJSON(ctx, s.Store, s.key(), token)
}

func (s StoredToken) Clear(ctx context.Context) error {
	return s.Store.Delete(ctx, s.key())
}
