package apiclient

import (
	"net/http"

	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/kvstore"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

// NewFromConfig builds the process-wide client. The bearer token is read from
// store under DefaultTokenKey. transport replaces the network when non-nil
// (the development backend).
func NewFromConfig(cfg config.APIConfig, store kvstore.Store, transport http.RoundTripper, log *logger.Logger) (*Client, error) {
	return New(Options{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout.Duration,
		Tokens:    StoredToken{Store: store},
		Transport: transport,
		Logger:    log,
	})
}
