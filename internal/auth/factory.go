package auth

import (
	"fmt"

	"scoresync/internal/cloud"
	"scoresync/internal/config"
)

// NewClientFromConfig creates a Client whose sign-in flow is selected by the
// auth config type. open presents the consent URL for the oauth flow.
func NewClientFromConfig(cfg config.AuthConfig, open func(url string) error, clock cloud.Clock, logger cloud.Logger) (*Client, error) {
	var flow Flow
	switch cfg.Type {
	case "oauth":
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("client_id required for oauth auth")
		}
		flow = &LoopbackFlow{Open: open, Logger: logger}
	case "static":
		flow = &StaticFlow{AccessToken: cfg.AccessToken, Clock: clock}
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}

	revokeURL := cfg.RevokeURL
	if revokeURL == "" && cfg.Type == "oauth" {
		revokeURL = DefaultRevokeURL
	}
	return NewClient(Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		RevokeURL:    revokeURL,
		Scopes:       cfg.Scopes,
		TokenPath:    cfg.TokenPath,
		Flow:         flow,
		Clock:        clock,
		Logger:       logger,
	})
}
