package remote

import (
	"fmt"

	"golang.org/x/oauth2"

	"scoresync/internal/cloud"
	"scoresync/internal/config"
)

// NewClientFromConfig creates a ResourceClient implementation based on the remote config type.
// tokens authorizes requests for remote types that need a credential.
func NewClientFromConfig(cfg config.RemoteConfig, tokens oauth2.TokenSource, logger cloud.Logger) (cloud.ResourceClient, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryClient(nil, nil), nil
	case "drive":
		if tokens == nil {
			return nil, fmt.Errorf("drive remote requires a token source")
		}
		return NewDriveClient(tokens, DriveOptions{
			APIBaseURL:    cfg.APIBaseURL,
			UploadBaseURL: cfg.UploadBaseURL,
			PageSize:      cfg.PageSize,
			Logger:        logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
