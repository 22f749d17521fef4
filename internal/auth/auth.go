package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"

	"scoresync/internal/cloud"
)

// Google endpoints used when the config does not override them.
const (
	DefaultAuthURL   = "https://accounts.google.com/o/oauth2/auth"
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// DefaultScopes limits access to files the application created.
var DefaultScopes = []string{drive.DriveFileScope}

// PromptMode selects how the identity provider interacts with the user on sign-in.
type PromptMode string

const (
	PromptAuto          PromptMode = "auto" // provider decides
	PromptConsent       PromptMode = "consent"
	PromptSelectAccount PromptMode = "select_account"
	PromptNone          PromptMode = "none"
)

// ParsePromptMode converts a flag value to a PromptMode. Empty selects PromptAuto.
func ParsePromptMode(s string) (PromptMode, error) {
	switch p := PromptMode(s); p {
	case "":
		return PromptAuto, nil
	case PromptAuto, PromptConsent, PromptSelectAccount, PromptNone:
		return p, nil
	}
	return "", fmt.Errorf("unknown prompt mode: %q", s)
}

// Flow obtains a fresh credential from the identity provider.
type Flow interface {
	Authorize(ctx context.Context, cfg *oauth2.Config, prompt PromptMode) (*oauth2.Token, error)
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	Scopes       []string

	// TokenPath caches the credential between runs. Empty disables the cache.
	TokenPath string

	Flow       Flow
	Clock      cloud.Clock
	Logger     cloud.Logger
	HTTPClient *http.Client
}

// Client holds the bearer credential for the remote store.
//
// A credential is usable while now < expiry. There is no silent refresh:
// once it expires, or the remote store rejects it, callers sign in again.
// Client implements oauth2.TokenSource. Safe for concurrent use.
type Client struct {
	cfg       *oauth2.Config
	flow      Flow
	tokenPath string
	revokeURL string
	http      *resty.Client
	clock     cloud.Clock
	logger    cloud.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient creates a Client and loads any cached credential from TokenPath.
// A missing or unreadable cache file means signed out.
func NewClient(opts Options) (*Client, error) {
	if opts.Flow == nil {
		return nil, errors.New("auth: a sign-in flow is required")
	}
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = DefaultScopes
	}
	if opts.Clock == nil {
		opts.Clock = cloud.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = cloud.NewNopLogger()
	}
	rc := resty.New()
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	}

	c := &Client{
		cfg: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.AuthURL,
				TokenURL: opts.TokenURL,
			},
		},
		flow:      opts.Flow,
		tokenPath: opts.TokenPath,
		revokeURL: opts.RevokeURL,
		http:      rc,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}

	if tok, err := c.loadToken(); err != nil {
		c.logger.Warn("ignoring cached credential", "path", c.tokenPath, "error", err)
	} else {
		c.token = tok
	}
	return c, nil
}

// IsAuthorized reports whether a credential is present and not expired.
func (c *Client) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usableLocked()
}

func (c *Client) usableLocked() bool {
	if c.token == nil || c.token.AccessToken == "" {
		return false
	}
	return c.token.Expiry.IsZero() || c.clock.Now().Before(c.token.Expiry)
}

// Token returns the current credential, or cloud.ErrNotAuthorized when there is
// none or it has expired.
func (c *Client) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.usableLocked() {
		return nil, cloud.ErrNotAuthorized
	}
	tok := *c.token
	return &tok, nil
}

// SignIn runs the sign-in flow and stores the resulting credential. It blocks
// until the flow completes, fails, or ctx is done.
func (c *Client) SignIn(ctx context.Context, prompt PromptMode) (*oauth2.Token, error) {
	tok, err := c.flow.Authorize(ctx, c.cfg, prompt)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("signing in: provider returned no access token")
	}

	if err := c.saveToken(tok); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	c.logger.Info("signed in", "expiry", tok.Expiry)
	copied := *tok
	return &copied, nil
}

// SignOut revokes the credential at the provider and clears it locally.
// A failed revoke is logged; local state is cleared regardless.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	c.token = nil
	c.mu.Unlock()

	if tok != nil && c.revokeURL != "" {
		if err := c.revoke(ctx, tok); err != nil {
			c.logger.Warn("revoking credential failed", "error", err)
		}
	}

	if c.tokenPath != "" {
		if err := os.Remove(c.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing cached credential: %w", err)
		}
	}
	c.logger.Info("signed out")
	return nil
}

func (c *Client) revoke(ctx context.Context, tok *oauth2.Token) error {
	value := tok.RefreshToken
	if value == "" {
		value = tok.AccessToken
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"token": value}).
		Post(c.revokeURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &cloud.StatusError{Op: "revoke", StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	return nil
}

func (c *Client) loadToken() (*oauth2.Token, error) {
	if c.tokenPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding credential: %w", err)
	}
	return &tok, nil
}

// saveToken writes tok to the cache file, readable only by the owner.
func (c *Client) saveToken(tok *oauth2.Token) error {
	if c.tokenPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := os.WriteFile(c.tokenPath, data, 0600); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// Compile-time check that Client implements oauth2.TokenSource
var _ oauth2.TokenSource = (*Client)(nil)
