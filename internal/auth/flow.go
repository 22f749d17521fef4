package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"scoresync/internal/cloud"
)

// LoopbackFlow runs the authorization-code flow with PKCE, receiving the
// redirect on a short-lived listener bound to 127.0.0.1.
type LoopbackFlow struct {
	// Open presents the consent URL to the user, typically by printing it.
	Open func(url string) error
	// Addr is the listen address; empty picks a free port.
	Addr   string
	Logger cloud.Logger
}

type callbackResult struct {
	code string
	err  error
}

func (f *LoopbackFlow) Authorize(ctx context.Context, cfg *oauth2.Config, prompt PromptMode) (*oauth2.Token, error) {
	if f.Open == nil {
		return nil, errors.New("loopback flow: no way to open the consent page")
	}
	logger := f.Logger
	if logger == nil {
		logger = cloud.NewNopLogger()
	}
	addr := f.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting callback listener: %w", err)
	}

	flowCfg := *cfg
	flowCfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"
	state := uuid.New().String()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("state") != state:
			res.err = errors.New("callback state mismatch")
		case q.Get("error") != "":
			res.err = fmt.Errorf("provider denied sign-in: %s", q.Get("error"))
		case q.Get("code") == "":
			res.err = errors.New("callback carried no code")
		default:
			res.code = q.Get("code")
		}
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)}
	if prompt != "" && prompt != PromptAuto {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", string(prompt)))
	}
	if err := f.Open(flowCfg.AuthCodeURL(state, opts...)); err != nil {
		return nil, fmt.Errorf("opening consent page: %w", err)
	}
	logger.Debug("waiting for sign-in callback", "redirect", flowCfg.RedirectURL)

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := flowCfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	return tok, nil
}

// StaticFlow hands out a preconfigured access token. A zero TTL means the
// token carries no expiry.
type StaticFlow struct {
	AccessToken string
	TTL         time.Duration
	Clock       cloud.Clock
}

func (f *StaticFlow) Authorize(ctx context.Context, cfg *oauth2.Config, prompt PromptMode) (*oauth2.Token, error) {
	if f.AccessToken == "" {
		return nil, errors.New("static flow: no access token configured")
	}
	tok := &oauth2.Token{AccessToken: f.AccessToken, TokenType: "Bearer"}
	if f.TTL > 0 {
		clock := f.Clock
		if clock == nil {
			clock = cloud.RealClock{}
		}
		tok.Expiry = clock.Now().Add(f.TTL)
	}
	return tok, nil
}
