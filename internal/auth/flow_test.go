package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"scoresync/internal/testutil"
)

func TestLoopbackFlow_Authorize(t *testing.T) {
	var gotVerifier atomic.Value
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotVerifier.Store(r.PostForm.Get("code_verifier"))
		if r.PostForm.Get("code") != "auth-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600,"refresh_token":"rt"}`))
	}))
	defer tokenSrv.Close()

	var consentURL *url.URL
	flow := &LoopbackFlow{
		Open: func(raw string) error {
			u, err := url.Parse(raw)
			if err != nil {
				return err
			}
			consentURL = u
			q := u.Query()
			callback := q.Get("redirect_uri") + "?code=auth-code&state=" + url.QueryEscape(q.Get("state"))
			go func() {
				resp, err := http.Get(callback)
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		},
	}

	cfg := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{AuthURL: "https://example.test/auth", TokenURL: tokenSrv.URL},
		Scopes:   DefaultScopes,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tok, err := flow.Authorize(ctx, cfg, PromptSelectAccount)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if tok.AccessToken != "at" || tok.RefreshToken != "rt" {
		t.Errorf("token = %+v", tok)
	}
	if v, _ := gotVerifier.Load().(string); v == "" {
		t.Error("exchange carried no PKCE verifier")
	}

	q := consentURL.Query()
	if q.Get("prompt") != "select_account" {
		t.Errorf("prompt = %q, want select_account", q.Get("prompt"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}
}

func TestLoopbackFlow_StateMismatch(t *testing.T) {
	flow := &LoopbackFlow{
		Open: func(raw string) error {
			u, _ := url.Parse(raw)
			callback := u.Query().Get("redirect_uri") + "?code=x&state=forged"
			go func() {
				resp, err := http.Get(callback)
				if err == nil {
					resp.Body.Close()
				}
			}()
			return nil
		},
	}
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{AuthURL: "https://example.test/auth", TokenURL: "https://example.test/token"}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := flow.Authorize(ctx, cfg, PromptAuto); err == nil {
		t.Fatal("Authorize() expected error for forged state")
	}
}

func TestStaticFlow_Authorize(t *testing.T) {
	clock := testutil.FixedClock()

	t.Run("with ttl", func(t *testing.T) {
		f := &StaticFlow{AccessToken: "static", TTL: time.Hour, Clock: clock}
		tok, err := f.Authorize(context.Background(), nil, PromptAuto)
		if err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
		if want := clock.Now().Add(time.Hour); !tok.Expiry.Equal(want) {
			t.Errorf("Expiry = %v, want %v", tok.Expiry, want)
		}
	})

	t.Run("without token", func(t *testing.T) {
		f := &StaticFlow{}
		if _, err := f.Authorize(context.Background(), nil, PromptAuto); err == nil {
			t.Error("Authorize() expected error without a token")
		}
	})
}
