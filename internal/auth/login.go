// Package auth runs the browser authorization-code login and keeps the
// resulting access token on disk.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

var (
	ErrLoginNotStarted = errors.New("login has not been started")
	ErrLoginTimeout    = errors.New("timed out waiting for login callback")
	ErrLoginDenied     = errors.New("login denied")
)

type Endpoint struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

type callbackResult struct {
	code string
	err  error
}

// attempt is one login. The result channel is buffered and written
// at most once.
type attempt struct {
	state  string
	result chan callbackResult
	once   sync.Once
}

func (p *attempt) resolve(res callbackResult) {
	p.once.Do(func() {
		p.result <- res
	})
}

type LoginFlow struct {
	oauth *oauth2.Config
	now   func() time.Time

	mu      sync.Mutex
	current *attempt
}

func NewLoginFlow(endpoint Endpoint) *LoginFlow {
	return &LoginFlow{
		oauth: &oauth2.Config{
			ClientID:     endpoint.ClientID,
			ClientSecret: endpoint.ClientSecret,
			RedirectURL:  endpoint.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoint.AuthURL,
				TokenURL:  endpoint.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		now: time.Now,
	}
}

// Begin starts a new attempt with a fresh state token and returns the URL the
// user should open. Any earlier attempt is abandoned.
func (f *LoginFlow) Begin() string {
	p := &attempt{
		state:  uuid.NewString(),
		result: make(chan callbackResult, 1),
	}
	f.mu.Lock()
	f.current = p
	f.mu.Unlock()
	return f.oauth.AuthCodeURL(p.state)
}

func (f *LoginFlow) currentAttempt() *attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// CallbackHandler receives the redirect. A request with the wrong state is
// rejected and leaves the attempt open.
func (f *LoginFlow) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := f.currentAttempt()
		if p == nil {
			http.Error(w, ErrLoginNotStarted.Error(), http.StatusBadRequest)
			return
		}
		query := r.URL.Query()
		if query.Get("state") != p.state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if denied := strings.TrimSpace(query.Get("error")); denied != "" {
			p.resolve(callbackResult{err: fmt.Errorf("%w: %s", ErrLoginDenied, denied)})
			http.Error(w, "login denied", http.StatusBadRequest)
			return
		}
		code := strings.TrimSpace(query.Get("code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		p.resolve(callbackResult{code: code})
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Login complete. Approve access in the Monzo app, then close this window.\n"))
	})
}

// Wait blocks until the callback arrives, then exchanges the code for an
// access token.
func (f *LoginFlow) Wait(ctx context.Context, timeout time.Duration) (Credential, error) {
	p := f.currentAttempt()
	if p == nil {
		return Credential{}, ErrLoginNotStarted
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var res callbackResult
	select {
	case res = <-p.result:
	case <-timer:
		return Credential{}, ErrLoginTimeout
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
	if res.err != nil {
		return Credential{}, res.err
	}

	token, err := f.oauth.Exchange(ctx, res.code)
	if err != nil {
		return Credential{}, fmt.Errorf("exchange authorization code: %w", err)
	}
	return Credential{AccessToken: token.AccessToken, IssuedAt: f.now().UTC()}, nil
}
