package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/txnsync/internal/auth"
	"github.com/agentworkforce/txnsync/internal/config"
	"github.com/agentworkforce/txnsync/internal/httpapi"
	"github.com/agentworkforce/txnsync/internal/logger"
	"github.com/agentworkforce/txnsync/internal/monzo"
	"github.com/agentworkforce/txnsync/internal/runlock"
	"github.com/agentworkforce/txnsync/internal/store"
	"github.com/agentworkforce/txnsync/internal/syncer"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Out: os.Stderr})
	if cfg.APIToken == "" {
		log.Error().Msg("TXNSYNC_API_TOKEN is required")
		return 2
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(rootCtx, cfg.StoreDSN)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 1
	}
	defer st.Close()

	tokenProvider := auth.FileProvider(cfg.CredentialFile, cfg.CredentialMaxAge)
	if cfg.AccessToken != "" {
		tokenProvider = monzo.StaticToken(cfg.AccessToken)
	}
	client := monzo.NewClient(monzo.ClientOptions{
		BaseURL:       cfg.APIBaseURL,
		TokenProvider: tokenProvider,
		HTTPClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		UserAgent:     "txnsync-server",
		MaxRetries:    cfg.MaxRetries,
	})
	syncLog := log.With().Str("component", "syncer").Logger()
	s, err := syncer.New(client, st, syncer.Options{Limit: cfg.PageLimit, Logger: &syncLog})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize syncer")
		return 1
	}

	apiLog := log.With().Str("component", "httpapi").Logger()
	api := httpapi.NewServer(st, &lockedRunner{runner: s, lockPath: cfg.LockFile, timeout: cfg.RunTimeout}, httpapi.ServerConfig{
		APIToken:        cfg.APIToken,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		Logger:          &apiLog,
	})

	mux := http.NewServeMux()
	mux.Handle("/", api)
	if strings.TrimSpace(cfg.OAuth.ClientID) != "" {
		flow := auth.NewLoginFlow(auth.Endpoint{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			AuthURL:      cfg.OAuth.AuthURL,
			TokenURL:     cfg.OAuth.TokenURL,
		})
		login := &loginHandler{
			flow:           flow,
			credentialPath: cfg.CredentialFile,
			timeout:        cfg.LoginTimeout,
			baseCtx:        logger.WithContext(rootCtx, log.With().Str("component", "auth").Logger()),
		}
		mux.Handle("/auth/login", login)
		mux.Handle("/auth/callback", flow.CallbackHandler())
	} else {
		log.Warn().Msg("TXNSYNC_CLIENT_ID not set, login endpoints disabled")
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("txnsync-server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			return 1
		}
	case <-rootCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
		}
	}
	return 0
}

// lockedRunner shares the daemon's run lock so a requested sync never
// overlaps a scheduled one.
type lockedRunner struct {
	runner   httpapi.Runner
	lockPath string
	timeout  time.Duration
}

func (r *lockedRunner) Run(ctx context.Context) (syncer.Result, error) {
	lock, err := runlock.Acquire(r.lockPath)
	if errors.Is(err, runlock.ErrLocked) {
		return syncer.Result{State: syncer.StateFailed}, syncer.ErrRunInProgress
	}
	if err != nil {
		return syncer.Result{State: syncer.StateFailed}, err
	}
	defer lock.Release()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.runner.Run(ctx)
}

// loginHandler redirects to the authorization page and stores the credential
// once the callback completes.
type loginHandler struct {
	flow           *auth.LoginFlow
	credentialPath string
	timeout        time.Duration
	baseCtx        context.Context
}

func (h *loginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	authURL := h.flow.Begin()
	go h.await()
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *loginHandler) await() {
	log := logger.FromContext(h.baseCtx)
	cred, err := h.flow.Wait(h.baseCtx, h.timeout)
	if err != nil {
		log.Warn().Err(err).Msg("login did not complete")
		return
	}
	if err := auth.SaveCredential(h.credentialPath, cred); err != nil {
		log.Error().Err(err).Msg("failed to store credential")
		return
	}
	log.Info().Str("path", h.credentialPath).Msg("credential stored")
}
