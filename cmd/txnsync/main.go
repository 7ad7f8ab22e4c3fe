package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/txnsync/internal/auth"
	"github.com/agentworkforce/txnsync/internal/config"
	"github.com/agentworkforce/txnsync/internal/logger"
	"github.com/agentworkforce/txnsync/internal/monzo"
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

	apiURL := flag.String("api-url", cfg.APIBaseURL, "Monzo API base URL")
	token := flag.String("token", cfg.AccessToken, "static access token (overrides the credential file)")
	credentialFile := flag.String("credential-file", cfg.CredentialFile, "credential file written by the login flow")
	storeDSN := flag.String("store", cfg.StoreDSN, "store DSN (memory:, file:, bolt:, postgres://, mongodb://)")
	lockFile := flag.String("lock-file", cfg.LockFile, "lock file shared by every process writing the store")
	timeout := flag.Duration("timeout", cfg.RunTimeout, "per-run timeout")
	schedule := flag.String("schedule", cfg.Schedule, "cron schedule for runs, e.g. \"@every 1h\" or \"0 6 * * *\"")
	interval := flag.Duration("interval", cfg.Interval, "run interval when no schedule is set")
	intervalJitter := flag.Float64("interval-jitter", cfg.IntervalJitter, "interval jitter ratio (0.0-1.0)")
	watch := flag.Bool("watch-credentials", cfg.WatchCredentials, "run whenever the credential file is replaced")
	once := flag.Bool("once", false, "run one sync and exit")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level")
	logFormat := flag.String("log-format", cfg.LogFormat, "log format (console or json)")
	flag.Parse()

	log := logger.New(logger.Options{Level: *logLevel, Format: *logFormat, Out: os.Stderr})
	if *timeout <= 0 {
		*timeout = cfg.RunTimeout
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	tokenProvider := monzo.StaticToken(strings.TrimSpace(*token))
	if strings.TrimSpace(*token) == "" {
		tokenProvider = auth.FileProvider(*credentialFile, cfg.CredentialMaxAge)
	}
	client := monzo.NewClient(monzo.ClientOptions{
		BaseURL:       *apiURL,
		TokenProvider: tokenProvider,
		HTTPClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		UserAgent:     "txnsync",
		MaxRetries:    cfg.MaxRetries,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = logger.WithContext(rootCtx, log)

	st, err := store.Open(rootCtx, *storeDSN)
	if err != nil {
		log.Error().Err(err).Str("store", redactDSN(*storeDSN)).Msg("failed to open store")
		return 1
	}
	defer st.Close()

	runner, err := syncer.New(client, st, syncer.Options{
		Limit:  cfg.PageLimit,
		Logger: &log,
		OnPage: func(report syncer.PageReport) {
			fmt.Fprintln(os.Stdout, report.String())
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize syncer")
		return 1
	}

	d := newDaemon(runner, st, *lockFile, *timeout, log)
	scheduled := strings.TrimSpace(*schedule) != "" || *interval > 0 || *watch
	if *once || !scheduled {
		if err := d.runOnce(rootCtx, "once"); err != nil {
			return 1
		}
		return 0
	}

	if strings.TrimSpace(*schedule) != "" {
		c, err := startSchedule(*schedule, d.trigger)
		if err != nil {
			log.Error().Err(err).Msg("failed to start schedule")
			return 2
		}
		defer c.Stop()
		log.Info().Str("schedule", *schedule).Msg("scheduled runs enabled")
	} else if *interval > 0 {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		go d.tickEvery(rootCtx, *interval, *intervalJitter, rng.Float64)
		log.Info().Dur("interval", *interval).Float64("jitter", *intervalJitter).Msg("interval runs enabled")
	}
	if *watch {
		if strings.TrimSpace(*token) != "" {
			log.Warn().Msg("credential watch ignored while a static token is set")
		} else {
			watcher, err := watchCredential(rootCtx, *credentialFile, d.trigger)
			if err != nil {
				log.Error().Err(err).Msg("failed to watch credential file")
				return 1
			}
			defer watcher.Close()
			log.Info().Str("path", *credentialFile).Msg("watching credential file")
		}
	}

	d.trigger("startup")
	d.serve(rootCtx)
	return 0
}

// redactDSN hides the password of URL-style DSNs.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":xxxxx"
	}
	return dsn[:scheme+3] + userinfo + dsn[at:]
}
