package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/txnsync/internal/httpapi"
	"github.com/agentworkforce/txnsync/internal/ledger"
	"github.com/agentworkforce/txnsync/internal/logger"
	"github.com/agentworkforce/txnsync/internal/monzo"
	"github.com/agentworkforce/txnsync/internal/runlock"
	"github.com/agentworkforce/txnsync/internal/syncer"
)

// daemon runs syncs one at a time. Triggers arriving while a run is active
// collapse into a single follow-up run.
type daemon struct {
	runner   httpapi.Runner
	reader   httpapi.Reader
	lockPath string
	timeout  time.Duration
	log      zerolog.Logger
	triggers chan string
}

func newDaemon(runner httpapi.Runner, reader httpapi.Reader, lockPath string, timeout time.Duration, log zerolog.Logger) *daemon {
	return &daemon{
		runner:   runner,
		reader:   reader,
		lockPath: lockPath,
		timeout:  timeout,
		log:      log,
		triggers: make(chan string, 1),
	}
}

func (d *daemon) trigger(reason string) {
	select {
	case d.triggers <- reason:
	default:
	}
}

func (d *daemon) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Err(ctx.Err()).Msg("sync daemon stopping")
			return
		case reason := <-d.triggers:
			_ = d.runOnce(ctx, reason)
		}
	}
}

func (d *daemon) runOnce(ctx context.Context, reason string) error {
	lock, err := runlock.Acquire(d.lockPath)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			d.log.Warn().Str("reason", reason).Str("lock", d.lockPath).Msg("skipping run, another process holds the lock")
		} else {
			d.log.Error().Err(err).Msg("failed to acquire run lock")
		}
		return err
	}
	defer lock.Release()

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := d.runner.Run(runCtx)
	if err != nil {
		event := d.log.Error().Err(err).Str("reason", reason)
		var runErr *syncer.RunError
		if errors.As(err, &runErr) {
			event = event.Str("run_id", runErr.RunID).Str("step", string(runErr.Step))
		}
		event.Msg("sync run failed")
		if errors.Is(err, monzo.ErrAuth) {
			d.log.Warn().Msg("credential rejected or expired, log in again at /auth/login")
		}
		return err
	}
	d.summarize(ctx, res)
	return nil
}

// summarize logs the money movement of the records a run added. A resumed
// run added records from one second past the old watermark; a first run
// from the account's creation.
func (d *daemon) summarize(ctx context.Context, res syncer.Result) {
	if res.Inserted == 0 {
		d.log.Info().Str("run_id", res.RunID).Msg("no new transactions")
		return
	}
	start := res.WatermarkBefore
	if res.Resumed {
		if !res.Watermark.After(res.WatermarkBefore) {
			d.log.Info().Str("run_id", res.RunID).Int("inserted", res.Inserted).Msg("run summary")
			return
		}
		start = start.Add(time.Second)
	}
	records, err := d.reader.QueryByDateRange(ctx, start, res.Watermark.Add(time.Microsecond))
	if err != nil {
		d.log.Warn().Err(err).Msg("failed to summarize run")
		return
	}
	summary := ledger.Summarize(records)
	d.log.Info().
		Str("run_id", res.RunID).
		Int("inserted", res.Inserted).
		Str("in", summary.In.StringFixed(2)).
		Str("out", summary.Out.StringFixed(2)).
		Str("net", summary.Net.StringFixed(2)).
		Msg("run summary")
}

func (d *daemon) tickEvery(ctx context.Context, interval time.Duration, jitter float64, sample func() float64) {
	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitter, sample()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.trigger("interval")
			timer.Reset(jitteredIntervalWithSample(interval, jitter, sample()))
		}
	}
}

func startSchedule(expr string, trigger func(string)) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(expr, func() { trigger("schedule") }); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	c.Start()
	return c, nil
}

// watchCredential watches the credential file's directory, since the login
// flow replaces the file by rename.
func watchCredential(ctx context.Context, path string, trigger func(string)) (*fsnotify.Watcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	log := logger.FromContext(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if isCredentialUpdate(event, path) {
					log.Info().Str("op", event.Op.String()).Msg("credential file changed")
					trigger("credential")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("credential watch error")
			}
		}
	}()
	return watcher, nil
}

func isCredentialUpdate(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != filepath.Clean(path) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
