// Package syncer drives incremental synchronization of one account's
// transactions into a store.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/txnsync/internal/ledger"
	"github.com/agentworkforce/txnsync/internal/monzo"
	"github.com/agentworkforce/txnsync/internal/store"
)

// Transport is the subset of the API client a run needs.
type Transport interface {
	ListAccounts(ctx context.Context) ([]monzo.Account, error)
	ListTransactions(ctx context.Context, query monzo.TransactionsQuery) (monzo.TransactionsPage, error)
}

type State string

const (
	StateStart          State = "START"
	StateResolveAccount State = "RESOLVE_ACCOUNT"
	StatePlanWindow     State = "PLAN_WINDOW"
	StateFetch          State = "FETCH"
	StateNormalize      State = "NORMALIZE"
	StatePersist        State = "PERSIST"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// PageReport describes one persisted page.
type PageReport struct {
	RunID     string
	AccountID string
	Window    Window
	Fetched   int
	Dropped   int
	Inserted  int
	Watermark time.Time
}

// String renders the operator progress line, e.g.
// "24 Jun 2024 to 24 Jun 2025: 83 entries."
func (r PageReport) String() string {
	return fmt.Sprintf("%s to %s: %d entries.",
		r.Window.Since.Format("02 Jan 2006"), r.Window.Before.Format("02 Jan 2006"), r.Fetched)
}

type Result struct {
	RunID           string    `json:"runId"`
	AccountID       string    `json:"accountId,omitempty"`
	State           State     `json:"state"`
	Pages           int       `json:"pages"`
	Fetched         int       `json:"fetched"`
	Dropped         int       `json:"dropped"`
	Inserted        int       `json:"inserted"`
	WatermarkBefore time.Time `json:"watermarkBefore"`
	Resumed         bool      `json:"resumed"`
	Watermark       time.Time `json:"watermark"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

type Options struct {
	// Span and Limit shape the request windows; zero selects the API maximum.
	Span  time.Duration
	Limit int
	// Now is the clock; a run only plans windows up to the time it started.
	Now    func() time.Time
	Logger *zerolog.Logger
	// OnPage is called after every persisted page.
	OnPage func(PageReport)
}

// Syncer owns its store for the duration of a run. Overlapping Run calls on
// one Syncer are rejected; separate processes must share a runlock.
type Syncer struct {
	transport Transport
	store     store.Store
	planner   Planner
	now       func() time.Time
	log       zerolog.Logger
	onPage    func(PageReport)

	running sync.Mutex
}

func New(transport Transport, st store.Store, opts Options) (*Syncer, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Syncer{
		transport: transport,
		store:     st,
		planner:   NewPlanner(opts.Span, opts.Limit),
		now:       now,
		log:       log,
		onPage:    opts.OnPage,
	}, nil
}

// Run synchronizes from the store's watermark (or the account's creation when
// the store is empty) up to the moment the run started. It stops at the first
// failure; everything persisted before it stays, so a later Run resumes from
// there.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		return Result{State: StateFailed}, ErrRunInProgress
	}
	defer s.running.Unlock()

	res := Result{
		RunID:     uuid.NewString(),
		State:     StateStart,
		StartedAt: s.now().UTC(),
	}
	horizon := res.StartedAt
	log := s.log.With().Str("run_id", res.RunID).Logger()

	res.State = StateResolveAccount
	account, err := s.resolveAccount(ctx)
	if err != nil {
		return s.fail(log, res, nil, err)
	}
	res.AccountID = account.ID
	log = log.With().Str("account_id", account.ID).Logger()

	res.State = StatePlanWindow
	since, err := s.origin(ctx, account, &res)
	if err != nil {
		return s.fail(log, res, nil, err)
	}
	window := s.planner.First(since)
	log.Info().
		Str("since", ledger.FormatTimestamp(since)).
		Str("horizon", ledger.FormatTimestamp(horizon)).
		Msg("sync started")

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(log, res, &window, err)
		}

		res.State = StateFetch
		page, err := s.transport.ListTransactions(ctx, monzo.TransactionsQuery{
			AccountID: account.ID,
			Since:     window.Since,
			Before:    window.Before,
			Limit:     window.Limit,
		})
		if err != nil {
			return s.fail(log, res, &window, err)
		}
		pageSize := len(page.Transactions)
		res.Pages++
		res.Fetched += pageSize

		res.State = StateNormalize
		records, dropped := monzo.NormalizePage(page.Transactions)
		res.Dropped += dropped

		res.State = StatePersist
		inserted, err := s.store.Upsert(ctx, records)
		if err != nil {
			return s.fail(log, res, &window, err)
		}
		res.Inserted += inserted
		for _, record := range records {
			if record.Created.After(res.Watermark) {
				res.Watermark = record.Created
			}
		}
		s.report(log, PageReport{
			RunID:     res.RunID,
			AccountID: account.ID,
			Window:    window,
			Fetched:   pageSize,
			Dropped:   dropped,
			Inserted:  inserted,
			Watermark: res.Watermark,
		})

		res.State = StatePlanWindow
		var lastCreated time.Time
		if pageSize > 0 {
			lastCreated = page.Transactions[pageSize-1].Created
		}
		next, more := s.planner.Next(window, pageSize, lastCreated, horizon)
		if !more {
			break
		}
		window = next
	}

	res.State = StateDone
	res.FinishedAt = s.now().UTC()
	log.Info().
		Int("pages", res.Pages).
		Int("fetched", res.Fetched).
		Int("dropped", res.Dropped).
		Int("inserted", res.Inserted).
		Str("watermark", ledger.FormatTimestamp(res.Watermark)).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("sync finished")
	return res, nil
}

func (s *Syncer) resolveAccount(ctx context.Context) (monzo.Account, error) {
	accounts, err := s.transport.ListAccounts(ctx)
	if err != nil {
		return monzo.Account{}, err
	}
	switch len(accounts) {
	case 0:
		return monzo.Account{}, ErrNoAccount
	case 1:
		return accounts[0], nil
	}
	ids := make([]string, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.ID)
	}
	return monzo.Account{}, &MultipleAccountsError{AccountIDs: ids}
}

// origin returns where the first window starts and seeds the result's
// watermarks.
func (s *Syncer) origin(ctx context.Context, account monzo.Account, res *Result) (time.Time, error) {
	latest, found, err := s.store.Watermark(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		created := ledger.Truncate(account.Created)
		res.WatermarkBefore, res.Watermark = created, created
		return created, nil
	}
	latest = ledger.Truncate(latest)
	res.WatermarkBefore, res.Watermark = latest, latest
	res.Resumed = true
	return latest.Add(time.Second), nil
}

func (s *Syncer) report(log zerolog.Logger, report PageReport) {
	log.Info().
		Str("since", ledger.FormatTimestamp(report.Window.Since)).
		Str("before", ledger.FormatTimestamp(report.Window.Before)).
		Int("entries", report.Fetched).
		Int("dropped", report.Dropped).
		Int("inserted", report.Inserted).
		Msg(report.String())
	if s.onPage != nil {
		s.onPage(report)
	}
}

func (s *Syncer) fail(log zerolog.Logger, res Result, window *Window, err error) (Result, error) {
	step := res.State
	runErr := &RunError{
		RunID:     res.RunID,
		Step:      step,
		AccountID: res.AccountID,
		Err:       err,
	}
	if window != nil {
		w := *window
		runErr.Window = &w
	}
	res.State = StateFailed
	res.FinishedAt = s.now().UTC()
	event := log.Error().Err(err).Str("step", string(step))
	if window != nil {
		event = event.Str("since", ledger.FormatTimestamp(window.Since)).Str("before", ledger.FormatTimestamp(window.Before))
	}
	event.Msg("sync failed")
	return res, runErr
}
