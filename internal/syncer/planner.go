package syncer

import (
	"fmt"
	"time"

	"github.com/agentworkforce/txnsync/internal/ledger"
	"github.com/agentworkforce/txnsync/internal/monzo"
)

// Window is one request against the transactions endpoint: records with
// Since <= created < Before, at most Limit of them.
type Window struct {
	Since  time.Time `json:"since"`
	Before time.Time `json:"before"`
	Limit  int       `json:"limit"`
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s) limit %d", ledger.FormatTimestamp(w.Since), ledger.FormatTimestamp(w.Before), w.Limit)
}

// Planner tiles time into windows no wider than Span holding at most Limit
// records.
type Planner struct {
	Span  time.Duration
	Limit int
}

// NewPlanner clamps span and limit to what the API accepts; zero values
// select the maximums.
func NewPlanner(span time.Duration, limit int) Planner {
	if span <= 0 || span > monzo.MaxWindow {
		span = monzo.MaxWindow
	}
	if limit <= 0 || limit > monzo.MaxPageLimit {
		limit = monzo.MaxPageLimit
	}
	return Planner{Span: span, Limit: limit}
}

func (p Planner) First(since time.Time) Window {
	since = ledger.Truncate(since)
	return Window{Since: since, Before: since.Add(p.Span), Limit: p.Limit}
}

// Next plans the window after prev. pageSize is the raw record count of the
// page prev returned (before zero-amount records were dropped) and
// lastCreated the creation time of its last raw record.
//
// A full page continues one second after its last record. A partial page
// ends the run. An empty page ends the run once prev reached the horizon;
// before that, planning continues at prev.Before so quiet years are crossed.
func (p Planner) Next(prev Window, pageSize int, lastCreated, horizon time.Time) (Window, bool) {
	if pageSize >= prev.Limit {
		since := ledger.Truncate(lastCreated).Add(time.Second)
		if !since.After(prev.Since) {
			since = prev.Since.Add(time.Second)
		}
		return p.First(since), true
	}
	if pageSize > 0 || !prev.Before.Before(horizon) {
		return Window{}, false
	}
	return p.First(prev.Before), true
}
