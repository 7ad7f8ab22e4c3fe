package syncer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPrecondition matches failures detected before any page is fetched.
	ErrPrecondition  = errors.New("sync precondition failed")
	ErrNoAccount     = fmt.Errorf("%w: no account returned", ErrPrecondition)
	ErrRunInProgress = errors.New("sync run already in progress")
)

// MultipleAccountsError is returned when the credential can see more than one
// account; only a single funding account is synchronized.
type MultipleAccountsError struct {
	AccountIDs []string
}

func (e *MultipleAccountsError) Error() string {
	return fmt.Sprintf("%d accounts returned (%s), exactly one is supported",
		len(e.AccountIDs), strings.Join(e.AccountIDs, ", "))
}

func (e *MultipleAccountsError) Is(target error) bool {
	return target == ErrPrecondition
}

// RunError carries where a run stopped so an operator can resume it.
type RunError struct {
	RunID     string
	Step      State
	AccountID string
	Window    *Window
	Err       error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sync run %s failed at %s", e.RunID, e.Step)
	if e.AccountID != "" {
		fmt.Fprintf(&b, " account=%s", e.AccountID)
	}
	if e.Window != nil {
		fmt.Fprintf(&b, " window=%s", e.Window)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
