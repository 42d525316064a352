package reports

import (
	"errors"
	"fmt"
	"time"

	"utp-reporta/core/store"
)

var (
	ErrNotFound          = errors.New("common.notFound")
	ErrQuotaExceeded     = errors.New("reports.error.dailyQuotaExceeded")
	ErrInvalidTransition = errors.New("reports.error.invalidTransition")
	ErrBadRequest        = errors.New("common.badRequest")
)

// QuotaError carries the limit and the time left until the site day rolls over.
type QuotaError struct {
	Limit   int
	ResetIn time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily report limit of %d reached", e.Limit)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

type TransitionError struct {
	From  store.ReportState
	To    store.ReportState
	Event Event
}

func (e *TransitionError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("cannot %s report in state %s (target %s)", e.Event, e.From, e.To)
	}
	return fmt.Sprintf("cannot move report from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}
