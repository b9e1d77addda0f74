package attendance

import (
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/repository"
)

// ErrInconsistentLedger reports an event sequence that cannot be paired
// (a sign-out with no preceding sign-in in the window, or a second
// sign-in while one is still open). It is surfaced to the operator and
// never auto-corrected: silently fixing the sequence could mask double
// sign-ins.
var ErrInconsistentLedger = errors.New("attendance: inconsistent event sequence")

// Ledger answers presence and duration questions from the append-only
// attendance event log.
type Ledger struct {
	events repository.AttendanceEventRepositoryInterface
}

// NewLedger creates a ledger over the given event repository.
func NewLedger(events repository.AttendanceEventRepositoryInterface) *Ledger {
	return &Ledger{events: events}
}

// LastEventOf returns the subject's most recent event within the
// window, or nil when there is none.
func (l *Ledger) LastEventOf(subjectID uint, windowStart, windowEnd time.Time) (*models.AttendanceEvent, error) {
	return l.events.LastEventOf(subjectID, windowStart, windowEnd)
}

// Record appends one event and flips the subject's cached presence
// flag, conditioned on expectedPresent still holding.
func (l *Ledger) Record(event *models.AttendanceEvent, expectedPresent bool) error {
	return l.events.RecordTransition(event, expectedPresent)
}

// NextKind applies the alternation rule to the last event observed in
// the decision window: no event yet means sign-in, otherwise the next
// event is strictly the opposite of the last.
func NextKind(last *models.AttendanceEvent) models.EventKind {
	if last == nil {
		return models.EventSignIn
	}
	return last.Kind.Opposite()
}

// HoursWorked sums the subject's closed [sign-in, sign-out) intervals
// within the window. One still-open trailing sign-in accrues up to now.
func (l *Ledger) HoursWorked(subjectID uint, windowStart, windowEnd, now time.Time) (time.Duration, error) {
	events, err := l.events.EventsOf(subjectID, windowStart, windowEnd)
	if err != nil {
		return 0, err
	}
	return SumIntervals(events, now)
}

// SumIntervals pairs consecutive sign-in/sign-out events
// chronologically and totals the elapsed time. A trailing unpaired
// sign-in contributes now minus its timestamp (the interval is still
// accruing). Sequences that cannot be paired return
// ErrInconsistentLedger.
func SumIntervals(events []models.AttendanceEvent, now time.Time) (time.Duration, error) {
	var total time.Duration
	var open *time.Time

	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case models.EventSignIn:
			if open != nil {
				return 0, fmt.Errorf("%w: sign-in at %s while interval opened at %s is still open",
					ErrInconsistentLedger, ev.Timestamp.Format(time.RFC3339), open.Format(time.RFC3339))
			}
			t := ev.Timestamp
			open = &t
		case models.EventSignOut:
			if open == nil {
				return 0, fmt.Errorf("%w: sign-out at %s has no preceding sign-in in window",
					ErrInconsistentLedger, ev.Timestamp.Format(time.RFC3339))
			}
			total += ev.Timestamp.Sub(*open)
			open = nil
		}
	}

	if open != nil && now.After(*open) {
		total += now.Sub(*open)
	}
	return total, nil
}

// DayWindow returns the [midnight, next midnight) window containing t
// in t's location. Toggle decisions are scoped to this window, matching
// the kiosk's notion of "today".
func DayWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
