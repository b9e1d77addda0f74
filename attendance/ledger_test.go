package attendance

import (
	"errors"
	"testing"
	"time"

	"github.com/camden-git/kioskbackend/models"
)

func eventAt(kind models.EventKind, hour, minute int) models.AttendanceEvent {
	return models.AttendanceEvent{
		SubjectID: 1,
		Kind:      kind,
		Timestamp: time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC),
	}
}

func TestSumIntervalsClosedPair(t *testing.T) {
	events := []models.AttendanceEvent{
		eventAt(models.EventSignIn, 9, 0),
		eventAt(models.EventSignOut, 17, 0),
	}
	now := time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC)

	total, err := SumIntervals(events, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 8*time.Hour {
		t.Errorf("expected 8h, got %v", total)
	}
}

func TestSumIntervalsOpenTrailingSignIn(t *testing.T) {
	events := []models.AttendanceEvent{
		eventAt(models.EventSignIn, 9, 0),
	}
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	total, err := SumIntervals(events, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3*time.Hour {
		t.Errorf("open interval should accrue to now, expected 3h, got %v", total)
	}
}

func TestSumIntervalsMultiplePairs(t *testing.T) {
	events := []models.AttendanceEvent{
		eventAt(models.EventSignIn, 9, 0),
		eventAt(models.EventSignOut, 12, 0),
		eventAt(models.EventSignIn, 13, 0),
		eventAt(models.EventSignOut, 17, 30),
	}
	now := time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC)

	total, err := SumIntervals(events, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := 7*time.Hour + 30*time.Minute; total != want {
		t.Errorf("expected %v, got %v", want, total)
	}
}

func TestSumIntervalsOrphanSignOut(t *testing.T) {
	events := []models.AttendanceEvent{
		eventAt(models.EventSignOut, 17, 0),
	}
	_, err := SumIntervals(events, time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrInconsistentLedger) {
		t.Errorf("expected ErrInconsistentLedger, got %v", err)
	}
}

func TestSumIntervalsDoubleSignIn(t *testing.T) {
	events := []models.AttendanceEvent{
		eventAt(models.EventSignIn, 9, 0),
		eventAt(models.EventSignIn, 10, 0),
	}
	_, err := SumIntervals(events, time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrInconsistentLedger) {
		t.Errorf("expected ErrInconsistentLedger, got %v", err)
	}
}

func TestSumIntervalsEmpty(t *testing.T) {
	total, err := SumIntervals(nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Errorf("expected 0 for no events, got %v", total)
	}
}

func TestNextKindAlternates(t *testing.T) {
	if got := NextKind(nil); got != models.EventSignIn {
		t.Errorf("no prior event must yield sign-in, got %s", got)
	}
	in := eventAt(models.EventSignIn, 9, 0)
	if got := NextKind(&in); got != models.EventSignOut {
		t.Errorf("after sign-in expected sign-out, got %s", got)
	}
	out := eventAt(models.EventSignOut, 17, 0)
	if got := NextKind(&out); got != models.EventSignIn {
		t.Errorf("after sign-out expected sign-in, got %s", got)
	}
}

func TestDayWindow(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2025, 6, 2, 14, 30, 0, 0, loc)

	start, end := DayWindow(at)
	if want := time.Date(2025, 6, 2, 0, 0, 0, 0, loc); !start.Equal(want) {
		t.Errorf("expected window start %v, got %v", want, start)
	}
	if want := time.Date(2025, 6, 3, 0, 0, 0, 0, loc); !end.Equal(want) {
		t.Errorf("expected window end %v, got %v", want, end)
	}
	if at.Before(start) || !at.Before(end) {
		t.Error("t must fall inside its own day window")
	}
}
