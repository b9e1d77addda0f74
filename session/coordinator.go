// Package session drives one end-to-end identification attempt as an
// explicit state machine. All attempt state lives in a Session value
// passed through the pipeline; nothing is shared between concurrent
// kiosk sessions except the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/camden-git/kioskbackend/attendance"
	"github.com/camden-git/kioskbackend/capture"
	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/recognition"
	"github.com/camden-git/kioskbackend/repository"
)

// State is a stage of the identification pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateMatched   State = "matched"
	StateUnmatched State = "unmatched"
	StateDeciding  State = "deciding"
	StateRecorded  State = "recorded"
)

// Intent is what the person at the kiosk asked for.
type Intent string

const (
	// IntentAuto toggles based on the subject's state (staff flow)
	IntentAuto    Intent = "auto"
	IntentSignIn  Intent = "sign_in"
	IntentSignOut Intent = "sign_out"
)

// OutcomeCode classifies how an attempt ended.
type OutcomeCode string

const (
	OutcomeRecorded          OutcomeCode = "recorded"
	OutcomeNeedsConfirmation OutcomeCode = "needs_confirmation"
	OutcomeNeedsEnrollment   OutcomeCode = "needs_enrollment"
	OutcomeNoEmbedding       OutcomeCode = "no_embedding"
	OutcomeAlreadyInState    OutcomeCode = "already_in_state"
)

// ErrWriteConflict is returned when the optimistic presence
// precondition kept failing across all re-decide attempts.
var ErrWriteConflict = errors.New("session: presence flag kept moving, giving up")

// Policy configures how a population's flow behaves.
type Policy struct {
	// RequireConfirmation holds the "is this you?" step before anything
	// is recorded for a matched subject
	RequireConfirmation bool
}

// Enrollment carries the attributes supplied when an unmatched person
// completes onboarding at the kiosk.
type Enrollment struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Company    string `json:"company,omitempty"`
	Role       string `json:"role,omitempty"`
	Email      string `json:"email,omitempty"`
	Reason     string `json:"reason,omitempty"`
	VehicleReg string `json:"vehicle_reg,omitempty"`
}

// DisplayName joins the onboarding name fields.
func (e *Enrollment) DisplayName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Request describes one identification attempt.
type Request struct {
	Population models.Population
	Intent     Intent
	// Confirmed marks that the person accepted the "is this you?"
	// prompt on a previous attempt
	Confirmed  bool
	KioskID    *uint
	Reason     *string
	VehicleReg *string
	Enroll     *Enrollment
}

// Session is the per-attempt state threaded through the pipeline.
type Session struct {
	ID         string
	State      State
	Population models.Population
	Probe      []float32
	Candidate  *recognition.Candidate
}

// Outcome is the result reported back to the kiosk.
type Outcome struct {
	Code     OutcomeCode             `json:"code"`
	State    State                   `json:"state"`
	Subject  *models.Subject         `json:"subject,omitempty"`
	Distance float64                 `json:"distance,omitempty"`
	Event    *models.AttendanceEvent `json:"event,omitempty"`
	// Redirected marks a sign-in attempt on an already-present subject
	// that was recorded as a sign-out instead
	Redirected bool `json:"redirected,omitempty"`
	// Enrolled marks that a new subject was created during this attempt
	Enrolled bool `json:"enrolled,omitempty"`
}

// Notifier receives every recorded transition (dashboards, websocket
// feed). Called outside the store transaction.
type Notifier func(event *models.AttendanceEvent, subject *models.Subject)

// Coordinator orchestrates capture, matching, the presence decision and
// the ledger append. Safe for concurrent use.
type Coordinator struct {
	subjects   repository.SubjectRepositoryInterface
	ledger     *attendance.Ledger
	threshold  float64
	hnswCutoff int
	policies   map[models.Population]Policy
	maxRetries int
	notify     Notifier
	now        func() time.Time
}

// NewCoordinator wires a coordinator. maxRetries bounds the re-decide
// loop on write conflicts.
func NewCoordinator(
	subjects repository.SubjectRepositoryInterface,
	ledger *attendance.Ledger,
	threshold float64,
	hnswCutoff int,
	policies map[models.Population]Policy,
	maxRetries int,
) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Coordinator{
		subjects:   subjects,
		ledger:     ledger,
		threshold:  threshold,
		hnswCutoff: hnswCutoff,
		policies:   policies,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// SetNotifier registers the transition callback.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notify = n
}

// SetClock overrides the time source. Tests only.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Identify runs one attempt: capture, match, decide, record. The
// context cancels the attempt at any state before Recorded without
// writing anything.
func (c *Coordinator) Identify(ctx context.Context, src capture.Source, req Request) (*Outcome, error) {
	if !req.Population.Valid() {
		return nil, fmt.Errorf("unknown population %q", req.Population)
	}

	sess := Session{ID: uuid.NewString(), State: StateCapturing, Population: req.Population}

	probe, err := src.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	if probe == nil {
		// no face extracted: recoverable, the kiosk offers retry or
		// manual fallback
		sess.State = StateUnmatched
		return &Outcome{Code: OutcomeNoEmbedding, State: sess.State}, nil
	}
	sess.Probe = probe

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// gallery snapshot is refreshed on every attempt
	enrolled, err := c.subjects.ListByPopulation(req.Population)
	if err != nil {
		return nil, fmt.Errorf("failed to load gallery: %w", err)
	}
	gallery := recognition.NewGallery(enrolled, c.hnswCutoff)
	sess.Candidate = gallery.Match(sess.Probe, c.threshold)

	if sess.Candidate == nil {
		sess.State = StateUnmatched
		if req.Enroll == nil {
			return &Outcome{Code: OutcomeNeedsEnrollment, State: sess.State}, nil
		}
		return c.enrollAndSignIn(ctx, &sess, req)
	}

	sess.State = StateMatched
	subject := sess.Candidate.Subject

	policy := c.policies[req.Population]
	if policy.RequireConfirmation && !req.Confirmed {
		return &Outcome{
			Code:     OutcomeNeedsConfirmation,
			State:    sess.State,
			Subject:  subject,
			Distance: sess.Candidate.Distance,
		}, nil
	}

	return c.decideAndRecord(ctx, &sess, req, subject.ID, sess.Candidate.Distance, false)
}

// enrollAndSignIn creates (or re-attaches) a subject for an unmatched
// person and records their first sign-in.
func (c *Coordinator) enrollAndSignIn(ctx context.Context, sess *Session, req Request) (*Outcome, error) {
	name := req.Enroll.DisplayName()
	if name == "" {
		return nil, errors.New("enrollment requires a name")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// a returning person may already have a record from
	// pre-registration or an earlier visit under the same name
	subject, err := c.subjects.GetByName(req.Population, name)
	switch {
	case err == nil:
		subject.SetEmbedding(sess.Probe)
		if err := c.subjects.SetEmbedding(subject.ID, subject.EmbeddingData); err != nil {
			return nil, fmt.Errorf("failed to attach embedding to subject %d: %w", subject.ID, err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		subject = &models.Subject{
			DisplayName: name,
			Population:  req.Population,
		}
		if req.Enroll.Company != "" {
			subject.Company = &req.Enroll.Company
		}
		if req.Enroll.Role != "" {
			subject.Role = &req.Enroll.Role
		}
		if req.Enroll.Email != "" {
			subject.Email = &req.Enroll.Email
		}
		subject.SetEmbedding(sess.Probe)
		if err := c.subjects.Create(subject); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if req.Reason == nil && req.Enroll.Reason != "" {
		req.Reason = &req.Enroll.Reason
	}
	if req.VehicleReg == nil && req.Enroll.VehicleReg != "" {
		req.VehicleReg = &req.Enroll.VehicleReg
	}

	outcome, err := c.decideAndRecord(ctx, sess, req, subject.ID, 0, true)
	if err != nil {
		return nil, err
	}
	outcome.Enrolled = true
	return outcome, nil
}

// decideAndRecord is the Deciding state: read the subject's current
// presence, pick the transition, and commit the event plus flag flip
// under the optimistic precondition. On conflict it re-reads and
// re-decides rather than retrying the same write.
func (c *Coordinator) decideAndRecord(ctx context.Context, sess *Session, req Request, subjectID uint, distance float64, enrolled bool) (*Outcome, error) {
	sess.State = StateDeciding

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// always re-read right before committing; the matched snapshot
		// may be stale by now
		subject, err := c.subjects.GetByID(subjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read subject %d: %w", subjectID, err)
		}

		now := c.now()
		windowStart, windowEnd := attendance.DayWindow(now)
		last, err := c.ledger.LastEventOf(subject.ID, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}

		kind, redirected, outcome := c.pickTransition(req.Intent, subject, last, attempt == 0)
		if outcome != nil {
			outcome.State = sess.State
			outcome.Subject = subject
			outcome.Distance = distance
			return outcome, nil
		}

		event := &models.AttendanceEvent{
			SubjectID: subject.ID,
			Kind:      kind,
			Timestamp: now,
			KioskID:   req.KioskID,
		}
		if kind == models.EventSignIn {
			event.Reason = req.Reason
			event.VehicleReg = req.VehicleReg
		}

		err = c.ledger.Record(event, subject.CurrentlyPresent)
		if errors.Is(err, repository.ErrConflict) {
			log.Printf("session %s: presence flag moved for subject %d, re-deciding (attempt %d)", sess.ID, subject.ID, attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		sess.State = StateRecorded
		subject.CurrentlyPresent = kind == models.EventSignIn
		subject.LastTransitionAt = &event.Timestamp

		if c.notify != nil {
			c.notify(event, subject)
		}

		return &Outcome{
			Code:       OutcomeRecorded,
			State:      sess.State,
			Subject:    subject,
			Distance:   distance,
			Event:      event,
			Redirected: redirected,
			Enrolled:   enrolled,
		}, nil
	}

	return nil, ErrWriteConflict
}

// pickTransition decides the event kind from the intent, the cached
// presence flag and today's last event. A non-nil outcome means no
// event should be written.
//
// firstAttempt distinguishes a fresh decision from a re-decision after
// a write conflict. On a fresh sign-in attempt an already-present
// subject redirects to the check-out decision (the person is standing
// at the kiosk and presumably wants to leave); after a conflict the
// presence moved because a concurrent session just transitioned the
// subject, so the attempt reports already-in-state instead of undoing
// the other session's write.
func (c *Coordinator) pickTransition(intent Intent, subject *models.Subject, last *models.AttendanceEvent, firstAttempt bool) (models.EventKind, bool, *Outcome) {
	switch intent {
	case IntentSignIn:
		if subject.CurrentlyPresent {
			if firstAttempt {
				// never append a duplicate sign-in; redirect to the
				// check-out decision instead
				return models.EventSignOut, true, nil
			}
			return "", false, &Outcome{Code: OutcomeAlreadyInState}
		}
		return models.EventSignIn, false, nil

	case IntentSignOut:
		if !subject.CurrentlyPresent {
			return "", false, &Outcome{Code: OutcomeAlreadyInState}
		}
		return models.EventSignOut, false, nil

	default: // IntentAuto
		if !firstAttempt {
			// a concurrent session applied the toggle first
			return "", false, &Outcome{Code: OutcomeAlreadyInState}
		}
		kind := attendance.NextKind(last)
		// the presence flag wins over today's window: a subject who
		// signed in yesterday has no event today but is still present
		if kind == models.EventSignIn && subject.CurrentlyPresent {
			return models.EventSignOut, true, nil
		}
		if kind == models.EventSignOut && !subject.CurrentlyPresent {
			return models.EventSignIn, true, nil
		}
		return kind, false, nil
	}
}
