package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/kioskbackend/attendance"
	"github.com/camden-git/kioskbackend/capture"
	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/repository"
)

// fakeStore backs both repositories with in-memory maps. RecordTransition
// holds the same conditional-write contract as the gorm implementation.
type fakeStore struct {
	mu       sync.Mutex
	nextID   uint
	subjects map[uint]*models.Subject
	events   []models.AttendanceEvent

	// onRecordTransition, when set, runs before the conditional write.
	// Lets tests line up concurrent sessions at the commit point.
	onRecordTransition func()
}

var (
	_ repository.SubjectRepositoryInterface         = (*fakeStore)(nil)
	_ repository.AttendanceEventRepositoryInterface = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{subjects: make(map[uint]*models.Subject)}
}

func (f *fakeStore) Create(subject *models.Subject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	subject.ID = f.nextID
	cp := *subject
	f.subjects[subject.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(id uint) (*models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subjects[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetByName(population models.Population, displayName string) (*models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subjects {
		if s.Population == population && s.DisplayName == displayName {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) ListByPopulation(population models.Population) ([]models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subject
	for _, s := range f.subjects {
		if s.Population == population {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) Update(subject *models.Subject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *subject
	f.subjects[subject.ID] = &cp
	return nil
}

func (f *fakeStore) SetEmbedding(id uint, embeddingData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subjects[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.EmbeddingData = append([]byte(nil), embeddingData...)
	return nil
}

func (f *fakeStore) CountByPopulation(population models.Population) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.subjects {
		if s.Population == population {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountPresent(population models.Population) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.subjects {
		if s.Population == population && s.CurrentlyPresent {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RecordTransition(event *models.AttendanceEvent, expectedPresent bool) error {
	if f.onRecordTransition != nil {
		f.onRecordTransition()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subjects[event.SubjectID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if s.CurrentlyPresent != expectedPresent {
		return repository.ErrConflict
	}
	s.CurrentlyPresent = event.Kind == models.EventSignIn
	ts := event.Timestamp
	s.LastTransitionAt = &ts
	event.ID = fmt.Sprintf("ev-%d", len(f.events)+1)
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStore) LastEventOf(subjectID uint, windowStart, windowEnd time.Time) (*models.AttendanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *models.AttendanceEvent
	for i := range f.events {
		ev := f.events[i]
		if ev.SubjectID != subjectID {
			continue
		}
		if ev.Timestamp.Before(windowStart) || !ev.Timestamp.Before(windowEnd) {
			continue
		}
		if last == nil || ev.Timestamp.After(last.Timestamp) {
			cp := ev
			last = &cp
		}
	}
	return last, nil
}

func (f *fakeStore) EventsOf(subjectID uint, windowStart, windowEnd time.Time) ([]models.AttendanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AttendanceEvent
	for _, ev := range f.events {
		if ev.SubjectID != subjectID {
			continue
		}
		if ev.Timestamp.Before(windowStart) || !ev.Timestamp.Before(windowEnd) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeStore) ListRecent(kind models.EventKind, limit int) ([]models.AttendanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AttendanceEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].Kind == kind {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeStore) eventKinds() []models.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]models.EventKind, len(f.events))
	for i, ev := range f.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

const testThreshold = 0.45

func testCoordinator(store *fakeStore, policies map[models.Population]Policy) *Coordinator {
	if policies == nil {
		policies = map[models.Population]Policy{
			models.PopulationVisitor: {RequireConfirmation: false},
			models.PopulationStaff:   {RequireConfirmation: false},
		}
	}
	return NewCoordinator(store, attendance.NewLedger(store), testThreshold, 0, policies, 3)
}

func addSubject(t *testing.T, store *fakeStore, name string, pop models.Population, embedding []float32, present bool) *models.Subject {
	t.Helper()
	s := &models.Subject{DisplayName: name, Population: pop, CurrentlyPresent: present}
	s.SetEmbedding(embedding)
	if err := store.Create(s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestIdentifySignInWhenAbsent(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	subj := addSubject(t, store, "Ada Lovelace", models.PopulationStaff, emb, false)

	c := testCoordinator(store, nil)
	out, err := c.Identify(context.Background(), capture.StaticSource(emb), Request{
		Population: models.PopulationStaff,
		Intent:     IntentSignIn,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Code != OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", out.Code)
	}
	if out.Event == nil || out.Event.Kind != models.EventSignIn {
		t.Fatalf("expected a sign-in event, got %+v", out.Event)
	}
	if out.Redirected {
		t.Error("fresh sign-in must not be marked redirected")
	}

	stored, err := store.GetByID(subj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.CurrentlyPresent {
		t.Error("presence flag not flipped after sign-in")
	}
}

func TestIdentifySignInRedirectsWhenPresent(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	addSubject(t, store, "Ada Lovelace", models.PopulationStaff, emb, true)

	c := testCoordinator(store, nil)
	out, err := c.Identify(context.Background(), capture.StaticSource(emb), Request{
		Population: models.PopulationStaff,
		Intent:     IntentSignIn,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Code != OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", out.Code)
	}
	if out.Event.Kind != models.EventSignOut {
		t.Errorf("expected redirect to sign-out, got %s", out.Event.Kind)
	}
	if !out.Redirected {
		t.Error("redirect must be flagged in the outcome")
	}
}

func TestIdentifySignOutWhenAbsent(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	addSubject(t, store, "Ada Lovelace", models.PopulationStaff, emb, false)

	c := testCoordinator(store, nil)
	out, err := c.Identify(context.Background(), capture.StaticSource(emb), Request{
		Population: models.PopulationStaff,
		Intent:     IntentSignOut,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Code != OutcomeAlreadyInState {
		t.Errorf("expected already_in_state, got %s", out.Code)
	}
	if store.eventCount() != 0 {
		t.Errorf("no event may be written, got %d", store.eventCount())
	}
}

func TestIdentifyAutoToggles(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.9, 0.8, 0.7, 0.6, 0.5}
	addSubject(t, store, "Grace Hopper", models.PopulationStaff, emb, false)

	c := testCoordinator(store, nil)
	src := capture.StaticSource(emb)
	req := Request{Population: models.PopulationStaff, Intent: IntentAuto}

	out, err := c.Identify(context.Background(), src, req)
	if err != nil {
		t.Fatal(err)
	}
	if out.Event.Kind != models.EventSignIn {
		t.Fatalf("first auto attempt must sign in, got %s", out.Event.Kind)
	}

	out, err = c.Identify(context.Background(), src, req)
	if err != nil {
		t.Fatal(err)
	}
	if out.Event.Kind != models.EventSignOut {
		t.Fatalf("second auto attempt must sign out, got %s", out.Event.Kind)
	}

	kinds := store.eventKinds()
	if len(kinds) != 2 || kinds[0] != models.EventSignIn || kinds[1] != models.EventSignOut {
		t.Errorf("expected strict alternation, got %v", kinds)
	}
}

func TestIdentifyAutoPresenceFlagWinsOverWindow(t *testing.T) {
	// signed in yesterday: no event in today's window but still present,
	// so auto must record a sign-out rather than a duplicate sign-in
	store := newFakeStore()
	emb := []float32{0.9, 0.8, 0.7, 0.6, 0.5}
	subj := addSubject(t, store, "Grace Hopper", models.PopulationStaff, emb, true)

	yesterday := time.Now().AddDate(0, 0, -1)
	store.events = append(store.events, models.AttendanceEvent{
		ID: "ev-0", SubjectID: subj.ID, Kind: models.EventSignIn, Timestamp: yesterday,
	})

	c := testCoordinator(store, nil)
	out, err := c.Identify(context.Background(), capture.StaticSource(emb), Request{
		Population: models.PopulationStaff,
		Intent:     IntentAuto,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != OutcomeRecorded || out.Event.Kind != models.EventSignOut {
		t.Errorf("expected recorded sign-out, got %s / %+v", out.Code, out.Event)
	}
}

func TestIdentifyRequiresConfirmation(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	addSubject(t, store, "Ada Lovelace", models.PopulationVisitor, emb, false)

	policies := map[models.Population]Policy{
		models.PopulationVisitor: {RequireConfirmation: true},
	}
	c := testCoordinator(store, policies)

	req := Request{Population: models.PopulationVisitor, Intent: IntentSignIn}
	out, err := c.Identify(context.Background(), capture.StaticSource(emb), req)
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != OutcomeNeedsConfirmation {
		t.Fatalf("expected needs_confirmation, got %s", out.Code)
	}
	if out.Subject == nil {
		t.Fatal("confirmation prompt needs the candidate subject")
	}
	if store.eventCount() != 0 {
		t.Fatalf("nothing may be recorded before confirmation, got %d events", store.eventCount())
	}

	req.Confirmed = true
	out, err = c.Identify(context.Background(), capture.StaticSource(emb), req)
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != OutcomeRecorded || out.Event.Kind != models.EventSignIn {
		t.Errorf("confirmed attempt should record a sign-in, got %s", out.Code)
	}
}

func TestIdentifyNoFaceExtracted(t *testing.T) {
	store := newFakeStore()
	c := testCoordinator(store, nil)

	out, err := c.Identify(context.Background(), capture.StaticSource(nil), Request{
		Population: models.PopulationVisitor,
		Intent:     IntentSignIn,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != OutcomeNoEmbedding {
		t.Errorf("expected no_embedding, got %s", out.Code)
	}
	if store.eventCount() != 0 {
		t.Error("failed capture must not write anything")
	}
}

func TestIdentifyUnmatchedOffersEnrollment(t *testing.T) {
	store := newFakeStore()
	addSubject(t, store, "Ada Lovelace", models.PopulationVisitor, []float32{10, 10, 10, 10, 10}, false)

	c := testCoordinator(store, nil)
	probe := capture.StaticSource([]float32{0.1, 0.2, 0.3, 0.4, 0.5})

	out, err := c.Identify(context.Background(), probe, Request{
		Population: models.PopulationVisitor,
		Intent:     IntentSignIn,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != OutcomeNeedsEnrollment {
		t.Fatalf("expected needs_enrollment, got %s", out.Code)
	}

	out, err = c.Identify(context.Background(), probe, Request{
		Population: models.PopulationVisitor,
		Intent:     IntentSignIn,
		Enroll: &Enrollment{
			FirstName: "Mary",
			LastName:  "Shelley",
			Company:   "Lackington's",
			Reason:    "book delivery",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != OutcomeRecorded || !out.Enrolled {
		t.Fatalf("expected an enrolled recording, got %s (enrolled=%v)", out.Code, out.Enrolled)
	}
	if out.Event.Kind != models.EventSignIn {
		t.Errorf("enrollment must finish as a sign-in, got %s", out.Event.Kind)
	}
	if out.Event.Reason == nil || *out.Event.Reason != "book delivery" {
		t.Error("visit reason should be stamped on the sign-in event")
	}
	if out.Subject.DisplayName != "Mary Shelley" {
		t.Errorf("unexpected display name %q", out.Subject.DisplayName)
	}
	if !out.Subject.HasEmbedding() {
		t.Error("enrollment must attach the captured embedding")
	}
}

func TestIdentifyEnrollmentReattachesPreRegistered(t *testing.T) {
	store := newFakeStore()
	pre := &models.Subject{DisplayName: "Mary Shelley", Population: models.PopulationVisitor}
	if err := store.Create(pre); err != nil {
		t.Fatal(err)
	}

	c := testCoordinator(store, nil)
	out, err := c.Identify(context.Background(), capture.StaticSource([]float32{1, 2, 3, 4, 5}), Request{
		Population: models.PopulationVisitor,
		Intent:     IntentSignIn,
		Enroll:     &Enrollment{FirstName: "Mary", LastName: "Shelley"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Subject.ID != pre.ID {
		t.Errorf("enrollment should reuse the pre-registered subject %d, got %d", pre.ID, out.Subject.ID)
	}

	stored, err := store.GetByID(pre.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.HasEmbedding() {
		t.Error("embedding not attached to the pre-registered subject")
	}
}

func TestIdentifyCancelledContext(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	addSubject(t, store, "Ada Lovelace", models.PopulationStaff, emb, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testCoordinator(store, nil)
	_, err := c.Identify(ctx, capture.StaticSource(emb), Request{
		Population: models.PopulationStaff,
		Intent:     IntentSignIn,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.eventCount() != 0 {
		t.Error("cancelled attempt must not write anything")
	}
}

func TestIdentifyUnknownPopulation(t *testing.T) {
	c := testCoordinator(newFakeStore(), nil)
	_, err := c.Identify(context.Background(), capture.StaticSource([]float32{1}), Request{
		Population: "contractor",
		Intent:     IntentSignIn,
	})
	if err == nil {
		t.Fatal("expected an error for an unknown population")
	}
}

func TestConcurrentSignInsRecordExactlyOne(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	addSubject(t, store, "Ada Lovelace", models.PopulationStaff, emb, false)

	// hold both sessions at the commit point so each has already read
	// the subject as absent before either write lands
	barrier := make(chan struct{})
	var arrivals int32
	store.onRecordTransition = func() {
		if atomic.AddInt32(&arrivals, 1) == 2 {
			close(barrier)
		}
		<-barrier
	}

	c := testCoordinator(store, nil)
	req := Request{Population: models.PopulationStaff, Intent: IntentSignIn}

	outcomes := make([]*Outcome, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = c.Identify(context.Background(), capture.StaticSource(emb), req)
		}(i)
	}
	wg.Wait()

	var recorded, alreadyIn int
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("session %d failed: %v", i, errs[i])
		}
		switch outcomes[i].Code {
		case OutcomeRecorded:
			recorded++
			if outcomes[i].Event.Kind != models.EventSignIn {
				t.Errorf("session %d recorded %s, want sign_in", i, outcomes[i].Event.Kind)
			}
		case OutcomeAlreadyInState:
			alreadyIn++
		default:
			t.Errorf("session %d unexpected outcome %s", i, outcomes[i].Code)
		}
	}

	if recorded != 1 || alreadyIn != 1 {
		t.Errorf("expected one winner and one already_in_state, got %d recorded, %d already_in_state", recorded, alreadyIn)
	}

	kinds := store.eventKinds()
	if len(kinds) != 1 || kinds[0] != models.EventSignIn {
		t.Errorf("ledger must hold exactly one sign-in, got %v", kinds)
	}
}

func TestNotifierFiresOnRecord(t *testing.T) {
	store := newFakeStore()
	emb := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	addSubject(t, store, "Ada Lovelace", models.PopulationStaff, emb, false)

	c := testCoordinator(store, nil)
	var mu sync.Mutex
	var seen []models.EventKind
	c.SetNotifier(func(event *models.AttendanceEvent, subject *models.Subject) {
		mu.Lock()
		seen = append(seen, event.Kind)
		mu.Unlock()
	})

	if _, err := c.Identify(context.Background(), capture.StaticSource(emb), Request{
		Population: models.PopulationStaff,
		Intent:     IntentSignIn,
	}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != models.EventSignIn {
		t.Errorf("notifier should see the recorded sign-in, got %v", seen)
	}
}
