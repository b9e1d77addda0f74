package workers

import (
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/repository"
)

const recentSignInCount = 5

// RecentSignIn is one entry in the dashboard's recent activity card
type RecentSignIn struct {
	SubjectID   uint      `json:"subject_id"`
	DisplayName string    `json:"display_name"`
	Company     *string   `json:"company,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DashboardSnapshot holds the cached dashboard aggregates
type DashboardSnapshot struct {
	VisitorsPresent  int64          `json:"visitors_present"`
	VisitorsEnrolled int64          `json:"visitors_enrolled"`
	StaffPresent     int64          `json:"staff_present"`
	StaffEnrolled    int64          `json:"staff_enrolled"`
	RecentSignIns    []RecentSignIn `json:"recent_sign_ins"`
	RefreshedAt      time.Time      `json:"refreshed_at"`
}

// AggregatesWorker keeps the dashboard snapshot fresh on a schedule and
// on demand after each recorded transition
type AggregatesWorker struct {
	subjects  repository.SubjectRepositoryInterface
	events    repository.AttendanceEventRepositoryInterface
	scheduler *gocron.Scheduler

	mu       sync.RWMutex
	snapshot DashboardSnapshot
}

func NewAggregatesWorker(subjects repository.SubjectRepositoryInterface, events repository.AttendanceEventRepositoryInterface) *AggregatesWorker {
	return &AggregatesWorker{
		subjects: subjects,
		events:   events,
	}
}

// Start refreshes once immediately, then on the given interval
func (w *AggregatesWorker) Start(interval time.Duration) error {
	w.Refresh()

	w.scheduler = gocron.NewScheduler(time.Local)
	if _, err := w.scheduler.Every(interval).Do(w.Refresh); err != nil {
		return err
	}
	w.scheduler.StartAsync()
	log.Printf("started dashboard aggregates worker (interval: %s)", interval)
	return nil
}

func (w *AggregatesWorker) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}

// Snapshot returns the current cached aggregates
func (w *AggregatesWorker) Snapshot() DashboardSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Refresh recomputes the aggregates from the store. Failures keep the
// previous snapshot and are logged, never surfaced to kiosks.
func (w *AggregatesWorker) Refresh() {
	snap := DashboardSnapshot{RefreshedAt: time.Now()}

	var err error
	if snap.VisitorsPresent, err = w.subjects.CountPresent(models.PopulationVisitor); err != nil {
		log.Printf("aggregates: failed to count present visitors: %v", err)
		return
	}
	if snap.VisitorsEnrolled, err = w.subjects.CountByPopulation(models.PopulationVisitor); err != nil {
		log.Printf("aggregates: failed to count visitors: %v", err)
		return
	}
	if snap.StaffPresent, err = w.subjects.CountPresent(models.PopulationStaff); err != nil {
		log.Printf("aggregates: failed to count present staff: %v", err)
		return
	}
	if snap.StaffEnrolled, err = w.subjects.CountByPopulation(models.PopulationStaff); err != nil {
		log.Printf("aggregates: failed to count staff: %v", err)
		return
	}

	recent, err := w.events.ListRecent(models.EventSignIn, recentSignInCount)
	if err != nil {
		log.Printf("aggregates: failed to list recent sign-ins: %v", err)
		return
	}
	for _, ev := range recent {
		entry := RecentSignIn{SubjectID: ev.SubjectID, Timestamp: ev.Timestamp}
		if ev.Subject != nil {
			entry.DisplayName = ev.Subject.DisplayName
			entry.Company = ev.Subject.Company
		}
		snap.RecentSignIns = append(snap.RecentSignIns, entry)
	}

	w.mu.Lock()
	w.snapshot = snap
	w.mu.Unlock()
}
