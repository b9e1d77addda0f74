package repository

import (
	"time"

	"github.com/camden-git/kioskbackend/models"
)

// SubjectRepositoryInterface defines the methods for subject data operations
type SubjectRepositoryInterface interface {
	Create(subject *models.Subject) error
	GetByID(id uint) (*models.Subject, error)
	GetByName(population models.Population, displayName string) (*models.Subject, error)
	ListByPopulation(population models.Population) ([]models.Subject, error)
	Update(subject *models.Subject) error
	SetEmbedding(id uint, embeddingData []byte) error
	CountByPopulation(population models.Population) (int64, error)
	CountPresent(population models.Population) (int64, error)
}

// AttendanceEventRepositoryInterface defines the methods for the
// append-only attendance ledger. Append is the only mutation; events
// are never edited or deleted.
type AttendanceEventRepositoryInterface interface {
	// RecordTransition appends the event and flips the subject's cached
	// presence flag in a single transaction. The flip is guarded by
	// expectedPresent (the value this session last observed); if the
	// flag has moved underneath, nothing is written and ErrConflict is
	// returned so the caller can re-read and re-decide.
	RecordTransition(event *models.AttendanceEvent, expectedPresent bool) error

	// LastEventOf returns the newest event for the subject within
	// [windowStart, windowEnd), or nil when none exists.
	LastEventOf(subjectID uint, windowStart, windowEnd time.Time) (*models.AttendanceEvent, error)

	// EventsOf returns the subject's events within [windowStart,
	// windowEnd) in ascending timestamp order.
	EventsOf(subjectID uint, windowStart, windowEnd time.Time) ([]models.AttendanceEvent, error)

	ListRecent(kind models.EventKind, limit int) ([]models.AttendanceEvent, error)
}

// KioskRepositoryInterface defines the methods for kiosk device records
type KioskRepositoryInterface interface {
	Create(kiosk *models.Kiosk) error
	GetByID(id uint) (*models.Kiosk, error)
	GetByName(name string) (*models.Kiosk, error)
	TouchLastSeen(id uint, at time.Time) error
}
