package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/kioskbackend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AttendanceEventRepository handles database operations for the
// append-only attendance ledger
type AttendanceEventRepository struct {
	DB *gorm.DB
}

// Ensure AttendanceEventRepository implements AttendanceEventRepositoryInterface
var _ AttendanceEventRepositoryInterface = (*AttendanceEventRepository)(nil)

// NewAttendanceEventRepository creates a new instance of AttendanceEventRepository
func NewAttendanceEventRepository(db *gorm.DB) *AttendanceEventRepository {
	return &AttendanceEventRepository{DB: db}
}

// RecordTransition appends the event and flips the subject's presence
// flag in one transaction. The update is conditioned on the presence
// flag still holding the value the caller observed; when the condition
// fails no rows are touched and ErrConflict is returned.
func (r *AttendanceEventRepository) RecordTransition(event *models.AttendanceEvent, expectedPresent bool) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	newPresent := event.Kind == models.EventSignIn

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Subject{}).
			Where("id = ? AND currently_present = ?", event.SubjectID, expectedPresent).
			Updates(map[string]interface{}{
				"currently_present":  newPresent,
				"last_transition_at": event.Timestamp,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update presence flag for subject %d: %w", event.SubjectID, result.Error)
		}
		if result.RowsAffected == 0 {
			// either the flag moved underneath us or the subject is gone;
			// the caller re-reads to tell the two apart
			return ErrConflict
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to append attendance event for subject %d: %w", event.SubjectID, err)
		}
		return nil
	})
	return err
}

// LastEventOf returns the newest event for the subject within the
// window, or nil when the subject has no events there
func (r *AttendanceEventRepository) LastEventOf(subjectID uint, windowStart, windowEnd time.Time) (*models.AttendanceEvent, error) {
	var event models.AttendanceEvent
	err := r.DB.Where("subject_id = ? AND timestamp >= ? AND timestamp < ?", subjectID, windowStart, windowEnd).
		Order("timestamp DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last event for subject %d: %w", subjectID, err)
	}
	return &event, nil
}

// EventsOf returns the subject's events within the window in ascending
// timestamp order
func (r *AttendanceEventRepository) EventsOf(subjectID uint, windowStart, windowEnd time.Time) ([]models.AttendanceEvent, error) {
	var events []models.AttendanceEvent
	err := r.DB.Where("subject_id = ? AND timestamp >= ? AND timestamp < ?", subjectID, windowStart, windowEnd).
		Order("timestamp ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events for subject %d: %w", subjectID, err)
	}
	return events, nil
}

// ListRecent returns the newest events of a kind, newest first, with
// subjects preloaded. Used by the dashboard's recent sign-ins card.
func (r *AttendanceEventRepository) ListRecent(kind models.EventKind, limit int) ([]models.AttendanceEvent, error) {
	var events []models.AttendanceEvent
	err := r.DB.Where("kind = ?", kind).
		Order("timestamp DESC").
		Limit(limit).
		Preload("Subject").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent %s events: %w", kind, err)
	}
	return events, nil
}
