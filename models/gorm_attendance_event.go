package models

import (
	"time"
)

// EventKind is the type of an attendance transition.
type EventKind string

const (
	EventSignIn  EventKind = "sign_in"
	EventSignOut EventKind = "sign_out"
)

// Opposite returns the kind that must follow k under strict alternation.
func (k EventKind) Opposite() EventKind {
	if k == EventSignIn {
		return EventSignOut
	}
	return EventSignIn
}

// AttendanceEvent is one entry in the append-only attendance ledger.
// It corresponds to the 'attendance_events' table. Events are never
// updated or deleted in normal operation.
type AttendanceEvent struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"` // uuid, assigned on append
	SubjectID uint      `gorm:"not null;index:idx_subject_time" json:"subject_id"`
	Kind      EventKind `gorm:"not null" json:"kind"`
	Timestamp time.Time `gorm:"not null;index:idx_subject_time" json:"timestamp"`

	// visit metadata, carried on sign-in events when known
	Reason     *string `json:"reason,omitempty"`
	VehicleReg *string `json:"vehicle_reg,omitempty"`
	KioskID    *uint   `json:"kiosk_id,omitempty"`

	Subject *Subject `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (AttendanceEvent) TableName() string {
	return "attendance_events"
}
