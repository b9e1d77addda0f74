package database

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// AttendanceReportFilter narrows the attendance report query. Zero-value
// fields are left out of the generated SQL.
type AttendanceReportFilter struct {
	Population string
	SubjectID  uint
	Kind       string
	After      time.Time
	Before     time.Time
	Limit      uint64
}

// AttendanceReportRow is one event joined with its subject, as rendered
// on the admin attendance page.
type AttendanceReportRow struct {
	EventID     string    `json:"event_id"`
	SubjectID   uint      `json:"subject_id"`
	DisplayName string    `json:"display_name"`
	Population  string    `json:"population"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      *string   `json:"reason,omitempty"`
	VehicleReg  *string   `json:"vehicle_reg,omitempty"`
}

// QueryAttendanceReport returns attendance events joined with subject
// details, newest first, applying any filters set on f.
func QueryAttendanceReport(db *sql.DB, f AttendanceReportFilter) ([]AttendanceReportRow, error) {
	builder := sq.Select(
		"attendance_events.id",
		"attendance_events.subject_id",
		"subjects.display_name",
		"subjects.population",
		"attendance_events.kind",
		"attendance_events.timestamp",
		"attendance_events.reason",
		"attendance_events.vehicle_reg",
	).
		From("attendance_events").
		Join("subjects ON subjects.id = attendance_events.subject_id").
		OrderBy("attendance_events.timestamp DESC")

	if f.Population != "" {
		builder = builder.Where(sq.Eq{"subjects.population": f.Population})
	}
	if f.SubjectID != 0 {
		builder = builder.Where(sq.Eq{"attendance_events.subject_id": f.SubjectID})
	}
	if f.Kind != "" {
		builder = builder.Where(sq.Eq{"attendance_events.kind": f.Kind})
	}
	if !f.After.IsZero() {
		builder = builder.Where(sq.GtOrEq{"attendance_events.timestamp": f.After})
	}
	if !f.Before.IsZero() {
		builder = builder.Where(sq.Lt{"attendance_events.timestamp": f.Before})
	}
	if f.Limit > 0 {
		builder = builder.Limit(f.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build attendance report query: %w", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run attendance report query: %w", err)
	}
	defer rows.Close()

	var report []AttendanceReportRow
	for rows.Next() {
		var row AttendanceReportRow
		if err := rows.Scan(&row.EventID, &row.SubjectID, &row.DisplayName, &row.Population,
			&row.Kind, &row.Timestamp, &row.Reason, &row.VehicleReg); err != nil {
			return nil, fmt.Errorf("failed to scan attendance report row: %w", err)
		}
		report = append(report, row)
	}
	return report, rows.Err()
}

// OnSiteRow is one currently-present person with their latest sign-in,
// as listed on the emergency report.
type OnSiteRow struct {
	SubjectID   uint      `json:"subject_id"`
	DisplayName string    `json:"display_name"`
	Population  string    `json:"population"`
	Company     *string   `json:"company,omitempty"`
	SignedInAt  time.Time `json:"signed_in_at"`
	Reason      *string   `json:"reason,omitempty"`
	VehicleReg  *string   `json:"vehicle_reg,omitempty"`
}

// QueryOnSite returns everyone whose presence flag is set, joined with
// their most recent sign-in event. Used by the emergency report, which
// must never be silently empty on error.
func QueryOnSite(db *sql.DB, population string) ([]OnSiteRow, error) {
	builder := sq.Select(
		"subjects.id",
		"subjects.display_name",
		"subjects.population",
		"subjects.company",
		"attendance_events.timestamp",
		"attendance_events.reason",
		"attendance_events.vehicle_reg",
	).
		From("subjects").
		Join("attendance_events ON attendance_events.subject_id = subjects.id").
		Where(sq.Eq{"subjects.currently_present": true}).
		Where(sq.Eq{"attendance_events.kind": "sign_in"}).
		Where("attendance_events.timestamp = (SELECT MAX(e.timestamp) FROM attendance_events e WHERE e.subject_id = subjects.id AND e.kind = 'sign_in')").
		OrderBy("attendance_events.timestamp DESC")

	if population != "" {
		builder = builder.Where(sq.Eq{"subjects.population": population})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build on-site query: %w", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run on-site query: %w", err)
	}
	defer rows.Close()

	var onSite []OnSiteRow
	for rows.Next() {
		var row OnSiteRow
		if err := rows.Scan(&row.SubjectID, &row.DisplayName, &row.Population, &row.Company,
			&row.SignedInAt, &row.Reason, &row.VehicleReg); err != nil {
			return nil, fmt.Errorf("failed to scan on-site row: %w", err)
		}
		onSite = append(onSite, row)
	}
	return onSite, rows.Err()
}
