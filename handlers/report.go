package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/camden-git/kioskbackend/database"
)

// ReportHandler serves the admin reporting queries straight off the
// raw sql.DB
type ReportHandler struct {
	DB *sql.DB
}

// OnSiteReport lists everyone currently present with their latest
// sign-in details (the emergency report)
func (rh *ReportHandler) OnSiteReport(w http.ResponseWriter, r *http.Request) {
	population := r.URL.Query().Get("population")

	rows, err := database.QueryOnSite(rh.DB, population)
	if err != nil {
		log.Printf("Error generating on-site report: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to generate on-site report")
		return
	}
	if rows == nil {
		rows = []database.OnSiteRow{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generated_at": time.Now(),
		"on_site":      rows,
	})
}

// AttendanceReport lists attendance events with optional filters
func (rh *ReportHandler) AttendanceReport(w http.ResponseWriter, r *http.Request) {
	filter := database.AttendanceReportFilter{
		Population: r.URL.Query().Get("population"),
		Kind:       r.URL.Query().Get("kind"),
		Limit:      200,
	}

	if idStr := r.URL.Query().Get("subject_id"); idStr != "" {
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid subject_id")
			return
		}
		filter.SubjectID = uint(id)
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "'from' must be RFC3339")
			return
		}
		filter.After = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "'to' must be RFC3339")
			return
		}
		filter.Before = t
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.ParseUint(limitStr, 10, 32)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	rows, err := database.QueryAttendanceReport(rh.DB, filter)
	if err != nil {
		log.Printf("Error generating attendance report: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to generate attendance report")
		return
	}
	if rows == nil {
		rows = []database.AttendanceReportRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}
