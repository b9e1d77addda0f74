package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/kioskbackend/attendance"
	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/repository"
)

// SubjectHandler covers enrollment, pre-registration and history reads
type SubjectHandler struct {
	Subjects repository.SubjectRepositoryInterface
	Events   repository.AttendanceEventRepositoryInterface
	Ledger   *attendance.Ledger
}

// CreateSubject pre-registers a visitor or staff member. The embedding
// is optional: pre-registered subjects get one attached on their first
// confirmed kiosk enrollment.
func (sh *SubjectHandler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string    `json:"display_name"`
		Population  string    `json:"population"`
		Company     *string   `json:"company"`
		Role        *string   `json:"role"`
		Email       *string   `json:"email"`
		Embedding   []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing required field: display_name")
		return
	}
	population := models.Population(req.Population)
	if !population.Valid() {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "population must be 'visitor' or 'staff'")
		return
	}

	subject := &models.Subject{
		DisplayName: req.DisplayName,
		Population:  population,
		Company:     req.Company,
		Role:        req.Role,
		Email:       req.Email,
	}
	subject.SetEmbedding(req.Embedding)

	if err := sh.Subjects.Create(subject); err != nil {
		log.Printf("Error creating subject %q: %v", req.DisplayName, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to create subject")
		return
	}

	writeJSON(w, http.StatusCreated, subject)
}

// ListSubjects lists a population's subjects
func (sh *SubjectHandler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	population := models.Population(r.URL.Query().Get("population"))
	if population == "" {
		population = models.PopulationVisitor
	}
	if !population.Valid() {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "population must be 'visitor' or 'staff'")
		return
	}

	subjects, err := sh.Subjects.ListByPopulation(population)
	if err != nil {
		log.Printf("Error listing subjects for %s: %v", population, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to retrieve subjects")
		return
	}
	if subjects == nil {
		subjects = []models.Subject{}
	}
	writeJSON(w, http.StatusOK, subjects)
}

// GetSubject returns one subject
func (sh *SubjectHandler) GetSubject(w http.ResponseWriter, r *http.Request) {
	subject, ok := sh.subjectFromURL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

// GetSubjectEvents returns the subject's visit history within an
// optional window (defaults to the last 30 days)
func (sh *SubjectHandler) GetSubjectEvents(w http.ResponseWriter, r *http.Request) {
	subject, ok := sh.subjectFromURL(w, r)
	if !ok {
		return
	}

	windowStart, windowEnd, ok := parseWindow(w, r, time.Now().AddDate(0, 0, -30), time.Now())
	if !ok {
		return
	}

	events, err := sh.Events.EventsOf(subject.ID, windowStart, windowEnd)
	if err != nil {
		log.Printf("Error listing events for subject %d: %v", subject.ID, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to retrieve events")
		return
	}
	if events == nil {
		events = []models.AttendanceEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetSubjectHours returns the worked/visit duration for the window
// (defaults to today)
func (sh *SubjectHandler) GetSubjectHours(w http.ResponseWriter, r *http.Request) {
	subject, ok := sh.subjectFromURL(w, r)
	if !ok {
		return
	}

	now := time.Now()
	defaultStart, defaultEnd := attendance.DayWindow(now)
	windowStart, windowEnd, ok := parseWindow(w, r, defaultStart, defaultEnd)
	if !ok {
		return
	}

	worked, err := sh.Ledger.HoursWorked(subject.ID, windowStart, windowEnd, now)
	if err != nil {
		if errors.Is(err, attendance.ErrInconsistentLedger) {
			// surfaced to the operator, never silently summed
			WriteAPIError(w, http.StatusConflict, CodeInconsistentLedger, err.Error())
			return
		}
		log.Printf("Error computing hours for subject %d: %v", subject.ID, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to compute hours")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject_id":   subject.ID,
		"window_start": windowStart,
		"window_end":   windowEnd,
		"seconds":      int64(worked.Seconds()),
		"hours":        worked.Hours(),
	})
}

func (sh *SubjectHandler) subjectFromURL(w http.ResponseWriter, r *http.Request) (*models.Subject, bool) {
	idStr := chi.URLParam(r, "subject_id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid subject ID format")
		return nil, false
	}

	subject, err := sh.Subjects.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, CodeNotFound, "Subject not found")
		} else {
			log.Printf("Error getting subject %d: %v", id, err)
			WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to retrieve subject")
		}
		return nil, false
	}
	return subject, true
}

// parseWindow reads optional RFC3339 'from'/'to' query params
func parseWindow(w http.ResponseWriter, r *http.Request, defaultStart, defaultEnd time.Time) (time.Time, time.Time, bool) {
	windowStart, windowEnd := defaultStart, defaultEnd
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "'from' must be RFC3339")
			return windowStart, windowEnd, false
		}
		windowStart = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "'to' must be RFC3339")
			return windowStart, windowEnd, false
		}
		windowEnd = t
	}
	return windowStart, windowEnd, true
}
