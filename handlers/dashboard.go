package handlers

import (
	"net/http"

	"github.com/camden-git/kioskbackend/workers"
)

// DashboardHandler serves the cached aggregates maintained by the
// aggregates worker
type DashboardHandler struct {
	Aggregates *workers.AggregatesWorker
}

func (dh *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dh.Aggregates.Snapshot())
}
