package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/camden-git/kioskbackend/capture"
	"github.com/camden-git/kioskbackend/config"
	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/session"
)

// IdentifyHandler exposes the IdentifyAndRecord operation to kiosks
type IdentifyHandler struct {
	Coordinator *session.Coordinator
	Cfg         config.Config
}

type identifyRequest struct {
	Population string              `json:"population"`
	Intent     string              `json:"intent"` // sign_in, sign_out or auto (default)
	Embedding  []float32           `json:"embedding,omitempty"`
	Frame      string              `json:"frame,omitempty"` // base64 image, requires the extractor service
	Confirmed  bool                `json:"confirmed"`
	Reason     *string             `json:"reason,omitempty"`
	VehicleReg *string             `json:"vehicle_reg,omitempty"`
	Enroll     *session.Enrollment `json:"enroll,omitempty"`
}

// Identify runs one identification attempt. Recoverable conditions
// (no face, no match, needs confirmation) come back as 200 outcomes;
// the kiosk routes its screens off the outcome code.
func (ih *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}

	population := models.Population(req.Population)
	if !population.Valid() {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "population must be 'visitor' or 'staff'")
		return
	}

	intent := session.Intent(req.Intent)
	switch intent {
	case session.IntentSignIn, session.IntentSignOut, session.IntentAuto:
	case "":
		intent = session.IntentAuto
	default:
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "intent must be 'sign_in', 'sign_out' or 'auto'")
		return
	}

	src, ok := ih.captureSource(w, &req)
	if !ok {
		return
	}

	coordReq := session.Request{
		Population: population,
		Intent:     intent,
		Confirmed:  req.Confirmed,
		Reason:     req.Reason,
		VehicleReg: req.VehicleReg,
		Enroll:     req.Enroll,
	}
	if kiosk := kioskFromContext(r.Context()); kiosk != nil {
		coordReq.KioskID = &kiosk.ID
	}

	outcome, err := ih.Coordinator.Identify(r.Context(), src, coordReq)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrWriteConflict):
			WriteAPIError(w, http.StatusConflict, CodeConflict, "Could not record transition, please retry")
		case errors.Is(err, r.Context().Err()):
			// client went away mid-attempt; nothing was written
			return
		default:
			log.Printf("Error identifying against population %s: %v", population, err)
			WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Identification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// captureSource picks the capture collaborator for this request: a
// kiosk-supplied embedding, or a frame for the extractor sidecar.
func (ih *IdentifyHandler) captureSource(w http.ResponseWriter, req *identifyRequest) (capture.Source, bool) {
	if len(req.Embedding) > 0 {
		if len(req.Embedding) != ih.Cfg.EmbeddingDimension {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest,
				"embedding has wrong dimension")
			return nil, false
		}
		return capture.StaticSource(req.Embedding), true
	}

	if req.Frame != "" {
		if ih.Cfg.ExtractorURL == "" {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "frame uploads require an extractor service")
			return nil, false
		}
		frame, err := base64.StdEncoding.DecodeString(req.Frame)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "frame must be base64 encoded")
			return nil, false
		}
		return &capture.RemoteExtractor{
			URL:        ih.Cfg.ExtractorURL,
			Frame:      frame,
			SettleTime: ih.Cfg.CaptureSettleTime,
		}, true
	}

	// no embedding and no frame: treat as a failed capture so the
	// kiosk gets the manual-fallback outcome rather than an error
	return capture.StaticSource(nil), true
}
