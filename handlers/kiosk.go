package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/repository"
)

const kioskTokenTTL = 24 * time.Hour

// KioskHandler covers kiosk device registration and token issuance
type KioskHandler struct {
	Kiosks repository.KioskRepositoryInterface
	JWTKey []byte
}

// RegisterKiosk creates a kiosk device record with a hashed secret
func (kh *KioskHandler) RegisterKiosk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.Secret) < 12 {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "name is required and secret must be at least 12 characters")
		return
	}

	kiosk := &models.Kiosk{Name: req.Name}
	if err := kiosk.SetSecret(req.Secret); err != nil {
		log.Printf("Error hashing secret for kiosk %q: %v", req.Name, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to register kiosk")
		return
	}
	if err := kh.Kiosks.Create(kiosk); err != nil {
		log.Printf("Error creating kiosk %q: %v", req.Name, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to register kiosk")
		return
	}

	writeJSON(w, http.StatusCreated, kiosk)
}

// IssueToken exchanges a kiosk's name and secret for a signed JWT
func (kh *KioskHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}

	kiosk, err := kh.Kiosks.GetByName(req.Name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Unknown kiosk or bad secret")
			return
		}
		log.Printf("Error loading kiosk %q: %v", req.Name, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to issue token")
		return
	}
	if !kiosk.CheckSecret(req.Secret) {
		WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Unknown kiosk or bad secret")
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   fmt.Sprint(kiosk.ID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(kioskTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(kh.JWTKey)
	if err != nil {
		log.Printf("Error signing token for kiosk %d: %v", kiosk.ID, err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      signed,
		"expires_at": now.Add(kioskTokenTTL),
	})
}
