package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/repository"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// KioskContextKey is the key used to store the kiosk object in the request context.
const KioskContextKey ContextKey = "kiosk"

// KioskAuthMiddleware verifies the kiosk's bearer token and, if valid,
// fetches the kiosk record and adds it to the request context.
func KioskAuthMiddleware(kioskRepo repository.KioskRepositoryInterface, jwtKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Authorization header required")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Authorization header format must be Bearer {token}")
				return
			}
			tokenString := parts[1]

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return jwtKey, nil
			})
			if err != nil || !token.Valid {
				WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid token")
				return
			}

			var kioskID uint
			if _, err := fmt.Sscan(claims.Subject, &kioskID); err != nil {
				log.Printf("auth: malformed kiosk id in token subject %q: %v", claims.Subject, err)
				WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid kiosk ID in token")
				return
			}

			kiosk, err := kioskRepo.GetByID(kioskID)
			if err != nil {
				// the kiosk may have been deregistered after the token was issued
				WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Kiosk not found")
				return
			}

			if err := kioskRepo.TouchLastSeen(kiosk.ID, time.Now()); err != nil {
				log.Printf("auth: failed to touch kiosk %d: %v", kiosk.ID, err)
			}

			ctx := context.WithValue(r.Context(), KioskContextKey, kiosk)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// kioskFromContext returns the authenticated kiosk, or nil on
// unauthenticated routes.
func kioskFromContext(ctx context.Context) *models.Kiosk {
	kiosk, _ := ctx.Value(KioskContextKey).(*models.Kiosk)
	return kiosk
}
