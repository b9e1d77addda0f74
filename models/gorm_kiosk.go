package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Kiosk represents a registered sign-in terminal. Kiosks authenticate
// with their device secret to obtain a short-lived JWT.
type Kiosk struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	SecretHash string    `gorm:"not null" json:"-"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (Kiosk) TableName() string {
	return "kiosks"
}

// SetSecret hashes the given device secret and sets it on the kiosk.
func (k *Kiosk) SetSecret(secret string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	k.SecretHash = string(hashed)
	return nil
}

// CheckSecret verifies the given secret against the stored hash.
func (k *Kiosk) CheckSecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)) == nil
}
