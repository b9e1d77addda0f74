package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/kioskbackend/models"
	"gorm.io/gorm"
)

// KioskRepository handles database operations for Kiosk entities
type KioskRepository struct {
	DB *gorm.DB
}

// Ensure KioskRepository implements KioskRepositoryInterface
var _ KioskRepositoryInterface = (*KioskRepository)(nil)

// NewKioskRepository creates a new instance of KioskRepository
func NewKioskRepository(db *gorm.DB) *KioskRepository {
	return &KioskRepository{DB: db}
}

// Create creates a new kiosk record in the database
func (r *KioskRepository) Create(kiosk *models.Kiosk) error {
	if err := r.DB.Create(kiosk).Error; err != nil {
		return fmt.Errorf("failed to create kiosk %q: %w", kiosk.Name, err)
	}
	return nil
}

// GetByID retrieves a kiosk by its ID
func (r *KioskRepository) GetByID(id uint) (*models.Kiosk, error) {
	var kiosk models.Kiosk
	err := r.DB.First(&kiosk, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get kiosk by ID %d: %w", id, err)
	}
	return &kiosk, nil
}

// GetByName retrieves a kiosk by its unique name
func (r *KioskRepository) GetByName(name string) (*models.Kiosk, error) {
	var kiosk models.Kiosk
	err := r.DB.Where("name = ?", name).First(&kiosk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get kiosk %q: %w", name, err)
	}
	return &kiosk, nil
}

// TouchLastSeen records kiosk activity
func (r *KioskRepository) TouchLastSeen(id uint, at time.Time) error {
	result := r.DB.Model(&models.Kiosk{}).Where("id = ?", id).Update("last_seen_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to touch kiosk %d: %w", id, result.Error)
	}
	return nil
}
