package repository

import (
	"errors"
	"fmt"

	"github.com/camden-git/kioskbackend/models"
	"gorm.io/gorm"
)

// SubjectRepository handles database operations for Subject entities
type SubjectRepository struct {
	DB *gorm.DB
}

// Ensure SubjectRepository implements SubjectRepositoryInterface
var _ SubjectRepositoryInterface = (*SubjectRepository)(nil)

// NewSubjectRepository creates a new instance of SubjectRepository
func NewSubjectRepository(db *gorm.DB) *SubjectRepository {
	return &SubjectRepository{DB: db}
}

// Create creates a new subject record in the database
func (r *SubjectRepository) Create(subject *models.Subject) error {
	if err := r.DB.Create(subject).Error; err != nil {
		return fmt.Errorf("failed to create subject %q: %w", subject.DisplayName, err)
	}
	return nil
}

// GetByID retrieves a subject by its ID
func (r *SubjectRepository) GetByID(id uint) (*models.Subject, error) {
	var subject models.Subject
	err := r.DB.First(&subject, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get subject by ID %d: %w", id, err)
	}
	return &subject, nil
}

// GetByName retrieves a subject by display name within a population.
// Used by enrollment to reattach a returning person to their record.
func (r *SubjectRepository) GetByName(population models.Population, displayName string) (*models.Subject, error) {
	var subject models.Subject
	err := r.DB.Where("population = ? AND display_name = ?", population, displayName).First(&subject).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get subject %q in population %s: %w", displayName, population, err)
	}
	return &subject, nil
}

// ListByPopulation retrieves all subjects enrolled in a population.
// This is the gallery snapshot read; it runs once per match attempt.
func (r *SubjectRepository) ListByPopulation(population models.Population) ([]models.Subject, error) {
	var subjects []models.Subject
	err := r.DB.Where("population = ?", population).Find(&subjects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects for population %s: %w", population, err)
	}
	return subjects, nil
}

// Update updates a subject's attributes
func (r *SubjectRepository) Update(subject *models.Subject) error {
	result := r.DB.Model(&models.Subject{ID: subject.ID}).Updates(map[string]interface{}{
		"display_name": subject.DisplayName,
		"company":      subject.Company,
		"role":         subject.Role,
		"email":        subject.Email,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update subject ID %d: %w", subject.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetEmbedding attaches a captured embedding to an existing subject
// (e.g. a pre-registered visitor matched for the first time)
func (r *SubjectRepository) SetEmbedding(id uint, embeddingData []byte) error {
	result := r.DB.Model(&models.Subject{ID: id}).Update("embedding_data", embeddingData)
	if result.Error != nil {
		return fmt.Errorf("failed to set embedding for subject ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountByPopulation returns the number of enrolled subjects
func (r *SubjectRepository) CountByPopulation(population models.Population) (int64, error) {
	var count int64
	err := r.DB.Model(&models.Subject{}).Where("population = ?", population).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count subjects for population %s: %w", population, err)
	}
	return count, nil
}

// CountPresent returns the number of subjects currently signed in
func (r *SubjectRepository) CountPresent(population models.Population) (int64, error) {
	var count int64
	err := r.DB.Model(&models.Subject{}).
		Where("population = ? AND currently_present = ?", population, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count present subjects for population %s: %w", population, err)
	}
	return count, nil
}
