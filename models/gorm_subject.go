package models

import (
	"math"
	"time"

	"gorm.io/gorm"
)

// Population identifies which gallery a subject is enrolled in.
type Population string

const (
	PopulationVisitor Population = "visitor"
	PopulationStaff   Population = "staff"
)

// Valid reports whether p is one of the known populations.
func (p Population) Valid() bool {
	return p == PopulationVisitor || p == PopulationStaff
}

// Subject represents an enrolled person (visitor or staff member).
// It corresponds to the 'subjects' table.
//
// CurrentlyPresent is a cache derived from the latest attendance event;
// the event log is the source of truth. It is only ever flipped through
// the conditional RecordTransition write.
type Subject struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	DisplayName   string     `gorm:"not null;index" json:"display_name"`
	Population    Population `gorm:"not null;index;default:'visitor'" json:"population"`
	Company       *string    `json:"company,omitempty"`
	Role          *string    `json:"role,omitempty"`
	Email         *string    `json:"email,omitempty"`
	EmbeddingData []byte     `gorm:"column:embedding_data" json:"-"` // face embedding vector as BLOB; nil until captured

	CurrentlyPresent bool       `gorm:"not null;default:false;index" json:"currently_present"`
	LastTransitionAt *time.Time `json:"last_transition_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Subject) TableName() string {
	return "subjects"
}

// GetEmbedding converts the BLOB data to []float32
func (s *Subject) GetEmbedding() []float32 {
	if len(s.EmbeddingData) == 0 {
		return nil
	}

	embedding := make([]float32, len(s.EmbeddingData)/4) // 4 bytes per float32
	for i := 0; i < len(embedding); i++ {
		offset := i * 4
		bits := uint32(s.EmbeddingData[offset]) |
			uint32(s.EmbeddingData[offset+1])<<8 |
			uint32(s.EmbeddingData[offset+2])<<16 |
			uint32(s.EmbeddingData[offset+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// SetEmbedding converts []float32 to BLOB data
func (s *Subject) SetEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		s.EmbeddingData = nil
		return
	}

	s.EmbeddingData = make([]byte, len(embedding)*4) // 4 bytes per float32
	for i, val := range embedding {
		offset := i * 4
		bits := math.Float32bits(val)
		s.EmbeddingData[offset] = byte(bits)
		s.EmbeddingData[offset+1] = byte(bits >> 8)
		s.EmbeddingData[offset+2] = byte(bits >> 16)
		s.EmbeddingData[offset+3] = byte(bits >> 24)
	}
}

// HasEmbedding reports whether the subject has a captured embedding.
// Pre-registered subjects may not have one yet.
func (s *Subject) HasEmbedding() bool {
	return len(s.EmbeddingData) > 0
}
