package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobDescription struct {
	ID              uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	Title           string    `gorm:"not null;type:VARCHAR(255)"`
	Company         string    `gorm:"type:VARCHAR(255)"`
	Description     string
	Requirements    string
	SectionRubric   datatypes.JSON
	RubricUpdatedAt *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}

type JobDescriptionList []JobDescription

func (jd JobDescription) String() string {
	val, _ := json.Marshal(jd)
	return string(val)
}
