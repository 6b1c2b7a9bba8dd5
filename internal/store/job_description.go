package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobDescription interface {
	Create(ctx context.Context, jd model.JobDescription) (*model.JobDescription, error)
	Get(ctx context.Context, id uuid.UUID) (*model.JobDescription, error)
	List(ctx context.Context, limit, offset int) (model.JobDescriptionList, error)
	Update(ctx context.Context, jd model.JobDescription) (*model.JobDescription, error)
	UpdateSectionRubric(ctx context.Context, id uuid.UUID, rubric []byte, now time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type JobDescriptionStore struct {
	db *gorm.DB
}

var _ JobDescription = (*JobDescriptionStore)(nil)

func NewJobDescriptionStore(db *gorm.DB) JobDescription {
	return &JobDescriptionStore{db: db}
}

func (s *JobDescriptionStore) Create(ctx context.Context, jd model.JobDescription) (*model.JobDescription, error) {
	if err := s.getDB(ctx, "job_description_create").Create(&jd).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job description: %w", err)
	}
	return &jd, nil
}

func (s *JobDescriptionStore) Get(ctx context.Context, id uuid.UUID) (*model.JobDescription, error) {
	var jd model.JobDescription
	if err := s.getDB(ctx, "job_description_get").First(&jd, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job description: %w", err)
	}
	return &jd, nil
}

func (s *JobDescriptionStore) List(ctx context.Context, limit, offset int) (model.JobDescriptionList, error) {
	var list model.JobDescriptionList
	tx := s.getDB(ctx, "job_description_list").Model(&list).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit).Offset(offset)
	}
	if err := tx.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("listing job descriptions: %w", err)
	}
	return list, nil
}

// Update overwrites the editable text fields. The rubric is only written by UpdateSectionRubric.
func (s *JobDescriptionStore) Update(ctx context.Context, jd model.JobDescription) (*model.JobDescription, error) {
	result := s.getDB(ctx, "job_description_update").Model(&model.JobDescription{}).Where("id = ?", jd.ID).Updates(map[string]any{
		"title":        jd.Title,
		"company":      jd.Company,
		"description":  jd.Description,
		"requirements": jd.Requirements,
		"updated_at":   jd.UpdatedAt,
	})
	if result.Error != nil {
		return nil, fmt.Errorf("updating job description: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, jd.ID)
}

func (s *JobDescriptionStore) UpdateSectionRubric(ctx context.Context, id uuid.UUID, rubric []byte, now time.Time) error {
	result := s.getDB(ctx, "job_description_update_section_rubric").Model(&model.JobDescription{}).Where("id = ?", id).Updates(map[string]any{
		"section_rubric":    rubric,
		"rubric_updated_at": now,
		"updated_at":        now,
	})
	if result.Error != nil {
		return fmt.Errorf("updating section rubric: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobDescriptionStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.getDB(ctx, "job_description_delete").Delete(&model.JobDescription{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting job description: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// getDB tags the queries with op so the driver metrics can tell the store methods apart.
func (s *JobDescriptionStore) getDB(ctx context.Context, op string) *gorm.DB {
	ctx = withOperation(ctx, op)
	if tx := FromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}
