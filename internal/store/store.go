package store

import (
	"context"

	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	JobDescription() JobDescription
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db             *gorm.DB
	job            Job
	jobDescription JobDescription
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:            NewJobStore(db),
		jobDescription: NewJobDescriptionStore(db),
		db:             db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) JobDescription() JobDescription {
	return s.jobDescription
}

// InitialMigration creates the schema with gorm. Postgres deployments use the goose migrations instead.
func (s *DataStore) InitialMigration(ctx context.Context) error {
	ctx, err := s.NewTransactionContext(ctx)
	if err != nil {
		return err
	}

	if err := FromContext(ctx).AutoMigrate(&model.Job{}, &model.JobDescription{}); err != nil {
		_, _ = Rollback(ctx)
		return err
	}

	_, err = Commit(ctx)
	return err
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
