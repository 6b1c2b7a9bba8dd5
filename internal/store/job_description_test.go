package store_test

import (
	"context"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/config"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("job description store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_descriptions;")
	})

	newJobDescription := func() model.JobDescription {
		return model.JobDescription{
			ID:           uuid.New(),
			Title:        "Backend Engineer",
			Company:      "Acme",
			Description:  "Build services",
			Requirements: "Go, SQL",
			CreatedAt:    baseTime,
			UpdatedAt:    baseTime,
		}
	}

	It("creates and reads a job description", func() {
		jd := newJobDescription()
		_, err := s.JobDescription().Create(context.TODO(), jd)
		Expect(err).To(BeNil())

		got, err := s.JobDescription().Get(context.TODO(), jd.ID)
		Expect(err).To(BeNil())
		Expect(got.Title).To(Equal("Backend Engineer"))
		Expect(got.SectionRubric).To(BeEmpty())
		Expect(got.RubricUpdatedAt).To(BeNil())
	})

	It("updates text fields without touching the rubric", func() {
		jd := newJobDescription()
		_, err := s.JobDescription().Create(context.TODO(), jd)
		Expect(err).To(BeNil())
		Expect(s.JobDescription().UpdateSectionRubric(context.TODO(), jd.ID, []byte(`{"sections":[{"name":"Skills","weight":1}]}`), baseTime)).To(Succeed())

		jd.Title = "Staff Engineer"
		jd.UpdatedAt = baseTime.Add(time.Hour)
		updated, err := s.JobDescription().Update(context.TODO(), jd)
		Expect(err).To(BeNil())
		Expect(updated.Title).To(Equal("Staff Engineer"))
		Expect(string(updated.SectionRubric)).To(MatchJSON(`{"sections":[{"name":"Skills","weight":1}]}`))
		Expect(updated.RubricUpdatedAt).NotTo(BeNil())
	})

	It("reports missing job descriptions", func() {
		_, err := s.JobDescription().Get(context.TODO(), uuid.New())
		Expect(err).To(MatchError(store.ErrRecordNotFound))

		err = s.JobDescription().UpdateSectionRubric(context.TODO(), uuid.New(), []byte(`{}`), baseTime)
		Expect(err).To(MatchError(store.ErrRecordNotFound))

		_, err = s.JobDescription().Update(context.TODO(), newJobDescription())
		Expect(err).To(MatchError(store.ErrRecordNotFound))
	})

	It("soft deletes", func() {
		jd := newJobDescription()
		_, err := s.JobDescription().Create(context.TODO(), jd)
		Expect(err).To(BeNil())

		Expect(s.JobDescription().Delete(context.TODO(), jd.ID)).To(Succeed())
		Expect(s.JobDescription().Delete(context.TODO(), jd.ID)).To(MatchError(store.ErrRecordNotFound))

		list, err := s.JobDescription().List(context.TODO(), 10, 0)
		Expect(err).To(BeNil())
		Expect(list).To(BeEmpty())
	})
})
