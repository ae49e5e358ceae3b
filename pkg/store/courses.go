package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- course linkage ---

// CreateCourseLink records a rerun relationship. The (course, base) pair is
// unique.
func (s *Store) CreateCourseLink(link *CourseLink) error {
	if err := s.db.Create(link).Error; err != nil {
		return fmt.Errorf("create course link %s -> %s: %w", link.CourseID, link.BaseCourseID, err)
	}
	return nil
}

// SaveCourseLink persists all fields of an existing course link.
func (s *Store) SaveCourseLink(link *CourseLink) error {
	if err := s.db.Save(link).Error; err != nil {
		return fmt.Errorf("save course link %d: %w", link.ID, err)
	}
	return nil
}

// CourseLinkForCourse retrieves the link naming courseID as the translated
// rerun. Returns nil, nil when the course is not a rerun.
func (s *Store) CourseLinkForCourse(courseID string) (*CourseLink, error) {
	var link CourseLink
	err := s.db.Where("course_id = ?", courseID).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get course link for %s: %w", courseID, err)
	}
	return &link, nil
}

// CourseLinksForBase lists all rerun links of a base course.
func (s *Store) CourseLinksForBase(baseCourseID string) ([]CourseLink, error) {
	var links []CourseLink
	err := s.db.Where("base_course_id = ?", baseCourseID).Order("id").Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list course links for base %s: %w", baseCourseID, err)
	}
	return links, nil
}

// --- sync runs ---

// StartSyncRun records the beginning of a batch job and returns the run.
func (s *Store) StartSyncRun(kind string) (*SyncRun, error) {
	run := &SyncRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("start %s run: %w", kind, err)
	}
	return run, nil
}

// FinishSyncRun stamps the end of a run with its outcome counts.
func (s *Store) FinishSyncRun(run *SyncRun, succeeded, failed int) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Succeeded = succeeded
	run.Failed = failed
	if err := s.db.Save(run).Error; err != nil {
		return fmt.Errorf("finish %s run: %w", run.Kind, err)
	}
	return nil
}

// RecentSyncRuns lists the most recent runs, newest first.
func (s *Store) RecentSyncRuns(limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []SyncRun
	err := s.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

// LastSyncRun returns the most recent finished run of one kind, or nil, nil
// when none exists.
func (s *Store) LastSyncRun(kind string) (*SyncRun, error) {
	var run SyncRun
	err := s.db.Where("kind = ? AND finished_at IS NOT NULL", kind).
		Order("started_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last %s run: %w", kind, err)
	}
	return &run, nil
}
