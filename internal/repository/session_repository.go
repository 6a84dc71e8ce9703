package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"document-portal/internal/model"
)

// SessionRepository records the sessions created on disk so they can be listed
// without walking the storage roots.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save inserts the record or, for a reused id, refreshes its index stats.
func (r *SessionRepository) Save(record *model.SessionRecord) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"dimension", "chunk_count", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("save session record failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(id string) (*model.SessionRecord, error) {
	var record model.SessionRecord
	if err := r.db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session record failed: %w", err)
	}
	return &record, nil
}

// ListByKind returns records newest first; an empty kind lists every kind.
func (r *SessionRepository) ListByKind(kind string, limit int) ([]model.SessionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.Order("created_at DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var records []model.SessionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list session records failed: %w", err)
	}
	return records, nil
}

func (r *SessionRepository) Delete(id string) error {
	if err := r.db.Where("id = ?", id).Delete(&model.SessionRecord{}).Error; err != nil {
		return fmt.Errorf("delete session record failed: %w", err)
	}
	return nil
}
